package handle

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/heap"
)

func newVM(t *testing.T) *heap.VM {
	t.Helper()
	vm := heap.New()
	t.Cleanup(func() { _ = vm.Close() })
	return vm
}

func attach(t *testing.T, vm *heap.VM, tid ffibridge.ThreadID) *heap.Env {
	t.Helper()
	env, err := vm.Attach(tid)
	require.NoError(t, err)
	return env
}

// lockThread pins the test goroutine to its OS thread and returns the Env
// attached to it.
func lockThread(t *testing.T, vm *heap.VM) *heap.Env {
	t.Helper()
	runtime.LockOSThread()
	t.Cleanup(runtime.UnlockOSThread)
	return attach(t, vm, ffibridge.CurrentThread())
}

// observeLogs routes the package logger into an in-memory core for the
// duration of the test.
func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(zap.NewNop()) })
	return logs
}

// failingResolver never yields an Env.
var failingResolver = ffibridge.ResolverFunc(func(tid ffibridge.ThreadID) (ffibridge.Env, error) {
	return nil, errors.EnvUnavailable(tid, nil)
})

// recordingEnv is an ffibridge.Env that records every boundary call.
type recordingEnv struct {
	calls  map[string]int
	global ffibridge.Ref
	chars  []byte
	elems  []int8
	mu     sync.Mutex
}

func newRecordingEnv() *recordingEnv {
	return &recordingEnv{calls: make(map[string]int), global: 0x1000}
}

var _ ffibridge.Env = (*recordingEnv)(nil)

func (e *recordingEnv) record(name string) {
	e.mu.Lock()
	e.calls[name]++
	e.mu.Unlock()
}

func (e *recordingEnv) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[name]
}

func (e *recordingEnv) total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		n += c
	}
	return n
}

func (e *recordingEnv) Thread() ffibridge.ThreadID {
	return ffibridge.CurrentThread()
}

func (e *recordingEnv) AcquireStringData(ffibridge.Ref) []byte {
	e.record("AcquireStringData")
	return e.chars
}

func (e *recordingEnv) ReleaseStringData(ffibridge.Ref, []byte) {
	e.record("ReleaseStringData")
}

func (e *recordingEnv) AcquireBufferData(ffibridge.Ref) []int8 {
	e.record("AcquireBufferData")
	return e.elems
}

func (e *recordingEnv) ReleaseBufferData(ffibridge.Ref, []int8, ffibridge.ReleaseMode) {
	e.record("ReleaseBufferData")
}

func (e *recordingEnv) NewString([]byte) ffibridge.Ref {
	e.record("NewString")
	return 0x10
}

func (e *recordingEnv) NewGlobalRef(ffibridge.Ref) ffibridge.Ref {
	e.record("NewGlobalRef")
	return e.global
}

func (e *recordingEnv) DeleteGlobalRef(ffibridge.Ref) {
	e.record("DeleteGlobalRef")
}

func (e *recordingEnv) DeleteLocalRef(ffibridge.Ref) {
	e.record("DeleteLocalRef")
}

// refTracker counts global reference lifecycle events per reference.
type refTracker struct {
	created map[ffibridge.Ref]ffibridge.ThreadID
	deleted map[ffibridge.Ref][]ffibridge.ThreadID
	mu      sync.Mutex
}

func trackRefs(vm *heap.VM) *refTracker {
	tr := &refTracker{
		created: make(map[ffibridge.Ref]ffibridge.ThreadID),
		deleted: make(map[ffibridge.Ref][]ffibridge.ThreadID),
	}
	vm.Subscribe(tr)
	return tr
}

func (tr *refTracker) OnEvent(e heap.Event) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	switch e.Type {
	case heap.EventGlobalCreated:
		tr.created[e.Ref] = e.Thread
	case heap.EventGlobalDeleted:
		tr.deleted[e.Ref] = append(tr.deleted[e.Ref], e.Thread)
	}
}

func (tr *refTracker) deletions(r ffibridge.Ref) []ffibridge.ThreadID {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]ffibridge.ThreadID(nil), tr.deleted[r]...)
}

// requireThreadIdentity skips tests that need a distinct id per OS thread.
func requireThreadIdentity(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("OS thread ids are only distinct on linux")
	}
}
