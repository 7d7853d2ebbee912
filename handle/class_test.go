package handle

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	ffibridge "github.com/wippyai/ffi-bridge"
)

func TestClassRef_CloseOnSameThread(t *testing.T) {
	vm := newVM(t)
	tr := trackRefs(vm)
	env := lockThread(t, vm)

	global := env.NewGlobalRef(env.DefineClass("java/lang/String"))
	require.NotEqual(t, ffibridge.NullRef, global)

	c := NewClassRef(vm, global)
	assert.Equal(t, global, c.Ref())
	c.Close()
	c.Close()

	assert.Equal(t, ffibridge.NullRef, c.Ref())
	assert.Equal(t, []ffibridge.ThreadID{env.Thread()}, tr.deletions(global))
	assert.Equal(t, 0, vm.Stats().Globals)
	assert.Empty(t, vm.Violations())
}

func TestClassRef_CloseOnAnotherThread(t *testing.T) {
	requireThreadIdentity(t)
	vm := newVM(t)
	tr := trackRefs(vm)
	env := lockThread(t, vm)

	global := env.NewGlobalRef(env.DefineClass("com/example/Listener"))
	c := NewClassRef(vm, global)

	closer := make(chan ffibridge.ThreadID)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		c.Close()
		closer <- ffibridge.CurrentThread()
	}()
	tid := <-closer

	require.NotEqual(t, env.Thread(), tid)
	assert.Equal(t, []ffibridge.ThreadID{tid}, tr.deletions(global))
	assert.Equal(t, 0, vm.Stats().Globals)
	assert.Equal(t, 2, vm.Stats().Threads)
	assert.Empty(t, vm.Violations())
}

func TestClassRef_ResolveFailureLeaks(t *testing.T) {
	logs := observeLogs(t)

	c := NewClassRef(failingResolver, 0x1002)
	assert.NotPanics(t, c.Close)
	c.Close()

	entries := logs.FilterMessage("leaking class reference: no environment for thread").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, uint64(0x1002), entries[0].ContextMap()["ref"])
}

func TestClassRef_NilResolver(t *testing.T) {
	logs := observeLogs(t)

	c := NewClassRef(nil, 0x1002)
	assert.NotPanics(t, c.Close)
	assert.Equal(t, 1, logs.Len())
}

func TestClassRef_NullRefReleasesNothing(t *testing.T) {
	env := newRecordingEnv()
	resolver := ffibridge.ResolverFunc(func(ffibridge.ThreadID) (ffibridge.Env, error) {
		return env, nil
	})

	NewClassRef(resolver, ffibridge.NullRef).Close()
	assert.Equal(t, 0, env.total())
}
