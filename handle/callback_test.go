package handle

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/heap"
)

type delivery struct {
	callback ffibridge.Ref
	thread   ffibridge.ThreadID
	value    any
	result   string
}

func TestCallback_DeliversOnce(t *testing.T) {
	vm := newVM(t)
	tr := trackRefs(vm)
	env := lockThread(t, vm)
	obj := env.NewObject(env.DefineClass("com/example/Callback"), "listener")

	var got []delivery
	cb := NewCallback(vm, func(env ffibridge.Env, callback ffibridge.Ref, result string) {
		value, _ := env.(*heap.Env).Object(callback)
		got = append(got, delivery{callback: callback, thread: env.Thread(), value: value, result: result})
	}, obj)
	require.False(t, cb.Inert())
	ref := cb.Ref()
	assert.Equal(t, ffibridge.GlobalRef, heap.KindOf(ref))

	assert.True(t, cb.Complete("first"))
	assert.False(t, cb.Complete("second"))
	require.Len(t, got, 1)
	assert.Equal(t, delivery{callback: ref, thread: env.Thread(), value: "listener", result: "first"}, got[0])

	cb.Close()
	cb.Close()
	assert.Len(t, tr.deletions(ref), 1)
	assert.True(t, cb.Inert())
	assert.Equal(t, 0, vm.Stats().Globals)
	assert.Empty(t, vm.Violations())
}

func TestCallback_CompleteOnAnotherThread(t *testing.T) {
	requireThreadIdentity(t)
	vm := newVM(t)
	env := lockThread(t, vm)
	obj := env.NewObject(env.DefineClass("com/example/Callback"), 7)

	var got delivery
	cb := NewCallback(vm, func(env ffibridge.Env, callback ffibridge.Ref, result string) {
		value, _ := env.(*heap.Env).Object(callback)
		got = delivery{callback: callback, thread: env.Thread(), value: value, result: result}
	}, obj)
	defer cb.Close()

	done := make(chan bool)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		done <- cb.Complete("async")
	}()
	require.True(t, <-done)

	assert.NotEqual(t, env.Thread(), got.thread)
	assert.Equal(t, 7, got.value)
	assert.Equal(t, "async", got.result)
}

func TestCallback_NoDeliveryAfterClose(t *testing.T) {
	vm := newVM(t)
	env := lockThread(t, vm)
	obj := env.NewObject(env.DefineClass("com/example/Callback"), nil)

	calls := 0
	cb := NewCallback(vm, func(ffibridge.Env, ffibridge.Ref, int) { calls++ }, obj)
	cb.Close()

	assert.False(t, cb.Complete(1))
	assert.Equal(t, 0, calls)
	assert.Equal(t, uint64(1), vm.Stats().GlobalsDeleted)
}

func TestCallback_InertOnResolveFailure(t *testing.T) {
	logs := observeLogs(t)
	env := newRecordingEnv()

	// Resolution fails only while the bridge is being built.
	var resolves atomic.Int32
	resolver := ffibridge.ResolverFunc(func(tid ffibridge.ThreadID) (ffibridge.Env, error) {
		if resolves.Add(1) == 1 {
			return failingResolver(tid)
		}
		return env, nil
	})

	calls := 0
	cb := NewCallback(resolver, func(ffibridge.Env, ffibridge.Ref, int) { calls++ }, 0x10)
	assert.True(t, cb.Inert())
	assert.True(t, cb.Done())
	assert.Equal(t, ffibridge.NullRef, cb.Ref())
	assert.False(t, cb.Complete(1))
	cb.Close()
	cb.Close()

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, env.count("NewGlobalRef"))
	assert.Equal(t, 0, env.count("DeleteGlobalRef"))
	assert.Equal(t, 0, env.total())
	assert.Equal(t, int32(1), resolves.Load())
	assert.Equal(t, 1, logs.FilterMessage("callback inert: no environment for thread").Len())
}

func TestCallback_InertOnNullGlobal(t *testing.T) {
	logs := observeLogs(t)
	env := newRecordingEnv()
	env.global = ffibridge.NullRef
	resolver := ffibridge.ResolverFunc(func(ffibridge.ThreadID) (ffibridge.Env, error) {
		return env, nil
	})

	cb := NewCallback(resolver, func(ffibridge.Env, ffibridge.Ref, int) {}, 0x10)
	assert.True(t, cb.Inert())
	assert.False(t, cb.Complete(1))
	cb.Close()

	assert.Equal(t, 1, env.count("NewGlobalRef"))
	assert.Equal(t, 0, env.count("DeleteGlobalRef"))
	assert.Equal(t, 1, logs.FilterMessage("callback inert: global reference not created").Len())
}

func TestCallback_LeaksWhenCloseCannotResolve(t *testing.T) {
	logs := observeLogs(t)
	env := newRecordingEnv()
	var detached atomic.Bool
	resolver := ffibridge.ResolverFunc(func(tid ffibridge.ThreadID) (ffibridge.Env, error) {
		if detached.Load() {
			return failingResolver(tid)
		}
		return env, nil
	})

	cb := NewCallback(resolver, func(ffibridge.Env, ffibridge.Ref, int) {}, 0x10)
	require.False(t, cb.Inert())

	detached.Store(true)
	assert.False(t, cb.Complete(1))
	assert.NotPanics(t, cb.Close)
	cb.Close()

	assert.Equal(t, 0, env.count("DeleteGlobalRef"))
	assert.Equal(t, 1, logs.FilterMessage("callback not delivered: no environment for thread").Len())
	assert.Equal(t, 1, logs.FilterMessage("leaking callback reference: no environment for thread").Len())
}

func TestCallback_FailedResolveDoesNotConsumeDelivery(t *testing.T) {
	observeLogs(t)
	env := newRecordingEnv()
	var detached atomic.Bool
	resolver := ffibridge.ResolverFunc(func(tid ffibridge.ThreadID) (ffibridge.Env, error) {
		if detached.Load() {
			return failingResolver(tid)
		}
		return env, nil
	})

	calls := 0
	cb := NewCallback(resolver, func(ffibridge.Env, ffibridge.Ref, int) { calls++ }, 0x10)
	defer cb.Close()

	detached.Store(true)
	assert.False(t, cb.Complete(1))
	detached.Store(false)
	assert.True(t, cb.Complete(2))
	assert.Equal(t, 1, calls)
}

func TestCallback_ConcurrentCompleteAndClose(t *testing.T) {
	env := newRecordingEnv()
	resolver := ffibridge.ResolverFunc(func(ffibridge.ThreadID) (ffibridge.Env, error) {
		return env, nil
	})

	var calls atomic.Int32
	cb := NewCallback(resolver, func(ffibridge.Env, ffibridge.Ref, int) { calls.Add(1) }, 0x10)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				cb.Complete(i)
			} else {
				cb.Close()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(1))
	assert.Equal(t, 1, env.count("DeleteGlobalRef"))
}

// Every bridge lives on its own locked OS thread. All threads are alive at
// once, so each has a distinct identity and Env.
func TestCallback_ConcurrentBridges(t *testing.T) {
	requireThreadIdentity(t)
	const n = 64

	vm := newVM(t)
	tr := trackRefs(vm)

	results := make([]int, n)
	refs := make([]ffibridge.Ref, n)
	threads := make([]ffibridge.ThreadID, n)

	var ready sync.WaitGroup
	ready.Add(n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			resolved, err := ffibridge.Current(vm)
			if err != nil {
				ready.Done()
				return err
			}
			env := resolved.(*heap.Env)
			obj := env.NewObject(env.DefineClass("com/example/Callback"), i)

			cb := NewCallback(vm, func(env ffibridge.Env, callback ffibridge.Ref, result int) {
				if value, _ := env.(*heap.Env).Object(callback); value == i {
					results[i] = result
				}
			}, obj)
			refs[i] = cb.Ref()
			threads[i] = env.Thread()

			ready.Done()
			ready.Wait()

			if !cb.Complete(i * 10) {
				return fmt.Errorf("bridge %d: not delivered", i)
			}
			cb.Close()
			return vm.Detach(env.Thread())
		})
	}
	require.NoError(t, g.Wait())

	seenRefs := make(map[ffibridge.Ref]bool)
	seenThreads := make(map[ffibridge.ThreadID]bool)
	for i := 0; i < n; i++ {
		assert.Equal(t, i*10, results[i], "bridge %d", i)
		assert.NotEqual(t, ffibridge.NullRef, refs[i])
		assert.False(t, seenRefs[refs[i]], "ref %#x aliased", refs[i])
		assert.False(t, seenThreads[threads[i]], "thread %d reused", threads[i])
		seenRefs[refs[i]] = true
		seenThreads[threads[i]] = true
		assert.Equal(t, []ffibridge.ThreadID{threads[i]}, tr.deletions(refs[i]))
	}

	st := vm.Stats()
	assert.Equal(t, 0, st.Globals)
	assert.Equal(t, uint64(n), st.GlobalsCreated)
	assert.Equal(t, uint64(n), st.GlobalsDeleted)
	assert.Equal(t, 0, st.Threads)
	assert.Empty(t, vm.Violations())
}
