package handle

import (
	"sync"

	"go.uber.org/zap"

	ffibridge "github.com/wippyai/ffi-bridge"
)

// Completion delivers result into the managed callback object. It runs on the
// completing thread with that thread's Env.
type Completion[T any] func(env ffibridge.Env, callback ffibridge.Ref, result T)

// Sink receives the result of one native operation.
type Sink[T any] interface {
	// Complete delivers result and reports whether it was accepted.
	Complete(result T) bool
}

// SinkFunc adapts a function to Sink.
type SinkFunc[T any] func(result T) bool

func (f SinkFunc[T]) Complete(result T) bool {
	return f(result)
}

// Callback pairs a global reference to a managed callback object with the
// completion that delivers native results into it. The result is delivered
// at most once and never after Close.
//
// Complete and Close are safe to call concurrently. The completion runs with
// the bridge locked, so it must not call methods on its own bridge.
type Callback[T any] struct {
	_         noCopy
	resolver  ffibridge.Resolver
	complete  Completion[T]
	ref       ffibridge.Ref
	mu        sync.Mutex
	delivered bool
	closed    bool
}

var _ Sink[struct{}] = (*Callback[struct{}])(nil)

// NewCallback promotes obj to a global reference on the calling thread.
// When the thread has no Env, or promotion fails, the returned bridge is
// inert: it never delivers and Close releases nothing.
func NewCallback[T any](resolver ffibridge.Resolver, complete Completion[T], obj ffibridge.Ref) *Callback[T] {
	cb := &Callback[T]{resolver: resolver, complete: complete}

	env, tid, err := currentEnv(resolver)
	if err != nil {
		Logger().Error("callback inert: no environment for thread",
			zap.Uint64("thread", uint64(tid)),
			zap.Error(err))
		return cb
	}

	cb.ref = env.NewGlobalRef(obj)
	if cb.ref == ffibridge.NullRef {
		Logger().Error("callback inert: global reference not created",
			zap.Uint64("thread", uint64(tid)),
			zap.Uint64("object", uint64(obj)))
	}
	return cb
}

// Ref returns the global callback reference. It is NullRef for an inert or
// closed bridge.
func (c *Callback[T]) Ref() ffibridge.Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ref
}

// Inert reports whether the bridge holds no callback reference.
func (c *Callback[T]) Inert() bool {
	return c.Ref() == ffibridge.NullRef
}

// Done reports whether the bridge can no longer deliver: it is inert, closed
// or has already delivered.
func (c *Callback[T]) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.delivered || c.ref == ffibridge.NullRef
}

// Complete delivers result through the completing thread's Env. It returns
// false if the bridge is inert, closed or already delivered, or if the
// calling thread has no Env. A failed resolution does not consume the
// delivery.
func (c *Callback[T]) Complete(result T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.delivered || c.ref == ffibridge.NullRef {
		return false
	}

	env, tid, err := currentEnv(c.resolver)
	if err != nil {
		Logger().Error("callback not delivered: no environment for thread",
			zap.Uint64("thread", uint64(tid)),
			zap.Uint64("ref", uint64(c.ref)),
			zap.Error(err))
		return false
	}

	c.delivered = true
	if c.complete != nil {
		c.complete(env, c.ref, result)
	}
	return true
}

// Close deletes the global callback reference through the calling thread's
// Env. If no Env can be resolved the reference is leaked and the failure
// logged. Further calls do nothing.
func (c *Callback[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	ref := c.ref
	c.ref = ffibridge.NullRef
	if ref == ffibridge.NullRef {
		return
	}

	env, tid, err := currentEnv(c.resolver)
	if err != nil {
		Logger().Error("leaking callback reference: no environment for thread",
			zap.Uint64("thread", uint64(tid)),
			zap.Uint64("ref", uint64(ref)),
			zap.Error(err))
		return
	}
	env.DeleteGlobalRef(ref)
}
