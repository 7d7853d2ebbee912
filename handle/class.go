package handle

import (
	"sync"

	"go.uber.org/zap"

	ffibridge "github.com/wippyai/ffi-bridge"
)

// ClassRef owns a global reference to a managed class. It may be closed on
// any attached thread.
type ClassRef struct {
	_        noCopy
	resolver ffibridge.Resolver
	ref      ffibridge.Ref
	mu       sync.Mutex
	closed   bool
}

// NewClassRef takes ownership of an existing global class reference.
func NewClassRef(resolver ffibridge.Resolver, global ffibridge.Ref) *ClassRef {
	return &ClassRef{resolver: resolver, ref: global}
}

// Ref returns the global reference, or NullRef once closed.
func (c *ClassRef) Ref() ffibridge.Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ffibridge.NullRef
	}
	return c.ref
}

// Close deletes the global reference through the calling thread's Env.
// If no Env can be resolved the reference is leaked and the failure logged.
// Further calls do nothing.
func (c *ClassRef) Close() {
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
		Logger().Error("leaking class reference: no environment for thread",
			zap.Uint64("thread", uint64(tid)),
			zap.Uint64("ref", uint64(ref)),
			zap.Error(err))
		return
	}
	env.DeleteGlobalRef(ref)
}
