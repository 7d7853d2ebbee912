package ffibridge

import (
	"fmt"
)

// Ref is an opaque reference into managed-runtime memory.
// NullRef represents "no value".
type Ref uint64

// NullRef is the null reference.
const NullRef Ref = 0

// RefKind distinguishes references scoped to one call from references that
// survive across calls and threads.
type RefKind uint8

const (
	InvalidRef RefKind = iota
	LocalRef
	GlobalRef
)

func (k RefKind) String() string {
	switch k {
	case LocalRef:
		return "local"
	case GlobalRef:
		return "global"
	default:
		return "invalid"
	}
}

// ThreadID identifies a native OS thread.
type ThreadID uint64

// ReleaseMode controls what happens to native element buffers on release.
type ReleaseMode uint8

const (
	// ReleaseCommit copies the buffer back into the managed array and frees it.
	ReleaseCommit ReleaseMode = iota
	// ReleaseKeep copies the buffer back but keeps the pin.
	ReleaseKeep
	// ReleaseAbort frees the buffer without copying back.
	ReleaseAbort
)

func (m ReleaseMode) String() string {
	switch m {
	case ReleaseCommit:
		return "commit"
	case ReleaseKeep:
		return "keep"
	case ReleaseAbort:
		return "abort"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Env is the thread-affine capability used to operate on the managed runtime.
// An Env obtained on one thread must only be used on that thread.
type Env interface {
	// Thread returns the thread this environment is attached to.
	Thread() ThreadID

	// AcquireStringData returns a NUL-terminated copy of the string's text.
	// The slice stays valid until the matching ReleaseStringData.
	AcquireStringData(s Ref) []byte

	// ReleaseStringData releases data obtained from AcquireStringData.
	ReleaseStringData(s Ref, chars []byte)

	// AcquireBufferData returns the elements of a byte array.
	AcquireBufferData(a Ref) []int8

	// ReleaseBufferData releases elements obtained from AcquireBufferData.
	ReleaseBufferData(a Ref, elems []int8, mode ReleaseMode)

	// NewString creates a local string reference from NUL-terminated text.
	// A nil slice yields NullRef.
	NewString(cstr []byte) Ref

	// NewGlobalRef promotes a reference so it survives the current call.
	NewGlobalRef(r Ref) Ref

	// DeleteGlobalRef releases a reference created by NewGlobalRef.
	DeleteGlobalRef(r Ref)

	// DeleteLocalRef releases a local reference.
	DeleteLocalRef(r Ref)
}

// Resolver returns the environment for a thread, attaching the thread to the
// runtime if needed. Implementations must be safe for concurrent use.
type Resolver interface {
	Resolve(tid ThreadID) (Env, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(tid ThreadID) (Env, error)

func (f ResolverFunc) Resolve(tid ThreadID) (Env, error) {
	return f(tid)
}

// Current resolves the environment for the calling OS thread.
func Current(r Resolver) (Env, error) {
	return r.Resolve(CurrentThread())
}
