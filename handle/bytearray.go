package handle

import (
	"unsafe"

	ffibridge "github.com/wippyai/ffi-bridge"
)

// ByteArray exposes the elements of a managed byte array for the duration of
// a call. The elements are read-only: Close never copies them back.
type ByteArray struct {
	_      noCopy
	env    ffibridge.Env
	elems  []int8
	ref    ffibridge.Ref
	closed bool
}

// OpenByteArray pins the elements of ref. The caller guarantees ref is a
// valid byte array reference usable through env.
func OpenByteArray(env ffibridge.Env, ref ffibridge.Ref) *ByteArray {
	return &ByteArray{
		env:   env,
		ref:   ref,
		elems: env.AcquireBufferData(ref),
	}
}

// WithByteArray pins ref for the duration of fn and releases it on every
// exit path, including panics.
func WithByteArray(env ffibridge.Env, ref ffibridge.Ref, fn func(*ByteArray) error) error {
	a := OpenByteArray(env, ref)
	defer a.Close()
	return fn(a)
}

// Elements returns the array's signed elements.
func (a *ByteArray) Elements() []int8 {
	return a.elems
}

// Len returns the element count.
func (a *ByteArray) Len() int {
	return len(a.elems)
}

// Bytes returns the elements as unsigned bytes. The slice shares memory with
// Elements and is valid until Close.
func (a *ByteArray) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(a.elems))), len(a.elems))
}

// Close releases the elements without copying them back.
// Further calls do nothing.
func (a *ByteArray) Close() {
	if a.closed {
		return
	}
	a.closed = true
	if a.elems == nil {
		return
	}
	a.env.ReleaseBufferData(a.ref, a.elems, ffibridge.ReleaseAbort)
	a.elems = nil
}
