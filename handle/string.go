package handle

import (
	ffibridge "github.com/wippyai/ffi-bridge"
)

// String exposes the text of a managed string for the duration of a call.
type String struct {
	_      noCopy
	env    ffibridge.Env
	chars  []byte
	ref    ffibridge.Ref
	closed bool
}

// OpenString pins the text of ref. The caller guarantees ref is a valid,
// non-null string reference usable through env. Close releases the text
// through the same env.
func OpenString(env ffibridge.Env, ref ffibridge.Ref) *String {
	return &String{
		env:   env,
		ref:   ref,
		chars: env.AcquireStringData(ref),
	}
}

// WithString pins ref for the duration of fn and releases it on every exit
// path, including panics.
func WithString(env ffibridge.Env, ref ffibridge.Ref, fn func(*String) error) error {
	s := OpenString(env, ref)
	defer s.Close()
	return fn(s)
}

// CString returns the NUL-terminated text. It returns nil once closed or if
// the runtime could not provide the text.
func (s *String) CString() []byte {
	return s.chars
}

// Bytes returns the text without the terminating NUL.
func (s *String) Bytes() []byte {
	if len(s.chars) == 0 {
		return nil
	}
	return s.chars[:len(s.chars)-1]
}

// Len returns the length of the text in bytes.
func (s *String) Len() int {
	return len(s.Bytes())
}

func (s *String) String() string {
	return string(s.Bytes())
}

// Close releases the pinned text. Further calls do nothing.
func (s *String) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.chars == nil {
		return
	}
	s.env.ReleaseStringData(s.ref, s.chars)
	s.chars = nil
}
