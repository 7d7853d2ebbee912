package handle

import (
	"bytes"

	ffibridge "github.com/wippyai/ffi-bridge"
)

// LocalString owns a local reference to a managed string created from native
// data. Close deletes the reference instead of waiting for the call to end.
type LocalString struct {
	_      noCopy
	env    ffibridge.Env
	ref    ffibridge.Ref
	closed bool
}

// NewString creates a managed string from NUL-terminated native text.
// A nil cstr yields a LocalString holding NullRef.
func NewString(env ffibridge.Env, cstr []byte) *LocalString {
	s := &LocalString{env: env}
	if cstr != nil {
		s.ref = env.NewString(cstr)
	}
	return s
}

// NewStringFromBytes creates a managed string by appending each byte of data
// as one character of native text.
//
// This is not a decoder. Only bytes 0x01 to 0x7F map to themselves. A zero
// byte ends the string early, a byte of 0x80 or above that does not start a
// valid UTF-8 sequence becomes U+FFFD, and valid multi-byte sequences collapse
// into a single character.
func NewStringFromBytes(env ffibridge.Env, data []byte) *LocalString {
	var buf bytes.Buffer
	buf.Grow(len(data) + 1)
	for _, b := range data {
		buf.WriteByte(b)
	}
	buf.WriteByte(0)
	return &LocalString{env: env, ref: env.NewString(buf.Bytes())}
}

// Ref returns the local string reference, or NullRef.
func (s *LocalString) Ref() ffibridge.Ref {
	return s.ref
}

// IsNull reports whether the string represents "no value".
func (s *LocalString) IsNull() bool {
	return s.ref == ffibridge.NullRef
}

// Close deletes the local reference. Further calls do nothing.
func (s *LocalString) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.ref == ffibridge.NullRef {
		return
	}
	s.env.DeleteLocalRef(s.ref)
	s.ref = ffibridge.NullRef
}
