// Package handle provides single-owner wrappers for foreign handles.
//
// Each wrapper pairs one acquire with exactly one release:
//
//	String       pinned text of a managed string, released on Close
//	ByteArray    pinned elements of a managed byte array, released without copy-back
//	LocalString  a new managed string built from native bytes, deleted on Close
//	ClassRef     an existing global class reference, deleted on Close
//	Callback[T]  a global reference to a managed callback object plus the
//	             native completion that delivers results into it
//
// String, ByteArray and LocalString are scoped to one native call on one
// thread. They are created from an ffibridge.Env and cache it until Close.
// Use them with defer, or through WithString and WithByteArray:
//
//	err := handle.WithString(env, ref, func(s *handle.String) error {
//	    return parse(s.Bytes())
//	})
//
// ClassRef and Callback may outlive the call and be closed on another thread,
// so they hold an ffibridge.Resolver and look up the closing thread's Env at
// release time.
//
// # Failure Handling
//
// Nothing here panics or returns an error when the runtime is unavailable.
// If no Env can be resolved, Callback becomes inert and Close leaks the
// reference instead of touching an invalid environment. Both cases are
// logged through Logger.
//
// Wrappers must not be copied; always use the returned pointer.
package handle
