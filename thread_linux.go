//go:build linux

package ffibridge

import "golang.org/x/sys/unix"

// CurrentThread returns the id of the calling OS thread. Goroutines that rely
// on a stable value must call runtime.LockOSThread first.
func CurrentThread() ThreadID {
	return ThreadID(unix.Gettid())
}
