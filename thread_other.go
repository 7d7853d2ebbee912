//go:build !linux

package ffibridge

import "os"

// CurrentThread returns the id of the calling OS thread. Goroutines that rely
// on a stable value must call runtime.LockOSThread first.
//
// Platforms without a thread id syscall fall back to the process id, which
// makes every thread share one environment.
func CurrentThread() ThreadID {
	return ThreadID(os.Getpid())
}
