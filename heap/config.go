package heap

import (
	ffibridge "github.com/wippyai/ffi-bridge"
)

// DefaultLocalCapacity is the number of local references an Env can hold
// before NewString and friends start returning NullRef.
const DefaultLocalCapacity = 512

// Config holds configuration for VM creation
type Config struct {
	// Store holds object payloads. nil means an in-process store owned by
	// the VM. A caller-provided store is not closed by the VM and must not be
	// shared with another VM.
	Store ffibridge.Store

	// LocalCapacity limits live local references per Env.
	// 0 means DefaultLocalCapacity.
	LocalCapacity int

	// CheckThreads records a violation whenever an Env is used from a thread
	// other than the one it is attached to. Callers must lock their goroutines
	// to OS threads for this to be meaningful.
	CheckThreads bool
}

func (c *Config) withDefaults() Config {
	var out Config
	if c != nil {
		out = *c
	}
	if out.LocalCapacity <= 0 {
		out.LocalCapacity = DefaultLocalCapacity
	}
	if out.Store == nil {
		out.Store = newMemStore()
	}
	return out
}
