// Package heap is an in-process managed runtime that implements ffibridge.Env.
//
// It models the parts of an object runtime that the handle layer depends on:
// thread attachment, per-thread local reference frames, a global reference
// table, pinned string and array data, and reference-counted object lifetime.
// Object payloads live in a ffibridge.Store, either process memory or WASM
// linear memory from the wasmstore package.
//
// # Attachment
//
// A VM is a ffibridge.Resolver. Resolve attaches a thread on first use and
// returns the same Env on every later call from that thread:
//
//	vm := heap.New()
//	defer vm.Close()
//
//	env, err := vm.Resolve(ffibridge.CurrentThread())
//
// # Local Frames
//
// Local references belong to the Env that created them. EndCall drops every
// local reference of an Env, the way returning to the runtime does.
//
// # Contract Checking
//
// Misuse that a real runtime would turn into memory corruption is detected and
// recorded instead: stale or foreign references, double releases, mismatched
// release buffers and exhausted frames. Violations returns them, and observers
// receive an EventViolation for each one.
//
//	vm.Subscribe(heap.ObserverFunc(func(e heap.Event) {
//	    if e.Type == heap.EventGlobalDeleted {
//	        released.Add(1)
//	    }
//	}))
//
// Close reports global references and pins that were never released.
package heap
