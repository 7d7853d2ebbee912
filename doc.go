// Package ffibridge provides safe ownership of foreign handles that belong to a
// managed object runtime, and a way to deliver native completion events into
// managed callback objects.
//
// Handles crossing the boundary follow the runtime's rules. An environment is
// valid only on the thread it was issued to. Every acquired pin or promoted
// reference is released exactly once and never used afterwards.
//
// # Architecture Overview
//
//	ffibridge/           Root package with Env, Resolver, Ref and the payload Memory/Allocator
//	├── handle/          Scoped accessors, class references and callback bridges
//	├── heap/            In-process reference managed runtime implementing Env
//	├── wasmstore/       WASM linear memory payload store backed by wazero
//	├── errors/          Structured error types for contract violations
//	├── cmd/refstress/   Lifecycle stress harness
//	└── examples/basic/  End-to-end usage
//
// # Quick Start
//
// Read a managed string for the duration of a native call:
//
//	s := handle.OpenString(env, ref)
//	defer s.Close()
//	fmt.Println(s.String())
//
// Bridge a native completion into a managed callback object:
//
//	cb := handle.NewCallback(resolver, func(env ffibridge.Env, obj ffibridge.Ref, n int) {
//	    // call into the managed object through env
//	}, callbackObj)
//	token := registry.Register(cb)
//	// ... later, on any thread:
//	registry.Complete(token, 42)
//
// # Environments
//
// Components that live for one native call take an Env and cache it. Components
// that may be destroyed on another thread take a Resolver and look up the
// environment of the thread that is running at release time.
//
// # Thread Safety
//
// Scoped accessors (handle.String, handle.ByteArray, handle.LocalString) belong
// to a single thread and a single call. ClassRef, Callback and Registry may be
// released from any thread.
package ffibridge
