// Package wasmstore keeps managed object payloads in WebAssembly linear memory.
//
// A Store instantiates a minimal module that exports a single memory and
// manages it with a first-fit free list. The memory grows a page at a time
// up to Config.MemoryLimitPages. Plug it into heap.Config.Store to run the
// reference runtime on a wazero-backed heap:
//
//	store, err := wasmstore.New(ctx)
//	if err != nil {
//	    return err
//	}
//	defer store.Close(ctx)
//
//	vm := heap.NewWithConfig(&heap.Config{Store: store})
//	defer vm.Close()
package wasmstore
