// Package wasmcapi binds Go to native WebAssembly runtimes that implement
// the standard wasm.h C API, such as Wasmer.
//
// The binding's job is ownership. Every native object is either owned by a
// Go wrapper, which frees it exactly once on Close, or borrowed from one,
// which never frees it and stops working when its owner is released.
//
// # Architecture Overview
//
//	wasmcapi/            Root package with the Memory interface
//	├── runtime/         Ownership-tracked wrappers, error bridge, host callbacks
//	├── abi/             Go mirror of wasm.h layouts and the Library function table
//	│   ├── dl/          Library bound to a shared object through purego
//	│   └── emul/        Library implemented in Go on wazero
//	├── vector/          Typed wasm_X_vec_t with owned, external and borrowed modes
//	├── value/           Tagged wasm_val_t codec
//	├── resource/        Handle table with borrow counts
//	├── errors/          Structured error types
//	└── cmd/run/         Command line runner
//
// # Quick Start
//
//	engine, err := runtime.NewEngine()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	store, err := engine.NewStore()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	mod, err := store.NewModule(wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	inst, err := store.Instantiate(mod)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	exports, err := inst.Exports()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	addOne, err := exports.Func("add_one")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	results, err := addOne.Call(value.I32(41))
//	fmt.Println(results[0].I32()) // 42
//
// Closing the engine closes its stores, and a store closes everything
// created through it, newest first.
//
// # Backends
//
// By default the engine runs on the emulated backend, which needs no native
// library. Set WASMCAPI_BACKEND=dl and WASMCAPI_LIBRARY=/path/to/libwasmer.so
// and use runtime.ConfigFromEnv to load a real runtime instead.
//
// # Thread Safety
//
// Engines may be shared. A store and everything in it should be used by one
// goroutine at a time; concurrent calls are serialized by a per-store lock
// that a host function may re-enter.
package wasmcapi
