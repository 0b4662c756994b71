// Package abi mirrors the WebAssembly C API (wasm.h) in Go.
//
// Nothing in this package has logic beyond layout helpers. The structs match
// the native layouts bit for bit:
//
//	wasm_X_vec_t   {size_t size; X* data;}                  16 bytes
//	wasm_val_t     {uint8_t kind; union{i32,i64,f32,f64,ref} of;} 16 bytes
//
// Native entry points are grouped in Library, one function field per C
// symbol. A backend fills the fields: package dl binds them to a shared
// library through dlopen, package emul implements them in Go on top of
// wazero. Callers never call the fields directly; package runtime wraps them
// with ownership tracking.
//
// Handle types (Engine, Store, Func, ...) are raw native addresses. A zero
// handle is the C NULL pointer.
package abi
