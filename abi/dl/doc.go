// Package dl binds abi.Library to a wasm.h shared library at run time.
//
// The library is opened with dlopen through purego, so no cgo toolchain is
// needed. Every Library field is looked up by its C symbol name; symbols the
// library does not export leave the field nil and are reported by
// Library.Missing. Host callbacks and finalizers become C function pointers
// through purego.NewCallback. purego never frees callbacks, so each is
// created once per process and forwards to the most recently registered Go
// function.
//
// Wasmer's libwasmer exports the full surface including the
// wasmer_last_error_* pair and wat2wasm. Other wasm.h runtimes work as long
// as they export the symbols Missing checks for.
package dl
