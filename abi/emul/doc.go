// Package emul implements abi.Library in Go on top of wazero.
//
// It behaves like a native wasm.h library closely enough to exercise the
// binding without one: objects live at stable addresses in an emulated
// heap, vector and object deletes are checked so a double free is counted
// rather than silently accepted, and the last error is kept per goroutine
// the way the native library keeps it per thread.
//
// Limits compared to a native runtime:
//
//   - only function imports can be satisfied;
//   - tables are read-only views of their declared minimum size;
//   - frames carry function indices but no code offsets;
//   - wat2wasm is not available and reports an error.
package emul
