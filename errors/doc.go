// Package errors provides structured error types for the wasm-capi binding.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: field path, Go/wasm type names, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseEncode, errors.KindTypeMismatch).
//		Path("args", "0").
//		GoType("string").
//		WasmType("i32").
//		Detail("cannot convert string to integer").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.AllocationFailed(errors.PhaseLoad, "wasm_module_new", lastError)
//	err := errors.OutOfBounds(errors.PhaseDecode, path, 10, 5)
//
// The binding's failure taxonomy maps onto kinds: a NULL constructor result is
// KindAllocation, a NULL borrow is KindInvalidHandle, a write to a const global
// is KindImmutableMutation and guest traps satisfy errors.Is(err, ErrGuestTrap).
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
