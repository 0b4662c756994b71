// Package runtime wraps the native WebAssembly C API with ownership
// tracking.
//
// # Ownership
//
// Every wrapper holds one native address and knows whether it owns it:
//
//	Engine, Store, Module, Instance, Exports   owned
//	Func, Global, Memory from Store.New*      owned
//	Trap returned by a call                    owned
//	Extern and what it is reinterpreted as     borrowed
//
// Close on an owned wrapper calls the native destructor exactly once, no
// matter how often it is called. Close on a borrowed wrapper only detaches
// it. A borrowed wrapper stops working when the wrapper it was borrowed from
// is closed; methods then return an error of kind errors.KindReleased
// instead of touching freed memory.
//
// Owners close what they created: Engine.Close closes its stores,
// Store.Close closes its modules, instances, host functions and traps, and
// Instance.Close closes its export sets.
//
// # Errors
//
// Native calls that fail report through the library's last-error slot,
// which belongs to the OS thread. The binding pins the goroutine to its
// thread for the call and the query that follows it, and returns the
// message inside a structured *errors.Error.
//
// Guest traps are returned as *Trap, which matches errors.ErrGuestTrap:
//
//	_, err := fn.Call()
//	var trap *runtime.Trap
//	if errors.As(err, &trap) {
//	    fmt.Println(trap.Message(), trap.Trace())
//	    trap.Close()
//	}
//
// # Host Functions
//
// Store.NewFunc turns a Go closure into a native function:
//
//	double, err := store.NewFunc(
//	    []value.Kind{value.KindI32}, []value.Kind{value.KindI32},
//	    func(args []value.Value) ([]value.Value, error) {
//	        return []value.Value{value.I32(args[0].I32() * 2)}, nil
//	    })
//
// The closure lives in a handle table until the native runtime finalizes
// the function. Returning an error traps the guest; returning a *Trap from a
// nested call passes it through unchanged.
//
// # Leak Detection
//
// With Config.DetectLeaks, owned wrappers collected by the garbage
// collector without Close are logged as warnings, even while their store is
// still open. The collector never frees them; the native side is released
// when the owning store closes.
package runtime
