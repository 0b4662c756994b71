package runtime

import (
	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/errors"
)

// Extern is a borrowed export. It is valid until the Exports it came from
// is closed.
type Extern struct {
	store *Store
	h     *handle
	name  string
}

// Name returns the export name, or "" when the library cannot list names.
func (e *Extern) Name() string {
	return e.name
}

// Raw returns the native extern, or 0 once released.
func (e *Extern) Raw() abi.Extern {
	addr, _ := e.h.get(errors.PhaseRuntime)
	return abi.Extern(addr)
}

// Kind returns what the extern is.
func (e *Extern) Kind() (abi.ExternKind, error) {
	addr, err := e.h.get(errors.PhaseRuntime)
	if err != nil {
		return 0, err
	}
	return e.store.lib().ExternKind(abi.Extern(addr)), nil
}

// as reinterprets the extern as kind. The result borrows from e.
func (e *Extern) as(kind abi.ExternKind, rk abi.ResourceKind, cast func(abi.Extern) uintptr) (*handle, error) {
	addr, err := e.h.get(errors.PhaseRuntime)
	if err != nil {
		return nil, err
	}
	if cast == nil {
		return nil, errors.Unsupported(errors.PhaseRuntime, "library has no wasm_extern_as_"+kind.String())
	}
	p := cast(abi.Extern(addr))
	if p == 0 {
		actual := e.store.lib().ExternKind(abi.Extern(addr))
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidHandle).
			WasmType(actual.String()).
			Detail("extern %q is not a %s", e.name, kind).
			Build()
	}
	return borrow(e.h, e, rk, p)
}

// Func reinterprets the extern as a function.
func (e *Extern) Func() (*Func, error) {
	lib := e.store.lib()
	var cast func(abi.Extern) uintptr
	if lib.ExternAsFunc != nil {
		cast = func(x abi.Extern) uintptr { return uintptr(lib.ExternAsFunc(x)) }
	}
	h, err := e.as(abi.ExternFunc, abi.KindFunc, cast)
	if err != nil {
		return nil, err
	}
	return &Func{store: e.store, h: h}, nil
}

// Global reinterprets the extern as a global.
func (e *Extern) Global() (*Global, error) {
	lib := e.store.lib()
	var cast func(abi.Extern) uintptr
	if lib.ExternAsGlobal != nil {
		cast = func(x abi.Extern) uintptr { return uintptr(lib.ExternAsGlobal(x)) }
	}
	h, err := e.as(abi.ExternGlobal, abi.KindGlobal, cast)
	if err != nil {
		return nil, err
	}
	return &Global{store: e.store, h: h}, nil
}

// Table reinterprets the extern as a table.
func (e *Extern) Table() (*Table, error) {
	lib := e.store.lib()
	var cast func(abi.Extern) uintptr
	if lib.ExternAsTable != nil {
		cast = func(x abi.Extern) uintptr { return uintptr(lib.ExternAsTable(x)) }
	}
	h, err := e.as(abi.ExternTable, abi.KindTable, cast)
	if err != nil {
		return nil, err
	}
	return &Table{store: e.store, h: h}, nil
}

// Memory reinterprets the extern as a linear memory.
func (e *Extern) Memory() (*Memory, error) {
	lib := e.store.lib()
	var cast func(abi.Extern) uintptr
	if lib.ExternAsMemory != nil {
		cast = func(x abi.Extern) uintptr { return uintptr(lib.ExternAsMemory(x)) }
	}
	h, err := e.as(abi.ExternMemory, abi.KindMemory, cast)
	if err != nil {
		return nil, err
	}
	return &Memory{store: e.store, h: h}, nil
}

func (e *Extern) externAddr(phase errors.Phase) (abi.Extern, error) {
	addr, err := e.h.get(phase)
	return abi.Extern(addr), err
}

// Close detaches the extern. The native extern is freed with its Exports.
func (e *Extern) Close() error {
	e.h.release()
	return nil
}

// Table is a borrowed table export.
type Table struct {
	store *Store
	h     *handle
}

// Size returns the number of elements.
func (t *Table) Size() (uint32, error) {
	addr, err := t.h.get(errors.PhaseRuntime)
	if err != nil {
		return 0, err
	}
	lib := t.store.lib()
	if lib.TableSize == nil {
		return 0, errors.Unsupported(errors.PhaseRuntime, "library has no wasm_table_size")
	}
	t.store.lock.lock()
	defer t.store.lock.unlock()
	return lib.TableSize(abi.Table(addr)), nil
}

// Grow adds delta null elements.
func (t *Table) Grow(delta uint32) error {
	addr, err := t.h.get(errors.PhaseRuntime)
	if err != nil {
		return err
	}
	lib := t.store.lib()
	if lib.TableGrow == nil {
		return errors.Unsupported(errors.PhaseRuntime, "library has no wasm_table_grow")
	}
	var ok bool
	msg, _ := t.store.run(func() { ok = lib.TableGrow(abi.Table(addr), delta, 0) })
	if ok {
		return nil
	}
	return growFailed("table", delta, msg)
}

func growFailed(what string, delta uint32, msg string) error {
	b := errors.New(errors.PhaseRuntime, errors.KindAllocation).Value(delta)
	if msg == "" {
		return b.Detail("cannot grow %s by %d", what, delta).Build()
	}
	return b.Detail("cannot grow %s by %d: %s", what, delta, msg).Build()
}

// Close detaches the table.
func (t *Table) Close() error {
	t.h.release()
	return nil
}
