package runtime

import (
	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/errors"
	"github.com/wippyai/wasm-capi/vector"
)

// Module owns a compiled wasm_module_t.
type Module struct {
	store *Store
	h     *handle
}

// ExportType describes one export of a module.
type ExportType struct {
	Name string
	Kind abi.ExternKind
}

// ImportType describes one import of a module.
type ImportType struct {
	Module string
	Name   string
	Kind   abi.ExternKind
}

// NewModule compiles binary.
func (s *Store) NewModule(binary []byte) (*Module, error) {
	if len(binary) == 0 {
		return nil, errors.InvalidInput(errors.PhaseLoad, "empty module binary")
	}
	sa, err := s.addr(errors.PhaseLoad)
	if err != nil {
		return nil, err
	}
	lib := s.lib()
	bytes, err := vector.New(&lib.ByteVec, binary)
	if err != nil {
		return nil, err
	}
	defer bytes.Release()

	var m abi.Module
	msg, _ := s.run(func() { m = lib.ModuleNew(sa, bytes.Raw()) })
	if m == 0 {
		return nil, errors.AllocationFailed(errors.PhaseLoad, "wasm_module_new", msg)
	}
	mod := &Module{
		store: s,
		h:     s.own(abi.KindModule, uintptr(m), func(a uintptr) { lib.ModuleDelete(abi.Module(a)) }),
	}
	adopt(s, mod, mod.h)
	return mod, nil
}

// ValidateModule reports why binary is not a valid module, or nil.
func (s *Store) ValidateModule(binary []byte) error {
	sa, err := s.addr(errors.PhaseLoad)
	if err != nil {
		return err
	}
	lib := s.lib()
	if lib.ModuleValidate == nil {
		return errors.Unsupported(errors.PhaseLoad, "library has no wasm_module_validate")
	}
	if len(binary) == 0 {
		return errors.InvalidData(errors.PhaseLoad, nil, "empty module binary")
	}
	bytes, err := vector.New(&lib.ByteVec, binary)
	if err != nil {
		return err
	}
	defer bytes.Release()

	var ok bool
	msg, _ := s.run(func() { ok = lib.ModuleValidate(sa, bytes.Raw()) })
	if ok {
		return nil
	}
	if msg == "" {
		msg = "module is not valid"
	}
	return errors.InvalidData(errors.PhaseLoad, nil, msg)
}

// Raw returns the native module, or 0 after Close.
func (m *Module) Raw() abi.Module {
	addr, _ := m.h.get(errors.PhaseRuntime)
	return abi.Module(addr)
}

// Exports lists the module's exports in declaration order.
func (m *Module) Exports() ([]ExportType, error) {
	addr, err := m.h.get(errors.PhaseDecode)
	if err != nil {
		return nil, err
	}
	lib := m.store.lib()
	if lib.ModuleExports == nil {
		return nil, errors.Unsupported(errors.PhaseDecode, "library has no wasm_module_exports")
	}
	out := vector.Out[abi.ExportType](&lib.ExportTypeVec)
	defer out.Release()
	lib.ModuleExports(abi.Module(addr), out.Raw())

	types, err := out.View()
	if err != nil {
		return nil, err
	}
	exports := make([]ExportType, len(types))
	for i, et := range types {
		name, err := vector.NameAt(lib.ExportTypeName(et))
		if err != nil {
			return nil, err
		}
		exports[i] = ExportType{Name: name, Kind: lib.ExternTypeKind(lib.ExportTypeType(et))}
	}
	return exports, nil
}

// Imports lists the module's imports in declaration order.
func (m *Module) Imports() ([]ImportType, error) {
	addr, err := m.h.get(errors.PhaseDecode)
	if err != nil {
		return nil, err
	}
	lib := m.store.lib()
	if lib.ModuleImports == nil {
		return nil, errors.Unsupported(errors.PhaseDecode, "library has no wasm_module_imports")
	}
	out := vector.Out[abi.ImportType](&lib.ImportTypeVec)
	defer out.Release()
	lib.ModuleImports(abi.Module(addr), out.Raw())

	types, err := out.View()
	if err != nil {
		return nil, err
	}
	imports := make([]ImportType, len(types))
	for i, it := range types {
		module, err := vector.NameAt(lib.ImportTypeModule(it))
		if err != nil {
			return nil, err
		}
		name, err := vector.NameAt(lib.ImportTypeName(it))
		if err != nil {
			return nil, err
		}
		imports[i] = ImportType{Module: module, Name: name, Kind: lib.ExternTypeKind(lib.ImportTypeType(it))}
	}
	return imports, nil
}

// Close deletes the module. Instances created from it stay usable.
func (m *Module) Close() error {
	m.store.lock.lock()
	released := m.h.release()
	m.store.lock.unlock()
	if released {
		m.store.owned.remove(m)
	}
	return nil
}
