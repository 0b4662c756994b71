package runtime

import (
	"fmt"
	goruntime "runtime"

	"go.uber.org/multierr"

	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/errors"
	"github.com/wippyai/wasm-capi/vector"
)

// Importable is anything that can satisfy a module import: an Extern, a
// Func, a Global or a Memory.
type Importable interface {
	externAddr(phase errors.Phase) (abi.Extern, error)
}

// Instance owns a wasm_instance_t. Export sets taken from it are closed
// with it.
type Instance struct {
	store   *Store
	module  *Module
	h       *handle
	exports *children
	// export names, read from the module at instantiation
	names []string
}

// Instantiate links m against imports, given in the module's import order,
// and runs its start function. A trapping start function returns a *Trap.
func (s *Store) Instantiate(m *Module, imports ...Importable) (*Instance, error) {
	if m == nil {
		return nil, errors.InvalidInput(errors.PhaseInstantiate, "nil module")
	}
	if m.store != s {
		return nil, errors.InvalidInput(errors.PhaseInstantiate, "module belongs to another store")
	}
	sa, err := s.addr(errors.PhaseInstantiate)
	if err != nil {
		return nil, err
	}
	ma, err := m.h.get(errors.PhaseInstantiate)
	if err != nil {
		return nil, err
	}
	if err := checkImports(m, imports); err != nil {
		return nil, err
	}

	addrs := make([]abi.Extern, len(imports))
	for i, imp := range imports {
		if imp == nil {
			return nil, errors.New(errors.PhaseInstantiate, errors.KindInvalidInput).
				Path("imports", fmt.Sprint(i)).Detail("nil import").Build()
		}
		if addrs[i], err = imp.externAddr(errors.PhaseInstantiate); err != nil {
			return nil, err
		}
	}
	vec := vector.External(addrs)
	defer vec.Release()

	lib := s.lib()
	var (
		inst abi.Instance
		trap abi.Trap
	)
	msg, _ := s.run(func() { inst = lib.InstanceNew(sa, abi.Module(ma), vec.Raw(), &trap) })
	goruntime.KeepAlive(imports)
	if trap != 0 {
		if inst != 0 {
			lib.InstanceDelete(inst)
		}
		return nil, s.adoptTrap(trap)
	}
	if inst == 0 {
		return nil, errors.AllocationFailed(errors.PhaseInstantiate, "wasm_instance_new", msg)
	}

	i := &Instance{
		store:   s,
		module:  m,
		h:       s.own(abi.KindInstance, uintptr(inst), func(a uintptr) { lib.InstanceDelete(abi.Instance(a)) }),
		names:   exportNames(m),
		exports: &children{},
	}
	h, exports, release := i.h, i.exports, s.releaser(i.h)
	track(s.owned, i, h, func() error {
		return multierr.Append(exports.closeAll(), release())
	})
	if s.engine.leaks {
		watch(i, h)
	}
	return i, nil
}

// checkImports reports imports the caller did not supply, when the library
// can list them.
func checkImports(m *Module, given []Importable) error {
	if m.store.lib().ModuleImports == nil {
		return nil
	}
	required, err := m.Imports()
	if err != nil || len(given) >= len(required) {
		return nil
	}
	missing := make([]errors.MissingImport, 0, len(required)-len(given))
	for _, imp := range required[len(given):] {
		missing = append(missing, errors.MissingImport{Module: imp.Module, Name: imp.Name, Kind: imp.Kind.String()})
	}
	return &errors.MissingImportsError{Imports: missing}
}

// exportNames returns m's export names, or nil when the library cannot
// list them.
func exportNames(m *Module) []string {
	types, err := m.Exports()
	if err != nil {
		return nil
	}
	names := make([]string, len(types))
	for j, t := range types {
		names[j] = t.Name
	}
	return names
}

// Module returns the module the instance was created from. It may have
// been closed since.
func (i *Instance) Module() *Module {
	return i.module
}

// Raw returns the native instance, or 0 after Close.
func (i *Instance) Raw() abi.Instance {
	addr, _ := i.h.get(errors.PhaseRuntime)
	return abi.Instance(addr)
}

// Exports returns the instance's exports in declaration order.
func (i *Instance) Exports() (*Exports, error) {
	addr, err := i.h.get(errors.PhaseRuntime)
	if err != nil {
		return nil, err
	}
	lib := i.store.lib()
	out := vector.Out[abi.Extern](&lib.ExternVec)
	i.store.lock.lock()
	lib.InstanceExports(abi.Instance(addr), out.Raw())
	i.store.lock.unlock()

	addrs, err := out.Slice()
	if err != nil {
		out.Release()
		return nil, err
	}
	names := i.names
	if len(names) != len(addrs) {
		names = nil
	}

	ex := &Exports{instance: i}
	ex.h = i.store.own(abi.KindVec, out.Raw().Data, func(uintptr) { out.Release() })
	ex.externs = make([]*Extern, len(addrs))
	for j, a := range addrs {
		h, err := borrow(ex.h, ex, abi.KindExtern, uintptr(a))
		if err != nil {
			ex.h.release()
			return nil, err
		}
		ext := &Extern{store: i.store, h: h}
		if names != nil {
			ext.name = names[j]
		}
		ex.externs[j] = ext
	}
	ex.names = names
	track(i.exports, ex, ex.h, i.store.releaser(ex.h))
	if i.store.engine.leaks {
		watch(ex, ex.h)
	}
	return ex, nil
}

// Close closes the instance's export sets, then deletes the instance.
func (i *Instance) Close() error {
	if !i.h.alive() {
		return nil
	}
	err := i.exports.closeAll()
	i.store.lock.lock()
	released := i.h.release()
	i.store.lock.unlock()
	if released {
		i.store.owned.remove(i)
	}
	return err
}

// Exports owns the extern vector returned by wasm_instance_exports. The
// externs it hands out are borrowed from it and stop working once it is
// closed.
type Exports struct {
	instance *Instance
	h        *handle
	externs  []*Extern
	names    []string
}

// Len returns the number of exports.
func (e *Exports) Len() int {
	return len(e.externs)
}

// Names returns the export names, or nil when the library cannot list them.
func (e *Exports) Names() []string {
	return e.names
}

// At returns export i.
func (e *Exports) At(i int) (*Extern, error) {
	if _, err := e.h.get(errors.PhaseRuntime); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(e.externs) {
		return nil, errors.OutOfBounds(errors.PhaseRuntime, []string{"exports"}, i, len(e.externs))
	}
	return e.externs[i], nil
}

// Get returns the export called name.
func (e *Exports) Get(name string) (*Extern, error) {
	if _, err := e.h.get(errors.PhaseRuntime); err != nil {
		return nil, err
	}
	for i, n := range e.names {
		if n == name {
			return e.externs[i], nil
		}
	}
	return nil, errors.NotFound(errors.PhaseRuntime, "export", name)
}

// Func returns the function export called name.
func (e *Exports) Func(name string) (*Func, error) {
	ext, err := e.Get(name)
	if err != nil {
		return nil, err
	}
	return ext.Func()
}

// Global returns the global export called name.
func (e *Exports) Global(name string) (*Global, error) {
	ext, err := e.Get(name)
	if err != nil {
		return nil, err
	}
	return ext.Global()
}

// Memory returns the memory export called name.
func (e *Exports) Memory(name string) (*Memory, error) {
	ext, err := e.Get(name)
	if err != nil {
		return nil, err
	}
	return ext.Memory()
}

// Table returns the table export called name.
func (e *Exports) Table(name string) (*Table, error) {
	ext, err := e.Get(name)
	if err != nil {
		return nil, err
	}
	return ext.Table()
}

// Close deletes the extern vector and every extern in it.
func (e *Exports) Close() error {
	var err error
	for _, ext := range e.externs {
		err = multierr.Append(err, ext.Close())
	}
	e.instance.store.lock.lock()
	released := e.h.release()
	e.instance.store.lock.unlock()
	if released {
		e.instance.exports.remove(e)
	}
	return err
}
