package runtime

import (
	"sync"

	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/errors"
	"github.com/wippyai/wasm-capi/value"
)

// Global is a global variable: borrowed when it comes from an export, owned
// when it was created with Store.NewGlobal.
type Global struct {
	store *Store
	h     *handle

	typeOnce sync.Once
	typeErr  error
	kind     value.Kind
	mutable  bool
}

// NewGlobal creates a global holding init.
func (s *Store) NewGlobal(init value.Value, mutable bool) (*Global, error) {
	sa, err := s.addr(errors.PhaseRuntime)
	if err != nil {
		return nil, err
	}
	lib := s.lib()
	if lib.GlobalNew == nil || lib.GlobalTypeNew == nil {
		return nil, errors.Unsupported(errors.PhaseRuntime, "library has no wasm_global_new")
	}
	vt := lib.ValTypeNew(init.Kind())
	if vt == 0 {
		return nil, errors.AllocationFailed(errors.PhaseRuntime, "wasm_valtype_new", "")
	}
	mut := abi.Const
	if mutable {
		mut = abi.Var
	}
	gt := lib.GlobalTypeNew(vt, mut)
	if gt == 0 {
		return nil, errors.AllocationFailed(errors.PhaseRuntime, "wasm_globaltype_new", "")
	}
	defer lib.GlobalTypeDelete(gt)

	val := value.Encode(init)
	var g abi.Global
	msg, _ := s.run(func() { g = lib.GlobalNew(sa, gt, &val) })
	if g == 0 {
		return nil, errors.AllocationFailed(errors.PhaseRuntime, "wasm_global_new", msg)
	}
	glob := &Global{
		store:   s,
		h:       s.own(abi.KindGlobal, uintptr(g), func(a uintptr) { lib.GlobalDelete(abi.Global(a)) }),
		kind:    init.Kind(),
		mutable: mutable,
	}
	// The type is known; skip the native query.
	glob.typeOnce.Do(func() {})
	adopt(s, glob, glob.h)
	return glob, nil
}

// Raw returns the native global, or 0 once released.
func (g *Global) Raw() abi.Global {
	addr, _ := g.h.get(errors.PhaseRuntime)
	return abi.Global(addr)
}

// Type returns the value kind and whether the global is mutable.
func (g *Global) Type() (value.Kind, bool, error) {
	addr, err := g.h.get(errors.PhaseRuntime)
	if err != nil {
		return 0, false, err
	}
	g.typeOnce.Do(func() {
		lib := g.store.lib()
		if lib.GlobalType == nil {
			g.typeErr = errors.Unsupported(errors.PhaseDecode, "library has no wasm_global_type")
			return
		}
		gt := lib.GlobalType(abi.Global(addr))
		if gt == 0 {
			g.typeErr = errors.AllocationFailed(errors.PhaseDecode, "wasm_global_type", "")
			return
		}
		defer lib.GlobalTypeDelete(gt)
		g.kind = lib.ValTypeKind(lib.GlobalTypeContent(gt))
		g.mutable = lib.GlobalTypeMutability(gt) == abi.Var
	})
	return g.kind, g.mutable, g.typeErr
}

// Get reads the current value.
func (g *Global) Get() (value.Value, error) {
	addr, err := g.h.get(errors.PhaseRuntime)
	if err != nil {
		return value.Value{}, err
	}
	var out abi.Val
	g.store.lock.lock()
	g.store.lib().GlobalGet(abi.Global(addr), &out)
	g.store.lock.unlock()
	return value.Decode(out)
}

// Set writes v. Writing a const global returns an ImmutableMutation error
// and leaves the value unchanged.
func (g *Global) Set(v value.Value) error {
	addr, err := g.h.get(errors.PhaseRuntime)
	if err != nil {
		return err
	}
	kind, mutable, err := g.Type()
	if err != nil {
		return err
	}
	if v.Kind() != kind {
		return errors.New(errors.PhaseEncode, errors.KindTypeMismatch).
			WasmType(kind.String()).
			Detail("cannot set %s global to %s", kind, v.Kind()).
			Build()
	}

	val := value.Encode(v)
	lib := g.store.lib()
	msg, failed := g.store.run(func() { lib.GlobalSet(abi.Global(addr), &val) })
	if !mutable {
		if msg == "" {
			msg = "global is immutable"
		}
		return errors.ImmutableMutation(msg)
	}
	if !failed {
		return nil
	}
	return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).Detail("%s", msg).Build()
}

func (g *Global) externAddr(phase errors.Phase) (abi.Extern, error) {
	addr, err := g.h.get(phase)
	if err != nil {
		return 0, err
	}
	lib := g.store.lib()
	if lib.GlobalAsExtern == nil {
		return 0, errors.Unsupported(phase, "library has no wasm_global_as_extern")
	}
	return lib.GlobalAsExtern(abi.Global(addr)), nil
}

// Close deletes an owned global and detaches a borrowed one.
func (g *Global) Close() error {
	if !g.h.owns {
		g.h.release()
		return nil
	}
	g.store.lock.lock()
	released := g.h.release()
	g.store.lock.unlock()
	if released {
		g.store.owned.remove(g)
	}
	return nil
}
