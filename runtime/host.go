package runtime

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"unsafe"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/errors"
	"github.com/wippyai/wasm-capi/resource"
	"github.com/wippyai/wasm-capi/value"
	"github.com/wippyai/wasm-capi/vector"
)

// HostFunc implements a function in Go. It receives arguments of the
// declared parameter kinds and must return values of the declared result
// kinds. A returned error traps the caller: a *Trap from the same store is
// passed through as is, any other error becomes a trap with its message.
// Panics are recovered into traps.
type HostFunc func(args []value.Value) ([]value.Value, error)

const kindHostFunc resource.Kind = 1

// hostEntries holds the closure of every live host function, across
// engines. Its handles are the env values native functions carry, so one
// trampoline serves all of them.
var hostEntries = resource.NewTyped[*hostEntry](resource.NewTable(), kindHostFunc)

// hostEntry is what a native env value refers to.
type hostEntry struct {
	store   *Store
	env     resource.Handle
	fn      HostFunc
	params  []value.Kind
	results []value.Kind
}

// Drop runs when the entry leaves the table.
func (h *hostEntry) Drop() {
	h.store.engine.dropHost(h.env)
}

// initHost obtains the trampoline and finalizer from the library once per
// engine.
func (e *Engine) initHost() error {
	e.hostOnce.Do(func() {
		e.trampoline = e.lib.NewHostCallback(invokeHost)
		e.finalizer = e.lib.NewFinalizerCallback(finalizeHost)
		if e.trampoline == 0 || e.finalizer == 0 {
			e.hostErr = errors.AllocationFailed(errors.PhaseHost, "host callback registration", "")
		}
	})
	return e.hostErr
}

// invokeHost is the one native callback every host function goes through.
func invokeHost(env uintptr, args *abi.Vec, results *abi.Vec) abi.Trap {
	h := resource.Handle(env)
	entry, ok := hostEntries.Borrow(h)
	if !ok {
		return unknownEnv(env)
	}
	defer hostEntries.ReturnBorrow(h)
	return entry.call(args, results)
}

// unknownEnv traps the store whose call is in flight on this goroutine.
func unknownEnv(env uintptr) abi.Trap {
	s := activeStore()
	if s == nil {
		Logger().Error("host callback for unknown env outside any call", zap.Uintptr("env", env))
		return 0
	}
	s.engine.log.Error("host callback for unknown env", zap.Uintptr("env", env))
	return s.newTrapAddr(fmt.Sprintf("host function env %#x is not registered", env))
}

// finalizeHost drops the closure once the native function is gone.
func finalizeHost(env uintptr) {
	if entry, ok := hostEntries.Remove(resource.Handle(env)); ok {
		entry.store.engine.log.Debug("host function finalized", zap.Uintptr("env", env))
	}
}

func (e *Engine) addHost(env resource.Handle) {
	e.hostMu.Lock()
	e.hostEnvs[env] = struct{}{}
	e.hostMu.Unlock()
}

func (e *Engine) dropHost(env resource.Handle) {
	e.hostMu.Lock()
	delete(e.hostEnvs, env)
	e.hostMu.Unlock()
}

// closeHosts drops closures the library never finalized.
func (e *Engine) closeHosts() {
	e.hostMu.Lock()
	envs := make([]resource.Handle, 0, len(e.hostEnvs))
	for env := range e.hostEnvs {
		envs = append(envs, env)
	}
	e.hostMu.Unlock()
	for _, env := range envs {
		hostEntries.Remove(env)
	}
}

// HostFuncs returns the number of host closures the engine still holds.
func (e *Engine) HostFuncs() int {
	e.hostMu.Lock()
	defer e.hostMu.Unlock()
	return len(e.hostEnvs)
}

// NewFunc creates a host function backed by fn.
func (s *Store) NewFunc(params, results []value.Kind, fn HostFunc) (*Func, error) {
	if fn == nil {
		return nil, errors.InvalidInput(errors.PhaseHost, "nil host function")
	}
	if err := checkKinds("params", params); err != nil {
		return nil, err
	}
	if err := checkKinds("results", results); err != nil {
		return nil, err
	}
	sa, err := s.addr(errors.PhaseHost)
	if err != nil {
		return nil, err
	}
	e := s.engine
	if err := e.initHost(); err != nil {
		return nil, err
	}

	lib := s.lib()
	ft, err := s.newFuncType(params, results)
	if err != nil {
		return nil, err
	}
	defer lib.FuncTypeDelete(ft)

	entry := &hostEntry{
		store:   s,
		fn:      fn,
		params:  append([]value.Kind{}, params...),
		results: append([]value.Kind{}, results...),
	}
	env := hostEntries.Insert(entry)
	if env == 0 {
		return nil, errors.AllocationFailed(errors.PhaseHost, "callback table insert", "")
	}
	entry.env = env
	e.addHost(env)

	var f abi.Func
	msg, _ := s.run(func() { f = lib.FuncNewWithEnv(sa, ft, e.trampoline, uintptr(env), e.finalizer) })
	if f == 0 {
		hostEntries.Remove(env)
		return nil, errors.AllocationFailed(errors.PhaseHost, "wasm_func_new_with_env", msg)
	}

	fun := &Func{
		store:   s,
		h:       s.own(abi.KindFunc, uintptr(f), func(a uintptr) { lib.FuncDelete(abi.Func(a)) }),
		params:  entry.params,
		results: entry.results,
	}
	adopt(s, fun, fun.h)
	return fun, nil
}

func checkKinds(what string, kinds []value.Kind) error {
	for i, k := range kinds {
		if !k.IsNum() && !k.IsRef() {
			return errors.InvalidEnum(errors.PhaseHost, []string{what, strconv.Itoa(i)}, uint8(k), "valkind")
		}
	}
	return nil
}

// newFuncType builds a wasm_functype_t. The valtype vectors are handed to
// wasm_functype_new, which takes ownership of them.
func (s *Store) newFuncType(params, results []value.Kind) (abi.FuncType, error) {
	lib := s.lib()
	p, err := s.valTypes(params)
	if err != nil {
		return 0, err
	}
	r, err := s.valTypes(results)
	if err != nil {
		p.Release()
		return 0, err
	}
	pv, err := p.Disown()
	if err != nil {
		r.Release()
		return 0, err
	}
	rv, err := r.Disown()
	if err != nil {
		lib.ValTypeVec.Delete(pv)
		return 0, err
	}
	ft := lib.FuncTypeNew(pv, rv)
	if ft == 0 {
		return 0, errors.AllocationFailed(errors.PhaseHost, "wasm_functype_new", "")
	}
	return ft, nil
}

func (s *Store) valTypes(kinds []value.Kind) (*vector.Vector[abi.ValType], error) {
	lib := s.lib()
	types := make([]abi.ValType, len(kinds))
	for i, k := range kinds {
		types[i] = lib.ValTypeNew(k)
		if types[i] == 0 {
			for _, vt := range types[:i] {
				lib.ValTypeDelete(vt)
			}
			return nil, errors.AllocationFailed(errors.PhaseHost, "wasm_valtype_new", "")
		}
	}
	vec, err := vector.New(&lib.ValTypeVec, types)
	if err != nil {
		for _, vt := range types {
			lib.ValTypeDelete(vt)
		}
		return nil, err
	}
	return vec, nil
}

// call runs the closure against the native argument and result vectors.
// The result vector is pre-sized by the runtime and is never resized.
func (h *hostEntry) call(args *abi.Vec, results *abi.Vec) abi.Trap {
	in, err := vector.Borrowed[abi.Val](uintptr(unsafe.Pointer(args)))
	if err != nil {
		return h.store.trapFor(err)
	}
	raw, err := in.View()
	if err != nil {
		return h.store.trapFor(err)
	}
	vals, err := value.DecodeAll(raw)
	if err != nil {
		return h.store.trapFor(err)
	}
	if err := matchKinds("argument", vals, h.params); err != nil {
		return h.store.trapFor(err)
	}

	ret, err := h.safeCall(vals)
	if err != nil {
		return h.store.trapFor(err)
	}
	if err := matchKinds("result", ret, h.results); err != nil {
		return h.store.trapFor(err)
	}

	out, err := vector.Borrowed[abi.Val](uintptr(unsafe.Pointer(results)))
	if err != nil {
		return h.store.trapFor(err)
	}
	if out.Len() != len(ret) {
		return h.store.trapFor(fmt.Errorf("host function results: runtime provided %d slots for %d values", out.Len(), len(ret)))
	}
	for i, v := range ret {
		if err := out.Set(i, value.Encode(v)); err != nil {
			return h.store.trapFor(err)
		}
	}
	return 0
}

func matchKinds(what string, vals []value.Value, kinds []value.Kind) error {
	if len(vals) != len(kinds) {
		return fmt.Errorf("host function %s count: got %d, want %d", what, len(vals), len(kinds))
	}
	for i, v := range vals {
		if v.Kind() != kinds[i] {
			return fmt.Errorf("host function %s %d: got %s, want %s", what, i, v.Kind(), kinds[i])
		}
	}
	return nil
}

func (h *hostEntry) safeCall(args []value.Value) (out []value.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.store.engine.log.Warn("host function panicked", zap.Any("panic", r))
			err = fmt.Errorf("host function panicked: %v", r)
		}
	}()
	return h.fn(args)
}

// trapFor turns a host error into the trap the callback returns. Ownership
// of the trap passes to the runtime.
func (s *Store) trapFor(err error) abi.Trap {
	var t *Trap
	if stderrors.As(err, &t) && t.store == s {
		if addr, derr := t.h.disown(errors.PhaseHost); derr == nil {
			s.owned.remove(t)
			return abi.Trap(addr)
		}
	}
	return s.newTrapAddr(err.Error())
}

// newTrapAddr creates a native trap carrying msg.
func (s *Store) newTrapAddr(msg string) abi.Trap {
	lib := s.lib()
	bytes, err := vector.FromString(&lib.ByteVec, msg+"\x00")
	if err != nil {
		return 0
	}
	defer bytes.Release()
	return lib.TrapNew(abi.Store(s.h.addr), bytes.Raw())
}
