package runtime

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/errors"
	"github.com/wippyai/wasm-capi/value"
	"github.com/wippyai/wasm-capi/vector"
)

// Func is a function: borrowed when it comes from an export, owned when it
// was created with Store.NewFunc.
type Func struct {
	store *Store
	h     *handle

	typeOnce sync.Once
	typeErr  error
	params   []value.Kind
	results  []value.Kind
}

// Raw returns the native function, or 0 once released.
func (f *Func) Raw() abi.Func {
	addr, _ := f.h.get(errors.PhaseRuntime)
	return abi.Func(addr)
}

// Owned reports whether Close deletes the native function.
func (f *Func) Owned() bool {
	return f.h.owns
}

// Type returns the parameter and result kinds.
func (f *Func) Type() (params, results []value.Kind, err error) {
	addr, err := f.h.get(errors.PhaseRuntime)
	if err != nil {
		return nil, nil, err
	}
	f.typeOnce.Do(func() {
		if f.params != nil || f.results != nil {
			return
		}
		f.params, f.results, f.typeErr = funcTypeKinds(f.store.lib(), abi.Func(addr))
	})
	return f.params, f.results, f.typeErr
}

func funcTypeKinds(lib *abi.Library, fn abi.Func) ([]value.Kind, []value.Kind, error) {
	if lib.FuncType == nil || lib.FuncTypeParams == nil || lib.FuncTypeResults == nil {
		return nil, nil, errors.Unsupported(errors.PhaseDecode, "library has no wasm_func_type")
	}
	ft := lib.FuncType(fn)
	if ft == 0 {
		return nil, nil, errors.AllocationFailed(errors.PhaseDecode, "wasm_func_type", "")
	}
	defer lib.FuncTypeDelete(ft)

	params, err := valTypeKinds(lib, lib.FuncTypeParams(ft))
	if err != nil {
		return nil, nil, err
	}
	results, err := valTypeKinds(lib, lib.FuncTypeResults(ft))
	if err != nil {
		return nil, nil, err
	}
	return params, results, nil
}

// valTypeKinds reads the const wasm_valtype_vec_t* at addr.
func valTypeKinds(lib *abi.Library, addr uintptr) ([]value.Kind, error) {
	vec, err := vector.Borrowed[abi.ValType](addr)
	if err != nil {
		return nil, err
	}
	types, err := vec.View()
	if err != nil {
		return nil, err
	}
	kinds := make([]value.Kind, len(types))
	for i, vt := range types {
		kinds[i] = lib.ValTypeKind(vt)
	}
	return kinds, nil
}

// ParamArity returns the number of parameters.
func (f *Func) ParamArity() (int, error) {
	addr, err := f.h.get(errors.PhaseRuntime)
	if err != nil {
		return 0, err
	}
	if lib := f.store.lib(); lib.FuncParamArity != nil {
		return int(lib.FuncParamArity(abi.Func(addr))), nil
	}
	params, _, err := f.Type()
	return len(params), err
}

// ResultArity returns the number of results.
func (f *Func) ResultArity() (int, error) {
	addr, err := f.h.get(errors.PhaseRuntime)
	if err != nil {
		return 0, err
	}
	if lib := f.store.lib(); lib.FuncResultArity != nil {
		return int(lib.FuncResultArity(abi.Func(addr))), nil
	}
	_, results, err := f.Type()
	return len(results), err
}

// Call invokes the function. Arguments must match the parameter kinds. A
// guest trap is returned as a *Trap.
func (f *Func) Call(args ...value.Value) ([]value.Value, error) {
	addr, err := f.h.get(errors.PhaseCall)
	if err != nil {
		return nil, err
	}
	params, results, err := f.Type()
	if err != nil {
		return nil, err
	}
	if len(args) != len(params) {
		return nil, errors.InvalidInput(errors.PhaseCall, fmt.Sprintf("expected %d arguments, got %d", len(params), len(args)))
	}
	for i, arg := range args {
		if arg.Kind() != params[i] {
			return nil, errors.New(errors.PhaseCall, errors.KindTypeMismatch).
				Path("args", strconv.Itoa(i)).
				WasmType(params[i].String()).
				Detail("got %s", arg.Kind()).
				Build()
		}
	}

	in := vector.External(value.EncodeAll(args))
	defer in.Release()
	out := vector.External(make([]abi.Val, len(results)))
	defer out.Release()

	lib := f.store.lib()
	var trap abi.Trap
	f.store.run(func() { trap = lib.FuncCall(abi.Func(addr), in.Raw(), out.Raw()) })
	if trap != 0 {
		return nil, f.store.adoptTrap(trap)
	}

	vals, err := out.View()
	if err != nil {
		return nil, err
	}
	return value.DecodeAll(vals)
}

// Invoke converts Go numbers to the parameter kinds, calls the function and
// unwraps the results.
func (f *Func) Invoke(args ...any) ([]any, error) {
	params, _, err := f.Type()
	if err != nil {
		return nil, err
	}
	if len(args) != len(params) {
		return nil, errors.InvalidInput(errors.PhaseCall, fmt.Sprintf("expected %d arguments, got %d", len(params), len(args)))
	}
	vals := make([]value.Value, len(args))
	for i, arg := range args {
		v, err := value.FromGo(arg, params[i])
		if err != nil {
			if e, ok := err.(*errors.Error); ok {
				e.Path = []string{"args", strconv.Itoa(i)}
			}
			return nil, err
		}
		vals[i] = v
	}
	results, err := f.Call(vals...)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(results))
	for i, r := range results {
		out[i] = r.Unwrap()
	}
	return out, nil
}

func (f *Func) externAddr(phase errors.Phase) (abi.Extern, error) {
	addr, err := f.h.get(phase)
	if err != nil {
		return 0, err
	}
	lib := f.store.lib()
	if lib.FuncAsExtern == nil {
		return 0, errors.Unsupported(phase, "library has no wasm_func_as_extern")
	}
	return lib.FuncAsExtern(abi.Func(addr)), nil
}

// Close deletes an owned function and detaches a borrowed one.
func (f *Func) Close() error {
	if !f.h.owns {
		f.h.release()
		return nil
	}
	f.store.lock.lock()
	released := f.h.release()
	f.store.lock.unlock()
	if released {
		f.store.owned.remove(f)
	}
	return nil
}
