package emul

import (
	"context"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-capi/abi"
)

// hostFunc is a callback registered through wasm_func_new_with_env. The
// finalizer runs once, when no extern or instance references it anymore or
// when its store is deleted.
type hostFunc struct {
	cb   abi.HostCallback
	env  uintptr
	fin  abi.FinalizerCallback
	refs int
}

type funcImpl struct {
	params  []abi.ValKind
	results []abi.ValKind
	guest   api.Function
	host    *hostFunc
	module  *module
}

func (b *Backend) finalize(hf *hostFunc) {
	if hf.fin != nil {
		hf.fin(hf.env)
	}
}

func (b *Backend) newHostCallback(cb abi.HostCallback) uintptr {
	return b.alloc(kindCallback, cb)
}

func (b *Backend) newFinalizerCallback(cb abi.FinalizerCallback) uintptr {
	return b.alloc(kindCallback, cb)
}

func (b *Backend) funcNewWithEnv(s abi.Store, ft abi.FuncType, cb, env, fin uintptr) abi.Func {
	st := get[*store](b, uintptr(s), kindStore)
	if st == nil {
		b.setError("invalid store")
		return 0
	}
	params, results, ok := b.funcTypeKinds(ft)
	if !ok {
		b.setError("invalid function type")
		return 0
	}
	callback := get[abi.HostCallback](b, cb, kindCallback)
	if callback == nil {
		b.setError("invalid host callback")
		return 0
	}
	var finalizer abi.FinalizerCallback
	if fin != 0 {
		if finalizer = get[abi.FinalizerCallback](b, fin, kindCallback); finalizer == nil {
			b.setError("invalid finalizer callback")
			return 0
		}
	}

	hf := &hostFunc{cb: callback, env: env, fin: finalizer}
	st.mu.Lock()
	st.funcs[hf] = struct{}{}
	st.mu.Unlock()

	return abi.Func(b.newExtern(&extern{
		kind:  abi.ExternFunc,
		store: st,
		fn:    &funcImpl{params: params, results: results, host: hf},
	}))
}

func (b *Backend) funcType(f abi.Func) abi.FuncType {
	ext := b.externOf(uintptr(f), abi.ExternFunc)
	if ext == nil {
		return 0
	}
	return b.newFuncType(ext.fn.params, ext.fn.results)
}

func (b *Backend) funcParamArity(f abi.Func) uintptr {
	if ext := b.externOf(uintptr(f), abi.ExternFunc); ext != nil {
		return uintptr(len(ext.fn.params))
	}
	return 0
}

func (b *Backend) funcResultArity(f abi.Func) uintptr {
	if ext := b.externOf(uintptr(f), abi.ExternFunc); ext != nil {
		return uintptr(len(ext.fn.results))
	}
	return 0
}

// invoke runs fn with its parameters at the bottom of stack and leaves the
// results there, the layout wazero uses for host functions.
func (b *Backend) invoke(fn *funcImpl, stack []uint64) error {
	if fn.guest != nil {
		res, err := fn.guest.Call(b.ctx, stack[:len(fn.params)]...)
		if err != nil {
			return err
		}
		copy(stack, res)
		return nil
	}

	args := make([]abi.Val, len(fn.params))
	for i, k := range fn.params {
		args[i] = fromStack(k, stack[i])
	}
	results := make([]abi.Val, len(fn.results))
	for i, k := range fn.results {
		results[i].Kind = k
	}
	argv, resv := goVec(args), goVec(results)

	trap := fn.host.cb(fn.host.env, &argv, &resv)
	runtime.KeepAlive(args)
	runtime.KeepAlive(results)
	if trap != 0 {
		return &hostTrap{addr: trap, msg: b.trapText(trap)}
	}
	for i := range results {
		if results[i].Kind != fn.results[i] {
			return fmt.Errorf("host function result %d is %s, expected %s", i, results[i].Kind, fn.results[i])
		}
		stack[i] = toStack(&results[i])
	}
	return nil
}

func goVec(vs []abi.Val) abi.Vec {
	if len(vs) == 0 {
		return abi.Vec{}
	}
	return abi.Vec{Size: uint64(len(vs)), Data: uintptr(unsafe.Pointer(&vs[0]))}
}

// goModuleFunc adapts fn for a wazero host module. Errors unwind as panics,
// which wazero turns into the guest call's error with a stack trace.
func (b *Backend) goModuleFunc(fn *funcImpl) api.GoModuleFunc {
	return func(_ context.Context, _ api.Module, stack []uint64) {
		if err := b.invoke(fn, stack); err != nil {
			panic(err)
		}
	}
}

func (b *Backend) funcCall(f abi.Func, args *abi.Vec, results *abi.Vec) abi.Trap {
	ext := b.externOf(uintptr(f), abi.ExternFunc)
	if ext == nil {
		return b.newTrap("invalid function", nil)
	}
	fn := ext.fn

	in := vals(args)
	if len(in) != len(fn.params) {
		return b.newTrap(fmt.Sprintf("expected %d arguments, got %d", len(fn.params), len(in)), nil)
	}
	for i := range in {
		if in[i].Kind != fn.params[i] {
			return b.newTrap(fmt.Sprintf("argument %d is %s, expected %s", i, in[i].Kind, fn.params[i]), nil)
		}
	}
	out := vals(results)
	if len(out) != len(fn.results) {
		return b.newTrap(fmt.Sprintf("expected %d result slots, got %d", len(fn.results), len(out)), nil)
	}

	stack := make([]uint64, max(len(fn.params), len(fn.results)))
	for i := range in {
		stack[i] = toStack(&in[i])
	}
	if err := b.invoke(fn, stack); err != nil {
		return b.trapFromError(err, fn.module)
	}
	for i, k := range fn.results {
		out[i] = fromStack(k, stack[i])
	}
	return 0
}
