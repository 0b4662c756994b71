package emul

import (
	"math"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/internal/wasmtest"
)

type fixture struct {
	b     *Backend
	lib   *abi.Library
	eng   abi.Engine
	store abi.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := NewBackend()
	lib := b.Library()
	require.Empty(t, lib.Missing())

	f := &fixture{b: b, lib: lib}
	f.eng = lib.EngineNew()
	require.NotZero(t, f.eng)
	f.store = lib.StoreNew(f.eng)
	require.NotZero(t, f.store)
	return f
}

// close deletes the store and engine and checks nothing leaked.
func (f *fixture) close(t *testing.T) {
	t.Helper()
	f.lib.StoreDelete(f.store)
	f.lib.EngineDelete(f.eng)
	s := f.b.Stats()
	require.Zero(t, f.b.LiveObjects(), "live objects: %v", s.Live)
	require.Zero(t, s.BadDeletes)
}

func (f *fixture) bytes(t *testing.T, b []byte) abi.Vec {
	t.Helper()
	var v abi.Vec
	f.lib.ByteVec.New(&v, uintptr(len(b)), uintptr(unsafe.Pointer(&b[0])))
	return v
}

func (f *fixture) module(t *testing.T, bin []byte) abi.Module {
	t.Helper()
	v := f.bytes(t, bin)
	defer f.lib.ByteVec.Delete(&v)
	m := f.lib.ModuleNew(f.store, &v)
	require.NotZero(t, m, lastError(f.lib))
	return m
}

func (f *fixture) instantiate(t *testing.T, m abi.Module, imports ...abi.Extern) abi.Instance {
	t.Helper()
	var v abi.Vec
	if len(imports) > 0 {
		v = abi.Vec{Size: uint64(len(imports)), Data: uintptr(unsafe.Pointer(&imports[0]))}
	}
	var trap abi.Trap
	inst := f.lib.InstanceNew(f.store, m, &v, &trap)
	require.Zero(t, trap)
	require.NotZero(t, inst, lastError(f.lib))
	return inst
}

func (f *fixture) exports(t *testing.T, inst abi.Instance) (abi.Vec, []abi.Extern) {
	t.Helper()
	var v abi.Vec
	f.lib.InstanceExports(inst, &v)
	return v, unsafe.Slice((*abi.Extern)(unsafe.Pointer(v.Data)), int(v.Size))
}

func lastError(lib *abi.Library) string {
	n := lib.LastErrorLength()
	if n == 0 {
		return ""
	}
	buf := make([]byte, n)
	if lib.LastErrorMessage(uintptr(unsafe.Pointer(&buf[0])), n) < 0 {
		return ""
	}
	return string(buf[:n-1])
}

func trapMessage(lib *abi.Library, trap abi.Trap) string {
	var msg abi.Vec
	lib.TrapMessage(trap, &msg)
	defer lib.ByteVec.Delete(&msg)
	b := unsafe.Slice((*byte)(unsafe.Pointer(msg.Data)), int(msg.Size))
	return string(b[:len(b)-1])
}

func call(t *testing.T, lib *abi.Library, fn abi.Func, nres int, args ...abi.Val) ([]abi.Val, abi.Trap) {
	t.Helper()
	var argv abi.Vec
	if len(args) > 0 {
		argv = abi.Vec{Size: uint64(len(args)), Data: uintptr(unsafe.Pointer(&args[0]))}
	}
	results := make([]abi.Val, nres)
	var resv abi.Vec
	if nres > 0 {
		resv = abi.Vec{Size: uint64(nres), Data: uintptr(unsafe.Pointer(&results[0]))}
	}
	trap := lib.FuncCall(fn, &argv, &resv)
	return results, trap
}

func i32(x int32) abi.Val {
	v := abi.Val{Kind: abi.I32}
	v.SetI32(x)
	return v
}

func TestErrorSlot(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)

	require.Zero(t, f.lib.LastErrorLength())

	v := f.bytes(t, wasmtest.Invalid())
	defer f.lib.ByteVec.Delete(&v)
	require.Zero(t, f.lib.ModuleNew(f.store, &v))
	require.False(t, f.lib.ModuleValidate(f.store, &v))

	n := f.lib.LastErrorLength()
	require.Positive(t, n)

	small := make([]byte, 1)
	require.Equal(t, int32(-1), f.lib.LastErrorMessage(uintptr(unsafe.Pointer(&small[0])), 1))
	require.Equal(t, n, f.lib.LastErrorLength(), "a failed read keeps the message")

	msg := lastError(f.lib)
	require.NotEmpty(t, msg)
	require.Zero(t, f.lib.LastErrorLength(), "reading clears the slot")
}

func TestErrorSlot_PerGoroutine(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)

	f.lib.Wat2Wasm(&abi.Vec{}, &abi.Vec{})
	require.Positive(t, f.lib.LastErrorLength())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if f.lib.LastErrorLength() != 0 {
			t.Error("error leaked into another goroutine")
		}
	}()
	wg.Wait()

	require.Contains(t, lastError(f.lib), "wat2wasm")
}

func TestAddOne(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)

	m := f.module(t, wasmtest.AddOne())
	inst := f.instantiate(t, m)
	vec, externs := f.exports(t, inst)
	require.Len(t, externs, 1)
	require.Equal(t, abi.ExternFunc, f.lib.ExternKind(externs[0]))
	require.Zero(t, f.lib.ExternAsGlobal(externs[0]))

	fn := f.lib.ExternAsFunc(externs[0])
	require.Equal(t, uintptr(externs[0]), uintptr(fn), "casts reinterpret the same object")
	require.Equal(t, uintptr(1), f.lib.FuncParamArity(fn))
	require.Equal(t, uintptr(1), f.lib.FuncResultArity(fn))

	results, trap := call(t, f.lib, fn, 1, i32(1))
	require.Zero(t, trap)
	require.Equal(t, abi.I32, results[0].Kind)
	require.Equal(t, int32(2), results[0].I32())

	f.lib.ExternVec.Delete(&vec)
	f.lib.InstanceDelete(inst)
	f.lib.ModuleDelete(m)
}

func TestFuncCall_ArgumentChecks(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)

	m := f.module(t, wasmtest.AddOne())
	inst := f.instantiate(t, m)
	vec, externs := f.exports(t, inst)
	fn := f.lib.ExternAsFunc(externs[0])

	_, trap := call(t, f.lib, fn, 1)
	require.NotZero(t, trap)
	require.Contains(t, trapMessage(f.lib, trap), "expected 1 arguments")
	f.lib.TrapDelete(trap)

	bad := abi.Val{Kind: abi.F64}
	_, trap = call(t, f.lib, fn, 1, bad)
	require.NotZero(t, trap)
	require.Contains(t, trapMessage(f.lib, trap), "argument 0")
	f.lib.TrapDelete(trap)

	_, trap = call(t, f.lib, fn, 0, i32(1))
	require.NotZero(t, trap)
	f.lib.TrapDelete(trap)

	f.lib.ExternVec.Delete(&vec)
	f.lib.InstanceDelete(inst)
	f.lib.ModuleDelete(m)
}

func TestTrap(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)

	m := f.module(t, wasmtest.Trap())
	inst := f.instantiate(t, m)
	vec, externs := f.exports(t, inst)

	_, trap := call(t, f.lib, f.lib.ExternAsFunc(externs[0]), 0)
	require.NotZero(t, trap)
	require.Equal(t, "unreachable", trapMessage(f.lib, trap))

	origin := f.lib.TrapOrigin(trap)
	require.NotZero(t, origin)
	require.Equal(t, uint32(1), f.lib.FrameFuncIndex(origin), "innermost frame is inner")
	f.lib.FrameDelete(origin)

	var trace abi.Vec
	f.lib.TrapTrace(trap, &trace)
	require.GreaterOrEqual(t, trace.Size, uint64(2))
	frames := unsafe.Slice((*abi.Frame)(unsafe.Pointer(trace.Data)), int(trace.Size))
	require.Equal(t, uint32(1), f.lib.FrameFuncIndex(frames[0]))
	require.Equal(t, uint32(0), f.lib.FrameFuncIndex(frames[1]))

	var copied abi.Vec
	f.lib.FrameVec.Copy(&copied, &trace)
	f.lib.FrameVec.Delete(&trace)
	f.lib.FrameVec.Delete(&copied)

	f.lib.TrapDelete(trap)
	f.lib.ExternVec.Delete(&vec)
	f.lib.InstanceDelete(inst)
	f.lib.ModuleDelete(m)
}

func TestStartTrap(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)

	m := f.module(t, wasmtest.StartTrap())
	var imports abi.Vec
	var trap abi.Trap
	inst := f.lib.InstanceNew(f.store, m, &imports, &trap)
	require.Zero(t, inst)
	require.NotZero(t, trap)
	require.Equal(t, "unreachable", trapMessage(f.lib, trap))

	f.lib.TrapDelete(trap)
	f.lib.ModuleDelete(m)
}

func TestGlobals(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)

	m := f.module(t, wasmtest.Globals())
	inst := f.instantiate(t, m)
	vec, externs := f.exports(t, inst)
	require.Len(t, externs, 3)

	counter := f.lib.ExternAsGlobal(externs[0])
	answer := f.lib.ExternAsGlobal(externs[1])
	require.NotZero(t, counter)
	require.NotZero(t, answer)

	var got abi.Val
	f.lib.GlobalGet(counter, &got)
	require.Equal(t, int32(0), got.I32())

	v := i32(21)
	f.lib.GlobalSet(counter, &v)
	require.Zero(t, f.lib.LastErrorLength())
	f.lib.GlobalGet(counter, &got)
	require.Equal(t, int32(21), got.I32())

	results, trap := call(t, f.lib, f.lib.ExternAsFunc(externs[2]), 1)
	require.Zero(t, trap)
	require.Equal(t, int32(21), results[0].I32(), "the guest sees the host's write")

	v = i32(7)
	f.lib.GlobalSet(answer, &v)
	require.Contains(t, lastError(f.lib), "immutable")
	f.lib.GlobalGet(answer, &got)
	require.Equal(t, int32(42), got.I32())

	gt := f.lib.GlobalType(answer)
	require.Equal(t, abi.Const, f.lib.GlobalTypeMutability(gt))
	require.Equal(t, abi.I32, f.lib.ValTypeKind(f.lib.GlobalTypeContent(gt)))
	f.lib.GlobalTypeDelete(gt)

	f.lib.ExternVec.Delete(&vec)
	f.lib.InstanceDelete(inst)
	f.lib.ModuleDelete(m)
}

func TestStandaloneGlobal(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)

	gt := f.lib.GlobalTypeNew(f.lib.ValTypeNew(abi.F64), abi.Var)
	init := abi.Val{Kind: abi.F64}
	init.SetF64(math.Pi)
	g := f.lib.GlobalNew(f.store, gt, &init)
	require.NotZero(t, g)
	f.lib.GlobalTypeDelete(gt)

	var got abi.Val
	f.lib.GlobalGet(g, &got)
	require.Equal(t, math.Pi, got.F64())

	wrong := i32(1)
	f.lib.GlobalSet(g, &wrong)
	require.Contains(t, lastError(f.lib), "cannot set f64 global")

	f.lib.GlobalDelete(g)
}

func TestHostFunc(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)

	var calls, finalized int
	var seenEnv uintptr
	cb := f.lib.NewHostCallback(func(env uintptr, args *abi.Vec, results *abi.Vec) abi.Trap {
		calls++
		seenEnv = env
		in := unsafe.Slice((*abi.Val)(unsafe.Pointer(args.Data)), int(args.Size))
		out := unsafe.Slice((*abi.Val)(unsafe.Pointer(results.Data)), int(results.Size))
		out[0] = i32(in[0].I32() * 10)
		return 0
	})
	fin := f.lib.NewFinalizerCallback(func(env uintptr) {
		finalized++
		require.Equal(t, uintptr(77), env)
	})

	ft := f.newFuncType([]abi.ValKind{abi.I32}, []abi.ValKind{abi.I32})
	host := f.lib.FuncNewWithEnv(f.store, ft, cb, 77, fin)
	require.NotZero(t, host)
	f.lib.FuncTypeDelete(ft)

	m := f.module(t, wasmtest.CallHost())
	inst := f.instantiate(t, m, f.lib.FuncAsExtern(host))
	vec, externs := f.exports(t, inst)

	results, trap := call(t, f.lib, f.lib.ExternAsFunc(externs[0]), 1, i32(4))
	require.Zero(t, trap)
	require.Equal(t, int32(40), results[0].I32())
	require.Equal(t, 1, calls)
	require.Equal(t, uintptr(77), seenEnv)

	results, trap = call(t, f.lib, host, 1, i32(5))
	require.Zero(t, trap)
	require.Equal(t, int32(50), results[0].I32())

	f.lib.FuncDelete(host)
	require.Zero(t, finalized, "the instance still links the function")
	f.lib.ExternVec.Delete(&vec)
	f.lib.InstanceDelete(inst)
	require.Equal(t, 1, finalized)

	f.lib.ModuleDelete(m)
}

func TestHostFunc_TrapPassThrough(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)

	var raised abi.Trap
	cb := f.lib.NewHostCallback(func(_ uintptr, _ *abi.Vec, _ *abi.Vec) abi.Trap {
		msg := []byte("host says no\x00")
		v := abi.Vec{Size: uint64(len(msg)), Data: uintptr(unsafe.Pointer(&msg[0]))}
		raised = f.lib.TrapNew(f.store, &v)
		return raised
	})
	ft := f.newFuncType([]abi.ValKind{abi.I32}, []abi.ValKind{abi.I32})
	host := f.lib.FuncNewWithEnv(f.store, ft, cb, 0, 0)
	f.lib.FuncTypeDelete(ft)

	m := f.module(t, wasmtest.CallHost())
	inst := f.instantiate(t, m, f.lib.FuncAsExtern(host))
	vec, externs := f.exports(t, inst)

	_, trap := call(t, f.lib, f.lib.ExternAsFunc(externs[0]), 1, i32(1))
	require.Equal(t, raised, trap, "the host's trap is handed back")
	require.Equal(t, "host says no", trapMessage(f.lib, trap))

	var trace abi.Vec
	f.lib.TrapTrace(trap, &trace)
	require.GreaterOrEqual(t, trace.Size, uint64(2))
	frames := unsafe.Slice((*abi.Frame)(unsafe.Pointer(trace.Data)), int(trace.Size))
	require.Equal(t, uint32(0), f.lib.FrameFuncIndex(frames[0]), "host import is function 0")
	require.Equal(t, uint32(1), f.lib.FrameFuncIndex(frames[1]))
	f.lib.FrameVec.Delete(&trace)

	f.lib.TrapDelete(trap)
	f.lib.ExternVec.Delete(&vec)
	f.lib.InstanceDelete(inst)
	f.lib.FuncDelete(host)
	f.lib.ModuleDelete(m)
}

func TestInstanceNew_ImportErrors(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)

	m := f.module(t, wasmtest.CallHost())

	var empty abi.Vec
	require.Zero(t, f.lib.InstanceNew(f.store, m, &empty, nil))
	require.Contains(t, lastError(f.lib), "requires 1 imports")

	gt := f.lib.GlobalTypeNew(f.lib.ValTypeNew(abi.I32), abi.Const)
	zero := i32(0)
	g := f.lib.GlobalNew(f.store, gt, &zero)
	f.lib.GlobalTypeDelete(gt)

	imports := []abi.Extern{f.lib.GlobalAsExtern(g)}
	v := abi.Vec{Size: 1, Data: uintptr(unsafe.Pointer(&imports[0]))}
	require.Zero(t, f.lib.InstanceNew(f.store, m, &v, nil))
	require.Contains(t, lastError(f.lib), "expected func, got global")

	f.lib.GlobalDelete(g)
	f.lib.ModuleDelete(m)
}

func TestNumeric(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)

	m := f.module(t, wasmtest.Numeric())
	inst := f.instantiate(t, m)
	vec, externs := f.exports(t, inst)

	a, b := abi.Val{Kind: abi.I64}, abi.Val{Kind: abi.I64}
	a.SetI64(math.MaxInt64)
	b.SetI64(1)
	res, trap := call(t, f.lib, f.lib.ExternAsFunc(externs[0]), 1, a, b)
	require.Zero(t, trap)
	require.Equal(t, int64(math.MinInt64), res[0].I64())

	x, y := abi.Val{Kind: abi.F32}, abi.Val{Kind: abi.F32}
	x.SetF32(1.5)
	y.SetF32(2.25)
	res, trap = call(t, f.lib, f.lib.ExternAsFunc(externs[1]), 1, x, y)
	require.Zero(t, trap)
	require.Equal(t, float32(3.75), res[0].F32())

	p, q := abi.Val{Kind: abi.F64}, abi.Val{Kind: abi.F64}
	p.SetF64(0.5)
	q.SetF64(-2)
	res, trap = call(t, f.lib, f.lib.ExternAsFunc(externs[2]), 1, p, q)
	require.Zero(t, trap)
	require.Equal(t, -1.5, res[0].F64())

	wide := abi.Val{Kind: abi.I64}
	wide.SetI64(-9)
	res, trap = call(t, f.lib, f.lib.ExternAsFunc(externs[3]), 2, i32(3), wide)
	require.Zero(t, trap)
	require.Equal(t, abi.I64, res[0].Kind)
	require.Equal(t, int64(-9), res[0].I64())
	require.Equal(t, int32(3), res[1].I32())

	f.lib.ExternVec.Delete(&vec)
	f.lib.InstanceDelete(inst)
	f.lib.ModuleDelete(m)
}

func TestMemoryAndTable(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)

	m := f.module(t, wasmtest.Memory())
	inst := f.instantiate(t, m)
	vec, externs := f.exports(t, inst)
	require.Len(t, externs, 3)

	mem := f.lib.ExternAsMemory(externs[0])
	require.NotZero(t, mem)
	require.Equal(t, uint32(1), f.lib.MemorySize(mem))
	require.Equal(t, uintptr(65536), f.lib.MemoryDataSize(mem))

	data := unsafe.Slice((*byte)(unsafe.Pointer(f.lib.MemoryData(mem))), 8)
	data[4], data[5] = 0x34, 0x12
	res, trap := call(t, f.lib, f.lib.ExternAsFunc(externs[2]), 1, i32(4))
	require.Zero(t, trap)
	require.Equal(t, int32(0x1234), res[0].I32())

	require.True(t, f.lib.MemoryGrow(mem, 1))
	require.Equal(t, uint32(2), f.lib.MemorySize(mem))
	require.False(t, f.lib.MemoryGrow(mem, 1), "max is two pages")

	table := f.lib.ExternAsTable(externs[1])
	require.NotZero(t, table)
	require.Equal(t, uint32(3), f.lib.TableSize(table))
	require.True(t, f.lib.TableGrow(table, 0, 0))
	require.False(t, f.lib.TableGrow(table, 1, 0))
	require.Contains(t, lastError(f.lib), "table.grow")

	f.lib.ExternVec.Delete(&vec)
	f.lib.InstanceDelete(inst)
	f.lib.ModuleDelete(m)
}

func TestStandaloneMemory(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)

	mt := f.lib.MemoryTypeNew(&abi.Limits{Min: 1, Max: 3})
	mem := f.lib.MemoryNew(f.store, mt)
	f.lib.MemoryTypeDelete(mt)
	require.NotZero(t, mem)

	require.True(t, f.lib.MemoryGrow(mem, 2))
	require.Equal(t, uint32(3), f.lib.MemorySize(mem))
	require.False(t, f.lib.MemoryGrow(mem, 1))

	f.lib.MemoryDelete(mem)
}

func TestModuleTypes(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)

	m := f.module(t, wasmtest.CallHost())

	var exports abi.Vec
	f.lib.ModuleExports(m, &exports)
	require.Equal(t, uint64(1), exports.Size)
	et := *(*abi.ExportType)(unsafe.Pointer(exports.Data))
	require.Equal(t, "call_host", nameAt(f.lib.ExportTypeName(et)))
	require.Equal(t, abi.ExternFunc, f.lib.ExternTypeKind(f.lib.ExportTypeType(et)))

	var copied abi.Vec
	f.lib.ExportTypeVec.Copy(&copied, &exports)
	f.lib.ExportTypeVec.Delete(&exports)
	f.lib.ExportTypeVec.Delete(&copied)

	var imports abi.Vec
	f.lib.ModuleImports(m, &imports)
	require.Equal(t, uint64(1), imports.Size)
	it := *(*abi.ImportType)(unsafe.Pointer(imports.Data))
	require.Equal(t, "env", nameAt(f.lib.ImportTypeModule(it)))
	require.Equal(t, "host", nameAt(f.lib.ImportTypeName(it)))
	f.lib.ImportTypeVec.Delete(&imports)

	f.lib.ModuleDelete(m)
}

func TestDoubleDeleteIsCounted(t *testing.T) {
	f := newFixture(t)
	m := f.module(t, wasmtest.AddOne())
	f.lib.ModuleDelete(m)
	f.lib.ModuleDelete(m)
	require.Equal(t, uint64(1), f.b.Stats().BadDeletes)

	f.lib.StoreDelete(f.store)
	f.lib.EngineDelete(f.eng)
	require.Zero(t, f.b.LiveObjects())
}

func TestStoreDeleteFinalizesHostFuncs(t *testing.T) {
	f := newFixture(t)

	finalized := 0
	cb := f.lib.NewHostCallback(func(uintptr, *abi.Vec, *abi.Vec) abi.Trap { return 0 })
	fin := f.lib.NewFinalizerCallback(func(uintptr) { finalized++ })
	ft := f.newFuncType(nil, nil)
	fn := f.lib.FuncNewWithEnv(f.store, ft, cb, 1, fin)
	f.lib.FuncTypeDelete(ft)
	require.NotZero(t, fn)

	f.lib.StoreDelete(f.store)
	f.lib.EngineDelete(f.eng)
	require.Equal(t, 1, finalized)
}

func (f *fixture) newFuncType(params, results []abi.ValKind) abi.FuncType {
	return f.b.newFuncType(params, results)
}

func nameAt(addr uintptr) string {
	return readString((*abi.Vec)(ptrAt(addr)))
}
