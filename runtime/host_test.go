package runtime

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-capi/errors"
	"github.com/wippyai/wasm-capi/internal/wasmtest"
	"github.com/wippyai/wasm-capi/resource"
	"github.com/wippyai/wasm-capi/value"
)

var i32ToI32 = []value.Kind{value.KindI32}

func TestHostFunc(t *testing.T) {
	f := newFixture(t)

	var seen []int32
	host, err := f.store.NewFunc(i32ToI32, i32ToI32, func(args []value.Value) ([]value.Value, error) {
		seen = append(seen, args[0].I32())
		return []value.Value{value.I32(args[0].I32() * 10)}, nil
	})
	require.NoError(t, err)
	require.True(t, host.Owned())
	require.Equal(t, 1, f.engine.HostFuncs())

	params, results, err := host.Type()
	require.NoError(t, err)
	require.Equal(t, i32ToI32, params)
	require.Equal(t, i32ToI32, results)

	out, err := host.Call(value.I32(5))
	require.NoError(t, err, "host functions are callable directly")
	require.Equal(t, int32(50), out[0].I32())

	inst, ex := f.instantiate(t, wasmtest.CallHost(), host)
	got, err := f.fn(t, ex, "call_host").Invoke(4)
	require.NoError(t, err)
	require.Equal(t, []any{int32(40)}, got)
	require.Equal(t, []int32{5, 4}, seen)

	// The instance still links the function, so the closure survives.
	require.NoError(t, host.Close())
	require.NoError(t, host.Close())
	require.Equal(t, 1, f.engine.HostFuncs())
	got, err = f.fn(t, ex, "call_host").Invoke(6)
	require.NoError(t, err)
	require.Equal(t, []any{int32(60)}, got)

	require.NoError(t, ex.Close())
	require.NoError(t, inst.Close())
	require.Zero(t, f.engine.HostFuncs(), "finalizer ran")

	_, err = host.Call(value.I32(1))
	requireKind(t, err, errors.KindReleased)
}

func TestHostFunc_StoreCloseFinalizes(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.NewFunc(nil, nil, func([]value.Value) ([]value.Value, error) { return nil, nil })
	require.NoError(t, err)
	_, err = f.store.NewFunc(i32ToI32, nil, func([]value.Value) ([]value.Value, error) { return nil, nil })
	require.NoError(t, err)
	require.Equal(t, 2, f.engine.HostFuncs())

	require.NoError(t, f.store.Close())
	require.Zero(t, f.engine.HostFuncs())
}

func TestHostFunc_Errors(t *testing.T) {
	tests := []struct {
		name    string
		fn      HostFunc
		message string
	}{
		{
			name: "error",
			fn: func([]value.Value) ([]value.Value, error) {
				return nil, fmt.Errorf("quota exceeded")
			},
			message: "quota exceeded",
		},
		{
			name: "panic",
			fn: func([]value.Value) ([]value.Value, error) {
				panic("boom")
			},
			message: "host function panicked: boom",
		},
		{
			name: "result count",
			fn: func([]value.Value) ([]value.Value, error) {
				return nil, nil
			},
			message: "host function result count: got 0, want 1",
		},
		{
			name: "result kind",
			fn: func([]value.Value) ([]value.Value, error) {
				return []value.Value{value.F64(1)}, nil
			},
			message: "host function result 0: got f64, want i32",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			host, err := f.store.NewFunc(i32ToI32, i32ToI32, tt.fn)
			require.NoError(t, err)
			inst, ex := f.instantiate(t, wasmtest.CallHost(), host)
			defer inst.Close()

			_, err = f.fn(t, ex, "call_host").Call(value.I32(1))
			var trap *Trap
			require.True(t, stderrors.As(err, &trap), "got %v", err)
			require.Equal(t, tt.message, trap.Message())
			require.True(t, stderrors.Is(err, errors.ErrGuestTrap))
		})
	}
}

func TestHostFunc_TrapPassThrough(t *testing.T) {
	f := newFixture(t)
	trapInst, trapEx := f.instantiate(t, wasmtest.Trap())
	defer trapInst.Close()
	inner := f.fn(t, trapEx, "trap")

	var raised *Trap
	host, err := f.store.NewFunc(i32ToI32, i32ToI32, func([]value.Value) ([]value.Value, error) {
		_, err := inner.Call()
		stderrors.As(err, &raised)
		return nil, err
	})
	require.NoError(t, err)
	inst, ex := f.instantiate(t, wasmtest.CallHost(), host)
	defer inst.Close()

	_, err = f.fn(t, ex, "call_host").Call(value.I32(1))
	var trap *Trap
	require.True(t, stderrors.As(err, &trap))
	require.NotNil(t, raised)
	require.NotSame(t, raised, trap)
	require.Zero(t, raised.Raw(), "ownership passed to the runtime")
	require.NotZero(t, trap.Raw())
	require.Equal(t, raised.Message(), trap.Message())

	// The host's trap is handed back as is, so the caller owns it once.
	require.NoError(t, raised.Close())
	require.NotZero(t, trap.Raw())
	require.NoError(t, trap.Close())
	require.Zero(t, f.backend.Stats().BadDeletes)
}

func TestHostFunc_NewTrapPassThrough(t *testing.T) {
	f := newFixture(t)

	host, err := f.store.NewFunc(i32ToI32, i32ToI32, func([]value.Value) ([]value.Value, error) {
		trap, err := f.store.NewTrap("denied")
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("policy: %w", trap)
	})
	require.NoError(t, err)
	inst, ex := f.instantiate(t, wasmtest.CallHost(), host)
	defer inst.Close()

	_, err = f.fn(t, ex, "call_host").Call(value.I32(1))
	var trap *Trap
	require.True(t, stderrors.As(err, &trap))
	require.Equal(t, "denied", trap.Message())
	frames := trap.Trace()
	require.GreaterOrEqual(t, len(frames), 2, "guest frames are attached")
	require.Equal(t, uint32(0), frames[0].FuncIndex, "host import is function 0")
}

func TestHostFunc_Reentrant(t *testing.T) {
	f := newFixture(t)
	addInst, addEx := f.instantiate(t, wasmtest.AddOne())
	defer addInst.Close()
	addOne := f.fn(t, addEx, "add_one")

	host, err := f.store.NewFunc(i32ToI32, i32ToI32, func(args []value.Value) ([]value.Value, error) {
		return addOne.Call(args[0])
	})
	require.NoError(t, err)
	inst, ex := f.instantiate(t, wasmtest.CallHost(), host)
	defer inst.Close()

	out, err := f.fn(t, ex, "call_host").Call(value.I32(9))
	require.NoError(t, err)
	require.Equal(t, int32(10), out[0].I32())
}

func TestNewFunc_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.NewFunc(nil, nil, nil)
	requireKind(t, err, errors.KindInvalidInput)

	_, err = f.store.NewFunc([]value.Kind{7}, nil, func([]value.Value) ([]value.Value, error) { return nil, nil })
	e := requireKind(t, err, errors.KindInvalidEnum)
	require.Equal(t, []string{"params", "0"}, e.Path)
	require.Zero(t, f.engine.HostFuncs())
}

func TestHostFunc_UnknownEnvTraps(t *testing.T) {
	f := newFixture(t)

	fn, err := f.store.NewFunc(nil, i32ToI32, func([]value.Value) ([]value.Value, error) {
		return []value.Value{value.I32(1)}, nil
	})
	require.NoError(t, err)

	f.engine.hostMu.Lock()
	var env resource.Handle
	for h := range f.engine.hostEnvs {
		env = h
	}
	f.engine.hostMu.Unlock()
	_, ok := hostEntries.Remove(env)
	require.True(t, ok)
	require.Zero(t, f.engine.HostFuncs())

	_, err = fn.Call()
	var trap *Trap
	require.True(t, stderrors.As(err, &trap), "got %v", err)
	require.Equal(t, fmt.Sprintf("host function env %#x is not registered", uintptr(env)), trap.Message())
	require.NoError(t, trap.Close())

	require.Zero(t, invokeHost(uintptr(env), nil, nil), "no call in flight, nothing to trap")
}

func TestHostFunc_RoutedAcrossEngines(t *testing.T) {
	a, b := newFixture(t), newFixture(t)

	scale := func(f *fixture, by int32) *Func {
		fn, err := f.store.NewFunc(i32ToI32, i32ToI32, func(args []value.Value) ([]value.Value, error) {
			return []value.Value{value.I32(args[0].I32() * by)}, nil
		})
		require.NoError(t, err)
		return fn
	}
	fa, fb := scale(a, 2), scale(b, 3)

	out, err := fa.Call(value.I32(5))
	require.NoError(t, err)
	require.Equal(t, int32(10), out[0].I32())

	require.NoError(t, a.engine.Close())
	require.Zero(t, a.engine.HostFuncs())

	out, err = fb.Call(value.I32(5))
	require.NoError(t, err)
	require.Equal(t, int32(15), out[0].I32())
	require.Equal(t, 1, b.engine.HostFuncs())
}
