package runtime

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wippyai/wasm-capi/abi/emul"
	"github.com/wippyai/wasm-capi/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	backend *emul.Backend
	engine  *Engine
	store   *Store
}

// newFixture opens an engine and store on a private emulated backend. At
// cleanup the engine is closed and the backend must hold no live objects
// and have seen no bad deletes.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, nil)
}

func newFixtureWithConfig(t *testing.T, cfg *Config) *fixture {
	t.Helper()
	b := emul.NewBackend()
	lib := b.Library()

	eng, err := NewEngineWithLibrary(lib, cfg)
	require.NoError(t, err)
	store, err := eng.NewStore()
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, eng.Close())
		s := b.Stats()
		require.Zero(t, b.LiveObjects(), "live objects: %v", s.Live)
		require.Zero(t, s.BadDeletes)
		require.Zero(t, eng.HostFuncs())
		require.NoError(t, lib.Close())
	})
	return &fixture{backend: b, engine: eng, store: store}
}

func (f *fixture) module(t *testing.T, bin []byte) *Module {
	t.Helper()
	m, err := f.store.NewModule(bin)
	require.NoError(t, err)
	return m
}

// instantiate compiles bin, instantiates it and returns its exports.
func (f *fixture) instantiate(t *testing.T, bin []byte, imports ...Importable) (*Instance, *Exports) {
	t.Helper()
	inst, err := f.store.Instantiate(f.module(t, bin), imports...)
	require.NoError(t, err)
	ex, err := inst.Exports()
	require.NoError(t, err)
	return inst, ex
}

func (f *fixture) fn(t *testing.T, ex *Exports, name string) *Func {
	t.Helper()
	fn, err := ex.Func(name)
	require.NoError(t, err)
	return fn
}

func requireKind(t *testing.T, err error, kind errors.Kind) *errors.Error {
	t.Helper()
	require.Error(t, err)
	var e *errors.Error
	require.True(t, stderrors.As(err, &e), "not an *errors.Error: %v", err)
	require.Equal(t, kind, e.Kind, e.Error())
	return e
}
