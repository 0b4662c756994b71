//go:build darwin || linux || freebsd

package dl

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/errors"
)

// Every native Library field must have a symbol. The callback constructors
// and Close are supplied by Open itself.
func TestSymbols_CoverLibrary(t *testing.T) {
	lib := &abi.Library{}
	bound := make(map[uintptr]string)
	for _, s := range symbols(lib) {
		addr := reflect.ValueOf(s.fn).Pointer()
		require.NotContains(t, bound, addr, "field bound twice: %s and %s", bound[addr], s.name)
		bound[addr] = s.name
	}

	skip := map[string]bool{"NewHostCallback": true, "NewFinalizerCallback": true, "Close": true}
	var walk func(v reflect.Value, prefix string)
	walk = func(v reflect.Value, prefix string) {
		for i := 0; i < v.NumField(); i++ {
			f := v.Field(i)
			name := prefix + v.Type().Field(i).Name
			switch f.Kind() {
			case reflect.Func:
				if skip[name] {
					continue
				}
				require.Contains(t, bound, f.Addr().Pointer(), "no symbol for %s", name)
			case reflect.Struct:
				walk(f, name+".")
			}
		}
	}
	walk(reflect.ValueOf(lib).Elem(), "")
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "libmissing.so"))
	require.Error(t, err)
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errors.KindBackend, e.Kind)
	require.Equal(t, errors.PhaseLoad, e.Phase)
}

func TestOpen_Library(t *testing.T) {
	path := os.Getenv("WASMCAPI_LIBRARY")
	if path == "" {
		t.Skip("WASMCAPI_LIBRARY not set")
	}
	lib, err := Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, lib.Close()) }()

	require.Empty(t, lib.Missing())

	engine := lib.EngineNew()
	require.NotZero(t, engine)
	store := lib.StoreNew(engine)
	require.NotZero(t, store)
	lib.StoreDelete(store)
	lib.EngineDelete(engine)

	require.Zero(t, lib.LastErrorLength())
}
