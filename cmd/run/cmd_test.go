package main

import (
	"bytes"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-capi/errors"
	"github.com/wippyai/wasm-capi/internal/wasmtest"
	"github.com/wippyai/wasm-capi/runtime"
	"github.com/wippyai/wasm-capi/value"
)

func writeModule(t *testing.T, name string, bin []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, bin, 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(append([]string{"--backend", "emul"}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRun_List(t *testing.T) {
	path := writeModule(t, "host.wasm", wasmtest.CallHost())

	out, _, err := execute(t, path)
	require.NoError(t, err)
	require.Contains(t, out, path)
	require.Contains(t, out, "Imports (1):")
	require.Contains(t, out, "env.host func")
	require.Contains(t, out, "Exports (1):")
	require.Contains(t, out, "call_host func")
}

func TestRun_Call(t *testing.T) {
	path := writeModule(t, "add.wasm", wasmtest.AddOne())

	out, _, err := execute(t, path, "--call", "add_one", "41")
	require.NoError(t, err)
	require.Equal(t, "42\n", out)

	out, _, err = execute(t, path, "--call", "add_one", "--", "-1")
	require.NoError(t, err)
	require.Equal(t, "0\n", out)

	numeric := writeModule(t, "numeric.wasm", wasmtest.Numeric())
	out, _, err = execute(t, numeric, "-c", "swap", "3", "0x10")
	require.NoError(t, err)
	require.Equal(t, "16 3\n", out)
}

func TestRun_Errors(t *testing.T) {
	add := writeModule(t, "add.wasm", wasmtest.AddOne())

	_, stderr, err := execute(t, add, "--call", "add_one", "one")
	require.Error(t, err)
	require.Contains(t, stderr, `"one" is not an integer`)

	_, _, err = execute(t, add, "--call", "add_one")
	require.Error(t, err)

	_, _, err = execute(t, add, "--call", "missing")
	require.True(t, stderrors.Is(err, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindNotFound}))

	_, _, err = execute(t, add, "7")
	require.Error(t, err, "arguments need --call")

	_, _, err = execute(t, filepath.Join(t.TempDir(), "absent.wasm"))
	require.ErrorIs(t, err, os.ErrNotExist)

	host := writeModule(t, "host.wasm", wasmtest.CallHost())
	_, _, err = execute(t, host, "--call", "call_host", "1")
	require.True(t, stderrors.Is(err, &errors.MissingImportsError{}))
}

func TestRun_Trap(t *testing.T) {
	path := writeModule(t, "trap.wasm", wasmtest.Trap())

	out, stderr, err := execute(t, path, "--call", "trap")
	var trap *runtime.Trap
	require.True(t, stderrors.As(err, &trap))
	require.Contains(t, out, "trap: unreachable")
	require.Contains(t, out, "at func[1]")
	require.Contains(t, stderr, "wasm trap: unreachable")
}

func TestRun_WATUnsupportedOnEmul(t *testing.T) {
	path := writeModule(t, "add.wat", []byte(`(module)`))

	_, _, err := execute(t, path)
	require.True(t, stderrors.Is(err, &errors.Error{Phase: errors.PhaseParse, Kind: errors.KindInvalidData}))
}

func TestParseArg(t *testing.T) {
	v, err := parseArg("-5", value.KindI32)
	require.NoError(t, err)
	require.Equal(t, int64(-5), v)

	v, err = parseArg("18446744073709551615", value.KindI64)
	require.NoError(t, err)
	require.Equal(t, uint64(18446744073709551615), v)

	v, err = parseArg("2.5", value.KindF32)
	require.NoError(t, err)
	require.Equal(t, 2.5, v)

	_, err = parseArg("x", value.KindF64)
	require.Error(t, err)

	_, err = parseArg("0", value.KindFuncRef)
	require.True(t, stderrors.Is(err, &errors.Error{Phase: errors.PhaseEncode, Kind: errors.KindUnsupported}))
}
