//go:build !(darwin || linux || freebsd)

package dl

import (
	"runtime"

	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/errors"
)

// Open reports that dynamic loading is unavailable on this platform.
func Open(path string) (*abi.Library, error) {
	return nil, errors.Backend("dynamic loading is not supported on "+runtime.GOOS, nil)
}
