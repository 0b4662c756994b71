//go:build darwin || linux || freebsd

package dl

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ebitengine/purego"

	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/errors"
)

// Open loads the shared library at path and binds every symbol it exports.
func Open(path string) (*abi.Library, error) {
	if path == "" {
		return nil, errors.Backend("open wasm.h library: empty path", nil)
	}
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, errors.Backend(fmt.Sprintf("open %s", path), err)
	}

	lib := &abi.Library{Name: "dl:" + path}
	bound := 0
	for _, s := range symbols(lib) {
		addr, err := purego.Dlsym(handle, s.name)
		if err != nil || addr == 0 {
			continue
		}
		purego.RegisterFunc(s.fn, addr)
		bound++
	}
	if bound == 0 {
		_ = purego.Dlclose(handle)
		return nil, errors.Backend(fmt.Sprintf("%s exports no wasm.h symbols", path), nil)
	}

	lib.NewHostCallback = newHostCallback
	lib.NewFinalizerCallback = newFinalizerCallback

	var once sync.Once
	lib.Close = func() error {
		var err error
		once.Do(func() {
			if e := purego.Dlclose(handle); e != nil {
				err = errors.Backend(fmt.Sprintf("close %s", path), e)
			}
		})
		return err
	}
	return lib, nil
}

// purego callbacks are never freed and a process may only create a fixed
// number of them. The host trampoline and the finalizer therefore exist once
// per process and forward to the callback registered last.
var (
	hostOnce, finOnce sync.Once
	hostAddr, finAddr uintptr
	hostCB            atomic.Pointer[abi.HostCallback]
	finCB             atomic.Pointer[abi.FinalizerCallback]
)

func newHostCallback(cb abi.HostCallback) uintptr {
	hostCB.Store(&cb)
	hostOnce.Do(func() {
		hostAddr = purego.NewCallback(func(env uintptr, args *abi.Vec, results *abi.Vec) uintptr {
			return uintptr((*hostCB.Load())(env, args, results))
		})
	})
	return hostAddr
}

func newFinalizerCallback(cb abi.FinalizerCallback) uintptr {
	finCB.Store(&cb)
	finOnce.Do(func() {
		finAddr = purego.NewCallback(func(env uintptr) uintptr {
			(*finCB.Load())(env)
			return 0
		})
	})
	return finAddr
}
