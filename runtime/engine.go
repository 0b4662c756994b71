package runtime

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/abi/dl"
	"github.com/wippyai/wasm-capi/abi/emul"
	"github.com/wippyai/wasm-capi/errors"
	"github.com/wippyai/wasm-capi/resource"
	"github.com/wippyai/wasm-capi/vector"
)

// Engine owns a wasm_engine_t and the library it came from. Stores created
// from an engine are closed with it.
type Engine struct {
	lib      *abi.Library
	h        *handle
	log      *zap.Logger
	bridge   bridge
	leaks    bool
	closeLib bool
	stores   children

	hostOnce   sync.Once
	hostErr    error
	trampoline uintptr
	finalizer  uintptr
	hostMu     sync.Mutex
	hostEnvs   map[resource.Handle]struct{}
}

// NewEngine creates an engine on the emulated backend.
func NewEngine() (*Engine, error) {
	return NewEngineWithConfig(nil)
}

// NewEngineWithConfig creates an engine on the backend cfg selects. The
// backend is unloaded when the engine closes.
func NewEngineWithConfig(cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var lib *abi.Library
	switch cfg.Backend {
	case BackendDL:
		var err error
		if lib, err = dl.Open(cfg.LibraryPath); err != nil {
			return nil, err
		}
	default:
		lib = emul.New()
	}

	e, err := newEngine(lib, cfg)
	if err != nil {
		if lib.Close != nil {
			err = multierr.Append(err, lib.Close())
		}
		return nil, err
	}
	e.closeLib = true
	return e, nil
}

// NewEngineWithLibrary creates an engine on an already loaded library. The
// caller keeps ownership of lib.
func NewEngineWithLibrary(lib *abi.Library, cfg *Config) (*Engine, error) {
	if lib == nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "nil library")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	return newEngine(lib, cfg)
}

func newEngine(lib *abi.Library, cfg *Config) (*Engine, error) {
	if missing := lib.Missing(); len(missing) > 0 {
		return nil, errors.Backend(fmt.Sprintf("library %s lacks %s", lib.Name, strings.Join(missing, ", ")), nil)
	}

	log := cfg.logger().With(zap.String("backend", lib.Name))
	e := &Engine{
		lib:      lib,
		log:      log,
		bridge:   bridge{lib: lib, log: log},
		leaks:    cfg.DetectLeaks,
		hostEnvs: make(map[resource.Handle]struct{}),
	}

	var addr abi.Engine
	msg, _ := e.bridge.run(func() { addr = lib.EngineNew() })
	if addr == 0 {
		return nil, errors.AllocationFailed(errors.PhaseLoad, "wasm_engine_new", msg)
	}
	e.h = own(log, abi.KindEngine, uintptr(addr), func(a uintptr) { lib.EngineDelete(abi.Engine(a)) })
	if e.leaks {
		watch(e, e.h)
	}
	return e, nil
}

// Library exposes the raw entry points for calls the wrappers do not cover.
func (e *Engine) Library() *abi.Library {
	return e.lib
}

// Raw returns the native engine, or 0 after Close.
func (e *Engine) Raw() abi.Engine {
	addr, _ := e.h.get(errors.PhaseRuntime)
	return abi.Engine(addr)
}

// LastError reads and clears the calling thread's pending native error.
func (e *Engine) LastError() (string, bool) {
	return e.bridge.lastError()
}

// NewStore creates a store owned by the engine.
func (e *Engine) NewStore() (*Store, error) {
	addr, err := e.h.get(errors.PhaseRuntime)
	if err != nil {
		return nil, err
	}
	var s abi.Store
	msg, _ := e.bridge.run(func() { s = e.lib.StoreNew(abi.Engine(addr)) })
	if s == 0 {
		return nil, errors.AllocationFailed(errors.PhaseRuntime, "wasm_store_new", msg)
	}
	lib := e.lib
	st := &Store{
		engine: e,
		h:      own(e.log, abi.KindStore, uintptr(s), func(a uintptr) { lib.StoreDelete(abi.Store(a)) }),
		lock:   &storeLock{},
		owned:  &children{},
	}
	h, owned := st.h, st.owned
	track(&e.stores, st, h, func() error {
		err := owned.closeAll()
		h.release()
		return err
	})
	if e.leaks {
		watch(st, h)
	}
	return st, nil
}

// Wat2Wasm translates WebAssembly text with the library's wat2wasm.
func (e *Engine) Wat2Wasm(text string) ([]byte, error) {
	if _, err := e.h.get(errors.PhaseParse); err != nil {
		return nil, err
	}
	if e.lib.Wat2Wasm == nil {
		return nil, errors.Unsupported(errors.PhaseParse, "library has no wat2wasm")
	}
	in, err := vector.FromString(&e.lib.ByteVec, text)
	if err != nil {
		return nil, err
	}
	defer in.Release()

	out := vector.Out[byte](&e.lib.ByteVec)
	defer out.Release()
	msg, failed := e.bridge.run(func() { e.lib.Wat2Wasm(in.Raw(), out.Raw()) })
	if out.Raw().Data == 0 {
		if !failed {
			msg = "wat2wasm returned no output"
		}
		return nil, errors.New(errors.PhaseParse, errors.KindInvalidData).Detail("%s", msg).Build()
	}
	return out.Slice()
}

// Close closes every store of the engine, then deletes the engine. Calls
// after the first return nil.
func (e *Engine) Close() error {
	if !e.h.alive() {
		return nil
	}
	err := e.stores.closeAll()
	if !e.h.release() {
		return err
	}
	e.closeHosts()
	if e.closeLib && e.lib.Close != nil {
		err = multierr.Append(err, e.lib.Close())
	}
	return err
}
