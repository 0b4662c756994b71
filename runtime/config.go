package runtime

import (
	"os"

	"github.com/mstoykov/envconfig"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-capi/errors"
)

// Backend names.
const (
	BackendEmul = "emul"
	BackendDL   = "dl"
)

// Config selects and tunes the native backend of an Engine.
type Config struct {
	// Backend is BackendEmul (default) or BackendDL.
	Backend string `envconfig:"WASMCAPI_BACKEND"`
	// LibraryPath is the wasm.h shared library loaded by BackendDL.
	LibraryPath string `envconfig:"WASMCAPI_LIBRARY"`
	// DetectLeaks logs a warning for every owned resource collected by the
	// garbage collector before Close.
	DetectLeaks bool `envconfig:"WASMCAPI_DETECT_LEAKS"`
	// Logger overrides the package logger.
	Logger *zap.Logger `ignored:"true"`
}

// ConfigFromEnv reads a Config from WASMCAPI_* variables. A nil lookup uses
// the process environment.
func ConfigFromEnv(lookup func(string) (string, bool)) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := &Config{}
	if err := envconfig.Process("", cfg, lookup); err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "read config from environment")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case "", BackendEmul:
	case BackendDL:
		if c.LibraryPath == "" {
			return errors.InvalidInput(errors.PhaseLoad, "backend dl requires a library path")
		}
	default:
		return errors.InvalidInput(errors.PhaseLoad, "unknown backend "+c.Backend)
	}
	return nil
}

func (c *Config) logger() *zap.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return Logger()
}
