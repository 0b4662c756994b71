package main

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-capi/errors"
	"github.com/wippyai/wasm-capi/runtime"
	"github.com/wippyai/wasm-capi/value"
)

type options struct {
	backend string
	library string
	call    string
	debug   bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "run <module.wasm|module.wat> [args...]",
		Short: "Load a WebAssembly module and call one of its exports",
		Long: `Load a WebAssembly module and call one of its exports.

  Without --call the module's imports and exports are listed. Arguments are
  parsed according to the function's parameter types. Put negative numbers
  after "--" so they are not read as flags.

  The backend defaults to WASMCAPI_BACKEND and WASMCAPI_LIBRARY.`,
		Example: `  run add.wasm
  run add.wasm --call add_one 41
  run --backend dl --library /usr/lib/libwasmer.so add.wat --call add_one -- -1`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := run(opts, newPrinter(stdout), args[0], args[1:])
			if err != nil {
				newPrinter(stderr).failure(err)
			}
			return err
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.StringVar(&opts.backend, "backend", "", "native backend, emul or dl")
	flags.StringVar(&opts.library, "library", "", "wasm.h shared library for the dl backend")
	flags.StringVarP(&opts.call, "call", "c", "", "exported function to call")
	flags.BoolVar(&opts.debug, "debug", false, "log resource lifecycle to stderr")
	return cmd
}

func config(opts *options) (*runtime.Config, error) {
	cfg, err := runtime.ConfigFromEnv(nil)
	if err != nil {
		return nil, err
	}
	if opts.backend != "" {
		cfg.Backend = opts.backend
	}
	if opts.library != "" {
		cfg.LibraryPath = opts.library
	}
	if opts.debug {
		log, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		cfg.Logger = log
	}
	return cfg, nil
}

func run(opts *options, p *printer, path string, args []string) (err error) {
	cfg, err := config(opts)
	if err != nil {
		return err
	}
	engine, err := runtime.NewEngineWithConfig(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, engine.Close()) }()

	store, err := engine.NewStore()
	if err != nil {
		return err
	}
	module, err := load(store, path)
	if err != nil {
		return err
	}

	if opts.call == "" {
		if len(args) > 0 {
			return errors.InvalidInput(errors.PhaseCall, "arguments given without --call")
		}
		return list(p, path, module)
	}

	instance, err := store.Instantiate(module)
	if err != nil {
		return err
	}
	exports, err := instance.Exports()
	if err != nil {
		return err
	}
	fn, err := exports.Func(opts.call)
	if err != nil {
		return err
	}
	params, _, err := fn.Type()
	if err != nil {
		return err
	}
	if len(args) != len(params) {
		return errors.InvalidInput(errors.PhaseCall, fmt.Sprintf("%s takes %d arguments, got %d", opts.call, len(params), len(args)))
	}
	in := make([]any, len(args))
	for i, arg := range args {
		if in[i], err = parseArg(arg, params[i]); err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}

	results, err := fn.Invoke(in...)
	if err != nil {
		var trap *runtime.Trap
		if stderrors.As(err, &trap) {
			p.trap(trap)
		}
		return err
	}
	p.results(results)
	return nil
}

func load(store *runtime.Store, path string) (*runtime.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read module: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".wat") {
		return store.NewModuleFromWAT(string(data))
	}
	return store.NewModule(data)
}

func list(p *printer, path string, module *runtime.Module) error {
	imports, err := module.Imports()
	if err != nil {
		return err
	}
	exports, err := module.Exports()
	if err != nil {
		return err
	}
	p.module(path, imports, exports)
	return nil
}

// parseArg reads a command line argument as a Go number of the width kind
// takes. Integers accept any base prefix strconv understands.
func parseArg(s string, kind value.Kind) (any, error) {
	switch kind {
	case value.KindI32, value.KindI64:
		if n, err := strconv.ParseInt(s, 0, 64); err == nil {
			return n, nil
		}
		n, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return nil, errors.InvalidInput(errors.PhaseEncode, fmt.Sprintf("%q is not an integer", s))
		}
		return n, nil
	case value.KindF32, value.KindF64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errors.InvalidInput(errors.PhaseEncode, fmt.Sprintf("%q is not a number", s))
		}
		return f, nil
	}
	return nil, errors.Unsupported(errors.PhaseEncode, kind.String()+" arguments")
}
