package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/ksco/cfgld/pkg/config"
	"github.com/ksco/cfgld/pkg/linker"
	"github.com/ksco/cfgld/pkg/utils"
)

var version string

type options struct {
	arg     linker.ContextArg
	script  string
	verbose bool
}

func main() {
	opts := parseArgs(os.Args[1:])

	logger := newLogger(opts.verbose)
	defer logger.Sync()
	linker.SetLogger(logger)

	if opts.script == "" {
		utils.Fatal("no linker configuration given (use -T <file>)")
	}
	if len(opts.arg.Inputs) == 0 {
		utils.Fatal("no input files")
	}

	cfg, err := config.Load(opts.script)
	if err != nil {
		utils.Fatal(&linker.LinkError{Kind: linker.KindInvalidConfig, File: opts.script, Cause: err})
	}

	ctx := linker.NewContext(cfg)
	ctx.Arg = opts.arg

	if err := linker.Link(context.Background(), ctx); err != nil {
		for _, e := range multierr.Errors(err) {
			utils.Error(e)
		}
		if rmErr := os.Remove(ctx.Arg.Output); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.Warn("cannot remove output", zap.String("file", ctx.Arg.Output), zap.Error(rmErr))
		}
		os.Exit(1)
	}
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true
	cfg.EncoderConfig.TimeKey = ""
	if term.IsTerminal(int(os.Stderr.Fd())) {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		utils.Fatal(fmt.Sprintf("cannot create logger: %v", err))
	}
	return logger
}

func parseArgs(args []string) *options {
	opts := &options{
		arg: linker.ContextArg{
			Emulation: linker.MachineTypeNone,
			Output:    "a.out",
		},
	}

	dashes := func(name string) []string {
		if len(name) == 1 {
			return []string{"-" + name}
		}
		if name[0] == 'o' {
			return []string{"--" + name}
		}
		return []string{"-" + name, "--" + name}
	}

	var arg string

	readArg := func(name string) bool {
		for _, opt := range dashes(name) {
			if args[0] == opt {
				if len(args) == 1 {
					utils.Fatal(fmt.Sprintf("option -%s: argument missing", name))
					return false
				}
				arg = args[1]
				args = args[2:]
				return true
			}

			prefix := opt
			if len(name) > 1 {
				prefix += "="
			}

			if strings.HasPrefix(args[0], prefix) {
				arg = args[0][len(prefix):]
				args = args[1:]
				return true
			}
		}
		return false
	}

	readFlag := func(name string) bool {
		for _, opt := range dashes(name) {
			if args[0] == opt {
				args = args[1:]
				return true
			}
		}
		return false
	}

	for len(args) > 0 {
		if readFlag("help") {
			fmt.Printf("Usage: %s [options] -T config.toml file...\n", os.Args[0])
			os.Exit(0)
		}

		if readArg("o") || readArg("output") {
			opts.arg.Output = arg
		} else if readFlag("v") || readFlag("version") {
			fmt.Printf("cfgld %s\n", version)
			os.Exit(0)
		} else if readFlag("verbose") {
			opts.verbose = true
		} else if readArg("flavor") {
			if arg != "gnu" {
				utils.Fatal(fmt.Sprintf("unsupported -flavor: %s", arg))
			}
		} else if readArg("T") || readArg("script") {
			opts.script = arg
		} else if readArg("m") {
			if arg == "elf64lriscv" {
				opts.arg.Emulation = linker.MachineTypeRISCV64
			} else {
				utils.Fatal(fmt.Sprintf("unknown -m argument: %s", arg))
			}
		} else if readArg("sysroot") {
			// Ignored
		} else if readArg("L") || readArg("library-path") {
			opts.arg.LibraryPaths = append(opts.arg.LibraryPaths, arg)
		} else if readFlag("static") || readFlag("Bstatic") {
			// Do nothing.
		} else if readFlag("Bdynamic") ||
			readFlag("gc-sections") ||
			readArg("plugin") ||
			readArg("plugin-opt") ||
			readFlag("as-needed") ||
			readFlag("start-group") ||
			readFlag("end-group") ||
			readArg("hash-style") ||
			readArg("build-id") ||
			readFlag("s") ||
			readFlag("no-relax") {
			// Ignored
		} else if readArg("l") {
			opts.arg.Inputs = append(opts.arg.Inputs, "-l"+arg)
		} else {
			if args[0][0] == '-' {
				utils.Fatal(fmt.Sprintf("unknown command line option: %s", args[0]))
			}
			opts.arg.Inputs = append(opts.arg.Inputs, args[0])
			args = args[1:]
		}
	}

	for i, path := range opts.arg.LibraryPaths {
		opts.arg.LibraryPaths[i] = filepath.Clean(path)
	}

	return opts
}
