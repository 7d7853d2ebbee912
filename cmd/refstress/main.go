package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/heap"
	"github.com/wippyai/ffi-bridge/wasmstore"
)

func main() {
	var (
		bridges      = flag.Int("bridges", 64, "Concurrent bridges, one OS thread each")
		rounds       = flag.Int("rounds", 1, "Number of rounds to run")
		store        = flag.String("store", "go", "Payload store: go or wasm")
		limitPages   = flag.Uint("pages", wasmstore.DefaultMemoryLimitPages, "Memory limit in 64KB pages for -store wasm")
		checkThreads = flag.Bool("check-threads", true, "Record a violation when an Env is used off its thread")
		verbose      = flag.Bool("v", false, "Verbose logging")
		logPath      = flag.String("log", "", "Verbose log destination (default stderr, refstress.log with -i)")
		interactive  = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	opts := options{
		bridges:      *bridges,
		rounds:       *rounds,
		store:        *store,
		limitPages:   uint32(*limitPages),
		checkThreads: *checkThreads,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	flush := func() {}
	if *verbose {
		path := *logPath
		if path == "" && *interactive {
			// The TUI owns the terminal.
			path = "refstress.log"
		}
		logger, err := newLogger(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		flush = func() { _ = logger.Sync() }
		heap.SetLogger(logger.Named("heap"))
		handle.SetLogger(logger.Named("handle"))
		wasmstore.SetLogger(logger.Named("wasmstore"))
	}

	code := run(ctx, opts, *interactive)
	flush()
	stop()
	os.Exit(code)
}

// run executes the scenario and returns the process exit code: 0 for a clean
// run, 1 on error, 2 when the run finished with leaks or violations.
func run(ctx context.Context, opts options, interactive bool) int {
	var (
		rep *report
		err error
	)
	if interactive {
		rep, err = runInteractive(ctx, opts)
	} else {
		rep, err = runScenario(ctx, opts, nil)
		if rep != nil {
			if term.IsTerminal(int(os.Stdout.Fd())) {
				fmt.Println(renderReport(rep))
			} else {
				fmt.Print(plainReport(rep))
			}
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if rep == nil {
		fmt.Fprintln(os.Stderr, "Error: run stopped before completion")
		return 1
	}
	if !rep.Clean() {
		return 2
	}
	return 0
}

// newLogger builds a development logger writing to path, or to stderr when
// path is empty.
func newLogger(path string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if path != "" {
		cfg.OutputPaths = []string{path}
		cfg.ErrorOutputPaths = []string{path}
	}
	return cfg.Build()
}
