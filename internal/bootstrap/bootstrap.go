// Package bootstrap wires together config handover, logger construction,
// schema generation, and the file runner -- the worker process's startup
// sequence, grounded on original_source/coglet/__main__.py's main()/
// pre_setup() (config-handover polling loop, stdout/stderr interception
// install) adapted to a statically-linked Go binary: there is no
// sys.path/venv step here since Go has no equivalent dynamic import path.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/replicate/cog-worker/internal/filerunner"
	"github.com/replicate/cog-worker/internal/inspect"
	"github.com/replicate/cog-worker/internal/invoke"
	"github.com/replicate/cog-worker/internal/ipc"
	"github.com/replicate/cog-worker/internal/openapi"
	"github.com/replicate/cog-worker/internal/scope"
	"github.com/replicate/cog-worker/internal/wconfig"
	"github.com/replicate/cog-worker/internal/wlog"
)

// Options configures one worker process invocation.
type Options struct {
	WorkingDirectory string
	IPCURL           string
	Name             string
	ConfigTimeout    time.Duration
	// MaxConcurrency is the value read from config.json's max_concurrency
	// field during the config handover. It is only meaningful for a
	// predictor implementing predictor.Concurrent; the file runner clamps
	// it to 1 otherwise.
	MaxConcurrency int
	// ForceShutdown, if set, lets a second termination signal force an
	// immediate exit past any in-flight prediction.
	ForceShutdown *wconfig.ForceShutdownSignal
}

// Run performs the full startup sequence for predictorValue (a pointer to
// a user predictor type implementing the Predict/optional-Setup method
// set described in pkg/predictor) and then serves predictions until the
// context is canceled or a stop file appears.
func Run(ctx context.Context, opts Options, predictorValue any) error {
	log := wlog.New("cog-worker")
	defer log.Sync()

	restoreStdio, err := interceptStdio()
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer restoreStdio()

	descriptor, err := inspect.Build(predictorValue)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	descriptor.MaxConcurrency = opts.MaxConcurrency
	if descriptor.MaxConcurrency < 1 {
		descriptor.MaxConcurrency = 1
	}

	doc, err := openapi.Generate(descriptor)
	if err != nil {
		return fmt.Errorf("bootstrap: schema generation: %w", err)
	}
	if err := writeJSON(filepath.Join(opts.WorkingDirectory, "openapi.json"), doc); err != nil {
		return fmt.Errorf("bootstrap: write schema: %w", err)
	}

	invoker := invoke.New(descriptor, predictorValue)

	notifier := ipc.New(opts.IPCURL, opts.Name, opts.WorkingDirectory, os.Getpid(), log)

	cfg := wconfig.Config{
		WorkingDirectory: opts.WorkingDirectory,
		IPCURL:           opts.IPCURL,
		Name:             opts.Name,
		MaxConcurrency:   descriptor.MaxConcurrency,
		ForceShutdown:    opts.ForceShutdown,
	}

	runner := filerunner.New(cfg, invoker, notifier, log)
	return runner.Run(ctx)
}

// interceptStdio replaces the process-wide os.Stdout/os.Stderr with pipes
// drained through a LinePrefixWriter, so print statements anywhere in the
// process -- including inside a running predictor -- are line-buffered
// and prefixed before reaching the real stdout/stderr. Go has no
// goroutine-local storage (unlike Python's contextvars, which follow an
// asyncio.Task), so concurrent predictions' interleaved output cannot be
// attributed to the right pid the way original_source's scope.ctx_write
// does per-task; every write here uses the "[pid=logger] " prefix. A
// predictor wanting per-prediction log attribution should instead call
// scope.RecordMetric or write through a scope.LinePrefixWriter obtained
// from its own context.
func interceptStdio() (restore func(), err error) {
	realStdout, realStderr := os.Stdout, os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return nil, err
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	pump := func(r *os.File, under *os.File) {
		w := scope.NewLinePrefixWriter(under, func() string { return "" })
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				_, _ = w.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}
	go pump(stdoutR, realStdout)
	go pump(stderrR, realStderr)

	return func() {
		os.Stdout = realStdout
		os.Stderr = realStderr
		stdoutW.Close()
		stderrW.Close()
	}, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// WaitForConfig polls the working directory for config.json, the
// supervisor's handover file naming the predictor to load and the
// max_concurrency it should be served with, up to timeout -- matching
// original_source/coglet/__main__.py's pre_setup() 60s/10ms poll loop.
func WaitForConfig(dir string, timeout time.Duration) (packagePath, typeName string, maxConcurrency int, err error) {
	deadline := time.Now().Add(timeout)
	path := filepath.Join(dir, "config.json")

	for time.Now().Before(deadline) {
		data, readErr := os.ReadFile(path)
		if readErr == nil {
			var cfg struct {
				ModuleName     string `json:"module_name"`
				PredictorName  string `json:"predictor_name"`
				MaxConcurrency int    `json:"max_concurrency"`
			}
			if err := json.Unmarshal(data, &cfg); err != nil {
				return "", "", 0, fmt.Errorf("bootstrap: malformed config.json: %w", err)
			}
			_ = os.Remove(path)
			if cfg.MaxConcurrency < 1 {
				cfg.MaxConcurrency = 1
			}
			return cfg.ModuleName, cfg.PredictorName, cfg.MaxConcurrency, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return "", "", 0, fmt.Errorf("bootstrap: timed out waiting for config.json after %s", timeout)
}
