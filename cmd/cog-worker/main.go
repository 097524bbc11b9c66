// Command cog-worker hosts a single predictor and serves predictions
// dispatched by a supervising host over the filesystem inbox/outbox
// protocol. CLI parsing follows replicate-cog/coglet/cmd/coglet-server's
// kong-based pattern.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/replicate/cog-worker/internal/bootstrap"
	"github.com/replicate/cog-worker/internal/lint"
	"github.com/replicate/cog-worker/internal/wconfig"
)

// CLI is the top-level command set.
var CLI struct {
	Serve ServeCmd `cmd:"" default:"1" help:"Serve predictions from the working directory."`
	Lint  LintCmd  `cmd:"" help:"Statically check a predictor source file for ambiguous defaults."`
}

// ServeCmd runs the worker's file-runner event loop.
type ServeCmd struct {
	WorkingDir    string        `name:"working-dir" env:"COG_WORKING_DIR" default:"." help:"Directory watched for request/cancel files."`
	IPCURL        string        `name:"ipc-url" env:"COG_IPC_URL" help:"URL notified on READY/BUSY/OUTPUT transitions."`
	Name          string        `name:"name" env:"COG_NAME" help:"Name reported in IPC notifications. Defaults to a generated instance ID."`
	ConfigTimeout time.Duration `name:"config-timeout" default:"60s" help:"How long to wait for config.json handover."`
}

// Run loads the predictor named by the config handover file and serves
// predictions until terminated. A first SIGTERM/interrupt begins a
// graceful shutdown; a second forces an immediate exit past any
// in-flight prediction, the same two-stage shutdown replicate-cog's
// service.go implements around its ForceShutdownSignal.
func (c *ServeCmd) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	forceShutdown := wconfig.NewForceShutdownSignal()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
		<-sigCh
		forceShutdown.Trigger()
	}()

	_, _, maxConcurrency, err := bootstrap.WaitForConfig(c.WorkingDir, c.ConfigTimeout)
	if err != nil {
		return err
	}

	predictorValue, err := loadPredictor()
	if err != nil {
		return err
	}

	name := c.Name
	if name == "" {
		name = "cog-worker-" + uuid.NewString()
	}

	opts := bootstrap.Options{
		WorkingDirectory: c.WorkingDir,
		IPCURL:           c.IPCURL,
		Name:             name,
		ConfigTimeout:    c.ConfigTimeout,
		MaxConcurrency:   maxConcurrency,
		ForceShutdown:    forceShutdown,
	}
	return bootstrap.Run(ctx, opts, predictorValue)
}

// loadPredictor is the seam a generated or hand-written registration
// shim fills in: unlike Python, a Go worker cannot dynamically import an
// arbitrary module_name/predictor_name pair at runtime, so the binary is
// built once per predictor with its type wired in here (normally via a
// small generated file in the same package, out of scope for this
// runtime per the spec's package-discovery non-goal).
var loadPredictorFunc func() (any, error)

func loadPredictor() (any, error) {
	if loadPredictorFunc == nil {
		return nil, fmt.Errorf("cog-worker: no predictor registered; build this binary with a generated registration shim")
	}
	return loadPredictorFunc()
}

// LintCmd runs the static ambiguous-default check over one source file.
type LintCmd struct {
	File string `arg:"" help:"Go source file defining the predictor's input struct."`
}

// Run parses File and reports any ambiguous default=nil fields.
func (c *LintCmd) Run() error {
	findings, err := lint.CheckFile(c.File)
	if err != nil {
		return err
	}
	for _, f := range findings {
		fmt.Fprintln(os.Stderr, f.String())
	}
	if len(findings) > 0 {
		return fmt.Errorf("cog-worker: %d ambiguous default(s) found", len(findings))
	}
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("cog-worker"),
		kong.Description("Hosts a predictor and serves predictions over the filesystem protocol."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
