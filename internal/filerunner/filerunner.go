// Package filerunner implements the worker's side of the filesystem
// inbox/outbox protocol: watch a working directory for request-<pid>.json
// and cancel-<pid> files, run admitted predictions, and write
// response-<pid>-<epoch>.json atomically. File-naming conventions mirror
// replicate-cog/coglet/internal/runner/runner.go's regexes exactly (that
// file is the supervisor's half of this protocol); the event-loop
// semantics mirror original_source/coglet/file_runner.py's FileRunner.
package filerunner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/semaphore"

	"github.com/replicate/cog-worker/internal/invoke"
	"github.com/replicate/cog-worker/internal/ipc"
	"github.com/replicate/cog-worker/internal/scope"
	"github.com/replicate/cog-worker/internal/wconfig"
	"github.com/replicate/cog-worker/internal/wlog"
)

// osExit is a var so tests can stub it out instead of exercising a real
// process exit, the same seam replicate-cog/coglet/internal/service's
// osExit provides.
var osExit = func(code int) { os.Exit(code) }

var (
	requestRegex        = regexp.MustCompile(`^request-(?P<pid>\S+)\.json$`)
	responseFilePattern = "response-%s-%05d.json"
)

// Request is the decoded shape of a request-<pid>.json file.
type Request struct {
	Input               map[string]any    `json:"input"`
	ID                  string            `json:"id"`
	CreatedAt           string            `json:"created_at"`
	Webhook             string            `json:"webhook,omitempty"`
	WebhookEventsFilter []string          `json:"webhook_events_filter,omitempty"`
	Context             map[string]string `json:"context,omitempty"`
}

// Response is the shape of a response-<pid>-<epoch>.json file.
type Response struct {
	ID          string         `json:"id,omitempty"`
	Status      string         `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      any            `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Logs        string         `json:"logs,omitempty"`
	Metrics     map[string]any `json:"metrics,omitempty"`
	CreatedAt   string         `json:"created_at,omitempty"`
	StartedAt   string         `json:"started_at,omitempty"`
	CompletedAt string         `json:"completed_at,omitempty"`
}

type pendingPrediction struct {
	pid    string
	cancel context.CancelFunc
	epoch  int
	scope  *scope.Scope
	mu     sync.Mutex
}

// Runner owns the single-goroutine event loop driving one predictor.
type Runner struct {
	cfg      wconfig.Config
	invoker  *invoke.Invoker
	notifier *ipc.Notifier
	log      *wlog.Logger

	// sem bounds the number of in-flight prediction tasks. Its weight is
	// 1 unless the predictor implements predictor.Concurrent, matching
	// spec's "max_concurrency > 1 is meaningful only for async
	// predictors" -- a synchronous predictor would just block the single
	// event-loop thread for every admitted task anyway.
	sem *semaphore.Weighted

	mu      sync.Mutex
	pending map[string]*pendingPrediction
	busy    bool
}

// New constructs a Runner. cfg.WorkingDirectory must already exist.
func New(cfg wconfig.Config, invoker *invoke.Invoker, notifier *ipc.Notifier, log *wlog.Logger) *Runner {
	maxConcurrency := 1
	if invoker.Descriptor().IsConcurrent && cfg.MaxConcurrency > 1 {
		maxConcurrency = cfg.MaxConcurrency
	}
	return &Runner{
		cfg:      cfg,
		invoker:  invoker,
		notifier: notifier,
		log:      log.Named("filerunner"),
		sem:      semaphore.NewWeighted(int64(maxConcurrency)),
		pending:  map[string]*pendingPrediction{},
	}
}

// Run executes the setup phase and then the main event loop until ctx is
// canceled or a "stop" file appears in the working directory.
func (r *Runner) Run(ctx context.Context) error {
	dir := r.cfg.WorkingDirectory

	// openapi.json is not cleared here: bootstrap has already written the
	// current schema, replacing any stale one, before Run is called.
	for _, stale := range []string{"setup_result.json", "stop"} {
		_ = os.Remove(filepath.Join(dir, stale))
	}

	setupErr := r.invoker.Setup(ctx)
	if err := r.writeSetupResult(dir, setupErr); err != nil {
		return err
	}
	if setupErr != nil {
		return fmt.Errorf("filerunner: setup failed: %w", setupErr)
	}

	r.notifier.Send(ipc.StatusReady)

	cancelSig := make(chan os.Signal, 1)
	signal.Notify(cancelSig, syscall.SIGUSR1)
	defer signal.Stop(cancelSig)
	go r.watchCancelSignal(ctx, cancelSig)

	if r.cfg.ForceShutdown != nil {
		go r.watchForceShutdown(ctx)
	}

	return r.loop(ctx, dir)
}

// watchCancelSignal cancels every in-flight prediction's context on
// SIGUSR1 -- the legacy cancellation transport for a blocking predictor
// that can't observe a cancel-<pid> file mid-call. Only one prediction is
// normally in flight for a non-Concurrent predictor, so this amounts to
// canceling "the current blocking predict".
func (r *Runner) watchCancelSignal(ctx context.Context, sigCh <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			r.mu.Lock()
			for pid, p := range r.pending {
				r.log.Sugar().Warnw("canceling prediction via SIGUSR1", "pid", pid)
				p.cancel()
			}
			r.mu.Unlock()
		}
	}
}

// watchForceShutdown exits the process immediately, past any in-flight
// prediction, once a second termination signal has triggered force
// shutdown.
func (r *Runner) watchForceShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-r.cfg.ForceShutdown.Watch():
		r.log.Sugar().Errorw("force shutdown triggered, exiting immediately")
		osExit(1)
	}
}

func (r *Runner) writeSetupResult(dir string, setupErr error) error {
	status := "succeeded"
	errMsg := ""
	if setupErr != nil {
		status = "failed"
		errMsg = setupErr.Error()
	}
	result := map[string]any{"status": status}
	if errMsg != "" {
		result["error"] = errMsg
	}
	return atomicWriteJSON(filepath.Join(dir, "setup_result.json"), result)
}

const pollInterval = 100 * time.Millisecond

func (r *Runner) loop(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	var events <-chan fsnotify.Event
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(dir); err == nil {
			events = watcher.Events
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-events:
			r.scanOnce(ctx, dir, &wg)
		case <-ticker.C:
			if r.stopRequested(dir) {
				wg.Wait()
				return nil
			}
			r.scanOnce(ctx, dir, &wg)
		}
	}
}

func (r *Runner) stopRequested(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "stop"))
	return err == nil
}

// scanOnce is called only from the loop goroutine. r.pending is shared with
// the prediction goroutines (which remove themselves on completion) and the
// SIGUSR1 watcher, so every access to it goes through r.mu. Cancel and
// request files are handled every tick, same as file_runner.py's main loop
// body.
func (r *Runner) scanOnce(ctx context.Context, dir string, wg *sync.WaitGroup) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		name := entry.Name()

		if pid, ok := isCancelFile(name); ok {
			_ = os.Remove(filepath.Join(dir, name))
			r.mu.Lock()
			p, exists := r.pending[pid]
			r.mu.Unlock()
			if exists {
				p.cancel()
			} else {
				r.log.Sugar().Warnw("cancel requested for unknown prediction", "pid", pid)
			}
			continue
		}

		if m := requestRegex.FindStringSubmatch(name); m != nil {
			pid := m[1]

			// Admission cap: while at max_concurrency in-flight tasks,
			// leave the request file in place and retry it on the next
			// tick instead of admitting past the limit.
			if !r.sem.TryAcquire(1) {
				continue
			}

			path := filepath.Join(dir, name)
			raw, err := os.ReadFile(path)
			if err != nil {
				r.sem.Release(1)
				continue
			}
			_ = os.Remove(path)

			var req Request
			if err := json.Unmarshal(raw, &req); err != nil {
				r.sem.Release(1)
				r.log.Sugar().Errorw("malformed request file", "pid", pid, "error", err)
				continue
			}

			r.admit(ctx, dir, pid, req, wg)
		}
	}
}

const cancelFilePrefix = "cancel-"

func isCancelFile(name string) (string, bool) {
	if !strings.HasPrefix(name, cancelFilePrefix) {
		return "", false
	}
	return strings.TrimPrefix(name, cancelFilePrefix), true
}

func (r *Runner) admit(ctx context.Context, dir, pid string, req Request, wg *sync.WaitGroup) {
	predCtx, cancel := context.WithCancel(ctx)
	s := scope.New(pid)
	predCtx = scope.WithScope(predCtx, s)

	p := &pendingPrediction{pid: pid, cancel: cancel, scope: s}
	r.mu.Lock()
	r.pending[pid] = p
	r.busy = true
	r.mu.Unlock()
	r.notifier.Send(ipc.StatusBusy)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer r.sem.Release(1)
		defer func() {
			r.mu.Lock()
			delete(r.pending, pid)
			stillBusy := len(r.pending) > 0
			r.busy = stillBusy
			r.mu.Unlock()
			if !stillBusy {
				r.notifier.Send(ipc.StatusReady)
			}
		}()
		r.runPrediction(predCtx, dir, pid, req, p)
	}()
}

func (r *Runner) runPrediction(ctx context.Context, dir, pid string, req Request, p *pendingPrediction) {
	createdAt := req.CreatedAt
	if createdAt == "" {
		createdAt = time.Now().UTC().Format(wconfig.TimeFormat)
	}
	startedAt := time.Now().UTC().Format(wconfig.TimeFormat)

	resp := Response{ID: req.ID, Status: "starting", Input: req.Input, CreatedAt: createdAt, StartedAt: startedAt}

	if req.Webhook != "" {
		r.respond(dir, pid, p, resp)
	}

	in, err := r.invoker.BuildInput(req.Input)
	if err != nil {
		resp.Status = "failed"
		resp.Error = err.Error()
		resp.CompletedAt = time.Now().UTC().Format(wconfig.TimeFormat)
		r.respond(dir, pid, p, resp)
		return
	}

	descriptor := r.invoker.Descriptor()
	if descriptor.IsIter {
		resp.Status = "processing"
		var items []any
		predictErr := r.invoker.Predict(ctx, in, func(item any) error {
			items = append(items, item)
			resp.Output = append([]any(nil), items...)
			if req.Webhook != "" {
				r.respond(dir, pid, p, resp)
			}
			return nil
		})
		finalizeTerminal(&resp, ctx, predictErr)
	} else {
		var single any
		predictErr := r.invoker.Predict(ctx, in, func(item any) error {
			single = item
			return nil
		})
		resp.Output = single
		finalizeTerminal(&resp, ctx, predictErr)
	}

	resp.CompletedAt = time.Now().UTC().Format(wconfig.TimeFormat)
	resp.Metrics = p.scope.Metrics()
	r.respond(dir, pid, p, resp)
}

func finalizeTerminal(resp *Response, ctx context.Context, predictErr error) {
	switch {
	case ctx.Err() != nil:
		resp.Status = "canceled"
	case predictErr != nil:
		resp.Status = "failed"
		resp.Error = predictErr.Error()
	default:
		resp.Status = "succeeded"
	}
}

func (r *Runner) respond(dir, pid string, p *pendingPrediction, resp Response) {
	p.mu.Lock()
	epoch := p.epoch
	p.epoch++
	p.mu.Unlock()

	path := filepath.Join(dir, fmt.Sprintf(responseFilePattern, pid, epoch))
	if err := atomicWriteJSON(path, resp); err != nil {
		r.log.Sugar().Errorw("failed to write response", "pid", pid, "epoch", epoch, "error", err)
		return
	}
	r.notifier.Send(ipc.StatusOutput)
}

// atomicWriteJSON writes via a temp file in the same directory followed
// by a rename, so a reader never observes a partially written response --
// the same pattern file_runner.py's _respond uses (tempfile.mkstemp +
// os.rename) and runner.go's response writer relies on from the other
// side of the protocol.
func atomicWriteJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
