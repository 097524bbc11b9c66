package filerunner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicate/cog-worker/internal/inspect"
	"github.com/replicate/cog-worker/internal/invoke"
	"github.com/replicate/cog-worker/internal/ipc"
	"github.com/replicate/cog-worker/internal/wconfig"
	"github.com/replicate/cog-worker/internal/wlog"
	"github.com/replicate/cog-worker/pkg/predictor"
)

type upperInput struct {
	Text string `cog:"name=text"`
}

type upperPredictor struct{ predictor.Base }

func (p *upperPredictor) Predict(ctx context.Context, in upperInput) (string, error) {
	out := make([]byte, len(in.Text))
	for i := 0; i < len(in.Text); i++ {
		c := in.Text[i]
		if c >= 'a' && c <= 'z' {
			c -= 32
		}
		out[i] = c
	}
	return string(out), nil
}

func waitForFile(t *testing.T, path string, timeout time.Duration) []byte {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil {
			return data
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", path)
	return nil
}

func TestRunner_EndToEndPrediction(t *testing.T) {
	dir := t.TempDir()

	pred := &upperPredictor{}
	d, err := inspect.Build(pred)
	require.NoError(t, err)
	invoker := invoke.New(d, pred)

	var notified []ipc.Status
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n ipc.Notification
		_ = json.NewDecoder(r.Body).Decode(&n)
		notified = append(notified, n.Status)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	log := wlog.New("test")
	notifier := ipc.New(srv.URL, "test-worker", dir, os.Getpid(), log)

	cfg := wconfig.Config{WorkingDirectory: dir}
	runner := New(cfg, invoker, notifier, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	setupResult := waitForFile(t, filepath.Join(dir, "setup_result.json"), time.Second)
	assert.Contains(t, string(setupResult), `"succeeded"`)

	req := Request{Input: map[string]any{"text": "hi"}, ID: "p1", CreatedAt: "2024-01-01T00:00:00Z"}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "request-p1.json"), body, 0o644))

	respPath := filepath.Join(dir, "response-p1-00000.json")
	data := waitForFile(t, respPath, 2*time.Second)

	var resp Response
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, "succeeded", resp.Status)
	assert.Equal(t, "HI", resp.Output)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "stop"), nil, 0o644))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after stop file was written")
	}
}

// countingInput/countingPredictor implement predictor.Concurrent and track
// the number of simultaneously in-flight Predict calls, so the test can
// assert the admission cap is actually enforced rather than just checking
// final output.
type countingInput struct {
	Sleep int `cog:"name=sleep"`
}

type countingPredictor struct {
	predictor.Base
	predictor.ConcurrentPredictor
	inFlight int32
	maxSeen  int32
}

func (p *countingPredictor) Predict(ctx context.Context, in countingInput) (string, error) {
	n := atomic.AddInt32(&p.inFlight, 1)
	for {
		seen := atomic.LoadInt32(&p.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&p.maxSeen, seen, n) {
			break
		}
	}
	time.Sleep(time.Duration(in.Sleep) * time.Millisecond)
	atomic.AddInt32(&p.inFlight, -1)
	return "done", nil
}

func TestRunner_AdmissionCapEnforced(t *testing.T) {
	dir := t.TempDir()

	pred := &countingPredictor{}
	d, err := inspect.Build(pred)
	require.NoError(t, err)
	require.True(t, d.IsConcurrent)
	invoker := invoke.New(d, pred)

	log := wlog.New("test")
	notifier := ipc.New("", "test-worker", dir, os.Getpid(), log)

	cfg := wconfig.Config{WorkingDirectory: dir, MaxConcurrency: 2}
	runner := New(cfg, invoker, notifier, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	waitForFile(t, filepath.Join(dir, "setup_result.json"), time.Second)

	for i := 0; i < 4; i++ {
		req := Request{Input: map[string]any{"sleep": 150}, ID: fmt.Sprintf("p%d", i)}
		body, err := json.Marshal(req)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("request-p%d.json", i)), body, 0o644))
	}

	for i := 0; i < 4; i++ {
		waitForFile(t, filepath.Join(dir, fmt.Sprintf("response-p%d-00000.json", i)), 3*time.Second)
	}

	assert.LessOrEqual(t, int(atomic.LoadInt32(&pred.maxSeen)), 2,
		"more predictions ran concurrently than max_concurrency allows")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "stop"), nil, 0o644))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after stop file was written")
	}
}

// blockingInput/blockingPredictor is a synchronous (non-Concurrent)
// predictor whose Predict blocks until its context is canceled, the shape
// SIGUSR1 cancellation is meant for.
type blockingInput struct {
	Text string `cog:"name=text"`
}

type blockingPredictor struct{ predictor.Base }

func (p *blockingPredictor) Predict(ctx context.Context, in blockingInput) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestRunner_SIGUSR1CancelsBlockingPredictor(t *testing.T) {
	dir := t.TempDir()

	pred := &blockingPredictor{}
	d, err := inspect.Build(pred)
	require.NoError(t, err)
	require.False(t, d.IsConcurrent)
	invoker := invoke.New(d, pred)

	log := wlog.New("test")
	notifier := ipc.New("", "test-worker", dir, os.Getpid(), log)

	cfg := wconfig.Config{WorkingDirectory: dir}
	runner := New(cfg, invoker, notifier, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	waitForFile(t, filepath.Join(dir, "setup_result.json"), time.Second)

	req := Request{Input: map[string]any{"text": "hi"}, ID: "p1"}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "request-p1.json"), body, 0o644))

	// Give the runner a tick to admit the request before raising SIGUSR1.
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	data := waitForFile(t, filepath.Join(dir, "response-p1-00000.json"), 2*time.Second)
	var resp Response
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, "canceled", resp.Status)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "stop"), nil, 0o644))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after stop file was written")
	}
}
