// Package ipc sends the worker's out-of-band READY/BUSY/OUTPUT
// notifications to the supervising host, adapted from
// replicate-cog/coglet/internal/webhook/webhook.go's DefaultSender: same
// retry-policy HTTP client, same swallow-and-log-on-failure contract,
// since the response file on disk -- not this notification -- is ground
// truth for prediction state.
package ipc

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/replicate/go/httpclient"

	"github.com/replicate/cog-worker/internal/wlog"
)

// Status is the worker's coarse-grained state, reported on every
// transition.
type Status string

const (
	StatusReady  Status = "READY"
	StatusBusy   Status = "BUSY"
	StatusOutput Status = "OUTPUT"
)

// Notification is the payload POSTed to the IPC URL.
type Notification struct {
	Name       string `json:"name"`
	PID        int    `json:"pid"`
	Status     Status `json:"status"`
	WorkingDir string `json:"working_dir"`
}

// Notifier sends Notifications, swallowing delivery failures after
// logging them.
type Notifier struct {
	url        string
	name       string
	workingDir string
	pid        int
	client     *http.Client
	log        *wlog.Logger
}

// New builds a Notifier posting to url.
func New(url, name, workingDir string, pid int, log *wlog.Logger) *Notifier {
	return &Notifier{
		url:        url,
		name:       name,
		workingDir: workingDir,
		pid:        pid,
		client:     httpclient.ApplyRetryPolicy(http.DefaultClient),
		log:        log.Named("ipc"),
	}
}

// Send posts status to the configured IPC URL. A failure is logged and
// swallowed: the caller always proceeds as if the notification succeeded,
// since the durable source of truth is the response file on disk.
func (n *Notifier) Send(status Status) {
	if n.url == "" {
		return
	}
	payload := Notification{Name: n.name, PID: n.pid, Status: status, WorkingDir: n.workingDir}
	body, err := json.Marshal(payload)
	if err != nil {
		n.log.Sugar().Errorw("failed to marshal ipc notification", "error", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.log.Sugar().Errorw("failed to build ipc request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Sugar().Errorw("failed to send ipc notification", "status", status, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.log.Sugar().Errorw("ipc notification rejected", "status", status, "http_status", resp.StatusCode)
	}
}
