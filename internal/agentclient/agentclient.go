// Package agentclient talks to a MailPipe agent backend over HTTP.
//
// The gateway role uses it in place of an in-process orchestrator: each turn
// is posted to the backend's run endpoint and the final thread state comes
// back in the response.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BTreeMap/MailPipe/internal/instrumentation"
	"github.com/BTreeMap/MailPipe/internal/logging"
	"github.com/BTreeMap/MailPipe/internal/models"
	"github.com/BTreeMap/MailPipe/internal/util"
)

// Default timeouts for the backend calls.
const (
	DefaultRunTimeout    = 120 * time.Second
	DefaultHealthTimeout = 5 * time.Second
)

// Backend paths.
const (
	RunPathFormat = "/threads/%s/runs/wait"
	HealthPath    = "/ok"
)

// maxErrorBody bounds how much of a failed response is kept for logging.
const maxErrorBody = 4 << 10

// RunInput is the turn payload accepted by the backend.
type RunInput struct {
	UserInput    string                 `json:"userInput"`
	Action       models.TurnAction      `json:"action,omitempty"`
	EditedEmails []models.ComposedEmail `json:"editedEmails,omitempty"`
	UserToken    string                 `json:"userToken,omitempty"`
}

// RunRequest is the body of POST /threads/{threadId}/runs/wait.
type RunRequest struct {
	Input RunInput `json:"input"`
}

// TurnRequest converts the payload back into a turn for threadID.
func (r RunRequest) TurnRequest(threadID string) models.TurnRequest {
	return models.TurnRequest{
		Message:      r.Input.UserInput,
		ThreadID:     threadID,
		Action:       r.Input.Action,
		EditedEmails: r.Input.EditedEmails,
		UserToken:    r.Input.UserToken,
	}
}

// BackendStatus describes the agent backend as seen by the gateway.
type BackendStatus string

const (
	BackendConnected    BackendStatus = "connected"
	BackendDisconnected BackendStatus = "disconnected"
	BackendError        BackendStatus = "error"
)

// Opts holds configuration for the client.
type Opts struct {
	RunTimeout    time.Duration
	HealthTimeout time.Duration
	HTTPClient    *http.Client
	Metrics       *instrumentation.Metrics
}

// Option defines a configuration option for the client.
type Option func(*Opts)

// WithRunTimeout bounds a single run.
func WithRunTimeout(d time.Duration) Option {
	return func(o *Opts) { o.RunTimeout = d }
}

// WithHealthTimeout bounds a health probe.
func WithHealthTimeout(d time.Duration) Option {
	return func(o *Opts) { o.HealthTimeout = d }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithMetrics records backend calls as gateway calls.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// Client is a remote agent runner.
type Client struct {
	baseURL string
	http    *http.Client
	opts    Opts
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	o := Opts{RunTimeout: DefaultRunTimeout, HealthTimeout: DefaultHealthTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid agent URL %q", models.ErrInput, baseURL)
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(u.String(), "/"), http: o.HTTPClient, opts: o}, nil
}

// ProcessTurn posts the turn to the backend and returns the final state.
func (c *Client) ProcessTurn(ctx context.Context, req models.TurnRequest) (state models.AgentState, err error) {
	defer func() { c.opts.Metrics.RecordGatewayCall(ctx, "agent", "run", err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return models.AgentState{}, err
	}
	threadID := util.ResolveThreadID(req.ThreadID)

	body, err := json.Marshal(RunRequest{Input: RunInput{
		UserInput:    req.Message,
		Action:       req.Action,
		EditedEmails: req.EditedEmails,
		UserToken:    req.UserToken,
	}})
	if err != nil {
		return models.AgentState{}, fmt.Errorf("failed to encode run request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.RunTimeout)
	defer cancel()
	endpoint := c.baseURL + fmt.Sprintf(RunPathFormat, url.PathEscape(threadID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return models.AgentState{}, fmt.Errorf("failed to build run request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		slog.Warn("agentclient.Client.ProcessTurn: backend call failed", logging.KeyThread, threadID, logging.Err(err))
		return models.AgentState{}, models.NewGatewayError("agent", "run", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		slog.Warn("agentclient.Client.ProcessTurn: backend returned error", logging.KeyThread, threadID,
			"status", resp.StatusCode, "body", strings.TrimSpace(string(msg)))
		return models.AgentState{}, &models.GatewayError{
			Gateway: "agent",
			Op:      "run",
			Kind:    kindForStatus(resp.StatusCode),
			Err:     fmt.Errorf("backend returned status %d", resp.StatusCode),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return models.AgentState{}, &models.GatewayError{Gateway: "agent", Op: "run", Kind: models.ErrUpstreamProcessing, Err: err}
	}
	return state, nil
}

// Health probes the backend. An unreachable backend is disconnected; one
// that answers with a non-2xx status is in error.
func (c *Client) Health(ctx context.Context) BackendStatus {
	ctx, cancel := context.WithTimeout(ctx, c.opts.HealthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+HealthPath, nil)
	if err != nil {
		return BackendError
	}
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Debug("agentclient.Client.Health: backend unreachable", logging.Err(err))
		return BackendDisconnected
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return BackendError
	}
	return BackendConnected
}

// kindForStatus keeps the backend's own classification where it has one.
func kindForStatus(status int) error {
	switch status {
	case http.StatusBadRequest:
		return models.ErrInput
	case http.StatusUnauthorized:
		return models.ErrAuthExpired
	case http.StatusServiceUnavailable:
		return models.ErrUpstreamUnavailable
	case http.StatusGatewayTimeout:
		return models.ErrUpstreamTimeout
	default:
		return models.ErrUpstreamProcessing
	}
}
