// Package genai provides the language-model gateway used by the email agent.
//
// Two providers are supported: OpenAI chat completions (default) and Google
// Gemini. Both sit behind ClientInterface and both treat the model as an
// untrusted text source: callers decode the output themselves.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/MailPipe/internal/instrumentation"
	"github.com/BTreeMap/MailPipe/internal/models"
)

// Defaults for the language-model gateway.
const (
	DefaultModel       = openai.ChatModelGPT4oMini
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024
	DefaultTimeout     = 60 * time.Second
)

// ErrNoChoicesReturned is returned when the provider answers with no content.
var ErrNoChoicesReturned = errors.New("no choices returned")

// ClientInterface is what the agent needs from a language model.
type ClientInterface interface {
	// Complete sends one system + user prompt pair and returns the raw text.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// Provider names the backing service, used in logs and metrics.
	Provider() string
}

// chatService defines the subset of the OpenAI chat API the client uses.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration for language-model clients.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
	DebugMode   bool
	StateDir    string
	Metrics     *instrumentation.Metrics
}

// Option configures a language-model client.
type Option func(*Opts)

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option { return func(o *Opts) { o.APIKey = key } }

// WithBaseURL points the OpenAI client at a compatible endpoint.
func WithBaseURL(url string) Option { return func(o *Opts) { o.BaseURL = url } }

// WithModel selects the model name.
func WithModel(model string) Option { return func(o *Opts) { o.Model = model } }

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option { return func(o *Opts) { o.Temperature = t } }

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) Option { return func(o *Opts) { o.MaxTokens = n } }

// WithTimeout bounds each completion call.
func WithTimeout(d time.Duration) Option { return func(o *Opts) { o.Timeout = d } }

// WithDebugMode writes every request/response pair under <stateDir>/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

// WithMetrics records call counts and latency.
func WithMetrics(m *instrumentation.Metrics) Option { return func(o *Opts) { o.Metrics = m } }

func applyOpts(opts []Option) Opts {
	cfg := Opts{
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int64
	timeout     time.Duration
	debugMode   bool
	stateDir    string
	metrics     *instrumentation.Metrics
}

// NewClient initializes an OpenAI-backed client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := applyOpts(opts)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	model := cfg.Model
	if model == "" {
		model = string(DefaultModel)
	}
	slog.Debug("genai.NewClient: OpenAI client created", "model", model, "timeout", cfg.Timeout, "debug", cfg.DebugMode)
	return &Client{
		chat:        &cli.Chat.Completions,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
		metrics:     cfg.Metrics,
	}, nil
}

// Provider implements ClientInterface.
func (c *Client) Provider() string { return "openai" }

// Complete implements ClientInterface.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	timeout := c.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(c.maxTokens)
	}

	start := time.Now()
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		c.metrics.RecordLLMCall(ctx, c.Provider(), "error", time.Since(start))
		slog.Warn("genai.Client.Complete: completion failed", "error", err, "model", c.model, "duration", time.Since(start))
		return "", models.NewGatewayError("llm", "complete", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		c.metrics.RecordLLMCall(ctx, c.Provider(), "empty", time.Since(start))
		return "", ErrNoChoicesReturned
	}
	out := resp.Choices[0].Message.Content
	c.metrics.RecordLLMCall(ctx, c.Provider(), "success", time.Since(start))
	slog.Debug("genai.Client.Complete: completion received", "model", c.model, "chars", len(out), "duration", time.Since(start))

	if c.debugMode {
		writeDebugLog(c.stateDir, "Complete", c.model, params, out)
	}
	return out, nil
}

// writeDebugLog dumps one call to a timestamped JSON file. Failures are logged
// and otherwise ignored.
func writeDebugLog(stateDir, method, model string, params interface{}, response string) {
	if stateDir == "" {
		return
	}
	dir := filepath.Join(stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("genai.writeDebugLog: cannot create debug dir", "error", err, "dir", dir)
		return
	}
	entry := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"method":    method,
		"model":     model,
		"params":    params,
		"response":  response,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("genai.writeDebugLog: marshal failed", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%d.json", method, time.Now().UnixNano())
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Warn("genai.writeDebugLog: write failed", "error", err)
	}
}
