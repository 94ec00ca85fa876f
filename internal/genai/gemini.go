package genai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/BTreeMap/MailPipe/internal/instrumentation"
	"github.com/BTreeMap/MailPipe/internal/models"
)

// DefaultGeminiModel is used when no model is configured for Gemini.
const DefaultGeminiModel = "gemini-2.0-flash"

// contentGenerator is the subset of the Gemini models API the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements ClientInterface on Google's Gemini API.
type GeminiClient struct {
	models      contentGenerator
	model       string
	temperature float32
	maxTokens   int32
	timeout     time.Duration
	debugMode   bool
	stateDir    string
	metrics     *instrumentation.Metrics
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, opts ...Option) (*GeminiClient, error) {
	cfg := applyOpts(opts)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	slog.Debug("genai.NewGeminiClient: Gemini client created", "model", model, "timeout", cfg.Timeout)
	return &GeminiClient{
		models:      client.Models,
		model:       model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
		timeout:     cfg.Timeout,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
		metrics:     cfg.Metrics,
	}, nil
}

// Provider implements ClientInterface.
func (c *GeminiClient) Provider() string { return "gemini" }

// Complete implements ClientInterface.
func (c *GeminiClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	timeout := c.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(c.temperature),
	}
	if c.maxTokens > 0 {
		config.MaxOutputTokens = c.maxTokens
	}
	contents := []*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}

	start := time.Now()
	resp, err := c.models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		c.metrics.RecordLLMCall(ctx, c.Provider(), "error", time.Since(start))
		slog.Warn("genai.GeminiClient.Complete: generation failed", "error", err, "model", c.model)
		return "", models.NewGatewayError("llm", "complete", err)
	}
	out := ""
	if resp != nil {
		out = resp.Text()
	}
	if out == "" {
		c.metrics.RecordLLMCall(ctx, c.Provider(), "empty", time.Since(start))
		return "", ErrNoChoicesReturned
	}
	c.metrics.RecordLLMCall(ctx, c.Provider(), "success", time.Since(start))
	if c.debugMode {
		writeDebugLog(c.stateDir, "GeminiComplete", c.model, map[string]string{"system": systemPrompt, "user": userPrompt}, out)
	}
	return out, nil
}
