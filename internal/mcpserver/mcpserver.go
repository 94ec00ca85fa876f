// Package mcpserver exposes the email agent as MCP tools so an assistant
// client can drive the same conversation the HTTP gateway serves.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/BTreeMap/MailPipe/internal/agentclient"
	"github.com/BTreeMap/MailPipe/internal/models"
)

// Tool names.
const (
	ToolTurn   = "email_agent_turn"
	ToolHealth = "agent_health"
)

// Runner runs one agent turn.
type Runner interface {
	ProcessTurn(ctx context.Context, req models.TurnRequest) (models.AgentState, error)
}

// HealthChecker reports the agent backend state.
type HealthChecker interface {
	Health(ctx context.Context) agentclient.BackendStatus
}

// New builds an MCP server with the agent tools registered. userToken is the
// mailbox credential every turn runs under, since stdio clients carry none.
func New(version string, runner Runner, health HealthChecker, userToken string) *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer("mailpipe", version,
		mcpserver.WithToolCapabilities(true),
	)
	h := &handlers{runner: runner, health: health, userToken: userToken}

	srv.AddTool(mcp.NewTool(ToolTurn,
		mcp.WithDescription("Send one message to the email agent. It can draft and send emails to your contacts or summarize recent mail. Drafts are previewed first; reply with action 'send' to dispatch them."),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("What you want the agent to do, or your reply to its last question"),
		),
		mcp.WithString("thread_id",
			mcp.Description("Conversation id returned by a previous call. Omit to start a new conversation."),
		),
		mcp.WithString("action",
			mcp.Description("Explicit instruction for a pending preview"),
			mcp.Enum(string(models.TurnActionContinue), string(models.TurnActionSend), string(models.TurnActionCancel)),
		),
	), h.turn)

	srv.AddTool(mcp.NewTool(ToolHealth,
		mcp.WithDescription("Report whether the email agent backend is reachable"),
	), h.healthCheck)

	return srv
}

// ServeStdio blocks serving srv over stdin and stdout.
func ServeStdio(srv *mcpserver.MCPServer) error {
	if err := mcpserver.ServeStdio(srv); err != nil {
		return fmt.Errorf("mcp stdio server stopped: %w", err)
	}
	return nil
}

type handlers struct {
	runner    Runner
	health    HealthChecker
	userToken string
}

func (h *handlers) turn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments"), nil
	}
	message, _ := args["message"].(string)
	if strings.TrimSpace(message) == "" {
		return mcp.NewToolResultError("Missing or invalid 'message' parameter"), nil
	}
	threadID, _ := args["thread_id"].(string)
	action, _ := args["action"].(string)

	state, err := h.runner.ProcessTurn(ctx, models.TurnRequest{
		Message:   message,
		ThreadID:  threadID,
		Action:    models.TurnAction(action),
		UserToken: h.userToken,
	})
	if err != nil {
		slog.Warn("mcpserver.turn: turn failed", "thread_id", threadID, "error", err)
		return mcp.NewToolResultError(describeError(err)), nil
	}

	body, err := json.MarshalIndent(models.ResponseFromState(state), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode turn response: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}

func (h *handlers) healthCheck(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := agentclient.BackendConnected
	if h.health != nil {
		status = h.health.Health(ctx)
	}
	if status != agentclient.BackendConnected {
		return mcp.NewToolResultError(fmt.Sprintf("agent backend %s", status)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("agent backend %s", status)), nil
}

// describeError turns the error taxonomy into a message for the assistant.
func describeError(err error) string {
	switch {
	case errors.Is(err, models.ErrInput):
		return err.Error()
	case errors.Is(err, models.ErrAuthExpired):
		return "Mailbox authorization expired or invalid. Re-authenticate your mail account."
	case errors.Is(err, models.ErrUpstreamTimeout):
		return "An upstream service timed out. Try again in a moment."
	case errors.Is(err, models.ErrUpstreamUnavailable):
		return "An upstream service is unavailable. Try again later."
	default:
		return "The agent failed to process the request."
	}
}
