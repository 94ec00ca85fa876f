package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/MailPipe/internal/agentclient"
	"github.com/BTreeMap/MailPipe/internal/logging"
	"github.com/BTreeMap/MailPipe/internal/models"
	"github.com/BTreeMap/MailPipe/internal/util"
)

// turnHandler handles POST /agent/send-email.
func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req models.TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		slog.Warn("Server.turnHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.TurnResponse{Status: models.TurnStatusError, Error: "Invalid JSON format"})
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeJSONResponse(w, http.StatusUnauthorized, models.TurnResponse{
			Status: models.TurnStatusError,
			Error:  "Missing bearer token",
			Help:   "Send the mailbox credential as Authorization: Bearer <token>.",
		})
		return
	}
	req.UserToken = token

	state, err := s.runner.ProcessTurn(r.Context(), req)
	if err != nil {
		slog.Warn("Server.turnHandler: turn failed", logging.Err(err))
		writeTurnError(w, errorThreadID(req.ThreadID), err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.ResponseFromState(state))
}

// errorThreadID names the thread in an error response. A caller that sent no
// id gets none back, since the id minted for the failed turn was never saved.
func errorThreadID(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	return util.ResolveThreadID(raw)
}

// agentHealthHandler handles GET /agent/health.
func (s *Server) agentHealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	backend := s.health.Health(ctx)
	data := map[string]any{
		"status":       "healthy",
		"agentBackend": backend,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}
	statusCode := http.StatusOK
	if backend != agentclient.BackendConnected {
		data["status"] = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, data)
}

// receiptsHandler handles GET /agent/receipts?threadId=.
func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	threadID := strings.TrimSpace(r.URL.Query().Get("threadId"))
	receipts, err := s.st.GetReceipts(r.Context(), threadID)
	if err != nil {
		slog.Error("Server.receiptsHandler: failed to fetch receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch receipts"))
		return
	}
	if receipts == nil {
		receipts = []models.DeliveryReceipt{}
	}
	slog.Debug("Server.receiptsHandler: receipts fetched", "count", len(receipts))
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}

// healthHandler handles GET /healthz for liveness probes.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// runWaitHandler handles POST /threads/{threadId}/runs/wait on the agent
// backend and returns the final thread state.
func (s *Server) runWaitHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	threadID := r.PathValue("threadId")
	var body agentclient.RunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&body); err != nil {
		slog.Warn("Server.runWaitHandler: failed to decode JSON", "error", err, logging.KeyThread, threadID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	state, err := s.runner.ProcessTurn(r.Context(), body.TurnRequest(threadID))
	if err != nil {
		status, msg, help := errorStatus(err)
		writeJSONResponse(w, status, models.ErrorWithHelp(msg, help))
		return
	}
	writeJSONResponse(w, http.StatusOK, state)
}

// okHandler handles GET /ok on the agent backend.
func (s *Server) okHandler(w http.ResponseWriter, r *http.Request) {
	if s.health.Health(r.Context()) != agentclient.BackendConnected {
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]bool{"ok": false})
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func bearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
