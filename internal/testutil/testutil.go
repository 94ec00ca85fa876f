// Package testutil provides common test utilities and helpers for MailPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/BTreeMap/MailPipe/internal/agentclient"
	"github.com/BTreeMap/MailPipe/internal/models"
	"github.com/BTreeMap/MailPipe/internal/store"
)

// TB is the subset of testing.TB the helpers use, so they can be exercised
// with a recording fake.
type TB interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Errorf("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t TB, method, url string, body any) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
			return nil
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithBearer sets the Authorization header on req.
func WithBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// SeedReceipts stores n sent receipts for threadID.
func SeedReceipts(t TB, st store.Store, threadID string, n int) {
	t.Helper()
	for i := range n {
		r := models.DeliveryReceipt{
			ThreadID:  threadID,
			To:        fmt.Sprintf("user%d@example.com", i),
			Subject:   "seeded",
			Status:    models.DeliveryStatusSent,
			MessageID: fmt.Sprintf("seed-%d", i),
			Time:      time.Unix(int64(1000+i), 0).UTC(),
		}
		if err := st.AddReceipt(context.Background(), r); err != nil {
			t.Fatalf("failed to add test receipt: %v", err)
		}
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TB, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TB, data []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}

// StubRunner is an agent runner that returns a canned state or error and
// records the requests it saw.
type StubRunner struct {
	mu       sync.Mutex
	State    models.AgentState
	Err      error
	requests []models.TurnRequest
}

// ProcessTurn implements the runner interfaces used by api and mcpserver.
func (s *StubRunner) ProcessTurn(_ context.Context, req models.TurnRequest) (models.AgentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.Err != nil {
		return models.AgentState{}, s.Err
	}
	return s.State, nil
}

// Requests returns the turns received so far.
func (s *StubRunner) Requests() []models.TurnRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TurnRequest(nil), s.requests...)
}

// StaticHealth always reports the same backend status.
type StaticHealth agentclient.BackendStatus

// Health implements api.HealthChecker.
func (h StaticHealth) Health(context.Context) agentclient.BackendStatus {
	return agentclient.BackendStatus(h)
}

// AwaitingApprovalState returns a state halted on a one-email preview.
func AwaitingApprovalState(threadID string) models.AgentState {
	s := models.NewAgentState(threadID, time.Unix(0, 0).UTC())
	s.ActionType = models.ActionSendEmail
	s.ConversationComplete = true
	s.AwaitingApproval = true
	s.Stage = models.StageAwaitingApproval
	s.EmailsToSend = []models.ComposedEmail{{To: "bob@example.com", ToName: "Bob", Subject: "Leave", Body: "Hi Bob"}}
	return s.WithTurn(models.RoleAgent, models.TurnKindPreview, "preview", s.CreatedAt)
}
