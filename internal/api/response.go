package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/MailPipe/internal/models"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.TurnResponse{Status: models.TurnStatusError, Error: "Internal server error"})
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response any) {
	// Marshal first so encoding errors are caught before headers are written
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// errorStatus maps the error taxonomy onto an HTTP status and a message for
// the caller. This is the only place errors become status codes.
func errorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, models.ErrInput):
		return http.StatusBadRequest, err.Error(), ""
	case errors.Is(err, models.ErrAuthExpired):
		return http.StatusUnauthorized, "Mailbox authorization expired or invalid", "Re-authenticate your mail account and try again."
	case errors.Is(err, models.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, "An upstream service timed out", "Try again in a moment."
	case errors.Is(err, models.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "An upstream service is unavailable", "Try again later."
	case errors.Is(err, models.ErrUpstreamProcessing), errors.Is(err, models.ErrModelOutput):
		return http.StatusBadGateway, "An upstream service returned an error", "Try again; contact support if it keeps failing."
	default:
		return http.StatusInternalServerError, "Internal server error", ""
	}
}

// writeTurnError writes the error variant of a turn response.
func writeTurnError(w http.ResponseWriter, threadID string, err error) {
	status, msg, help := errorStatus(err)
	writeJSONResponse(w, status, models.TurnResponse{
		Status:   models.TurnStatusError,
		ThreadID: threadID,
		Error:    msg,
		Help:     help,
	})
}
