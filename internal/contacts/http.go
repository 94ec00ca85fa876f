package contacts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/MailPipe/internal/instrumentation"
	"github.com/BTreeMap/MailPipe/internal/models"
)

// ContactsPath is appended to the service base URL.
const ContactsPath = "/contactapi/contacts/"

// HTTPSource reads contacts from a contacts service that accepts the
// caller's bearer credential.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	metrics *instrumentation.Metrics
}

// NewHTTPSource creates a source for the service at baseURL.
func NewHTTPSource(baseURL string, timeout time.Duration, metrics *instrumentation.Metrics) *HTTPSource {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		metrics: metrics,
	}
}

// ListContacts implements Source.
func (s *HTTPSource) ListContacts(ctx context.Context, userToken string) (contacts []models.Contact, err error) {
	defer func() { s.metrics.RecordGatewayCall(ctx, "contacts", "list", err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+ContactsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInput, err)
	}
	req.Header.Set("Accept", "application/json")
	if userToken != "" {
		req.Header.Set("Authorization", "Bearer "+userToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, models.NewGatewayError("contacts", "list", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, models.NewGatewayError("contacts", "list", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &models.GatewayError{
			Gateway: "contacts",
			Op:      "list",
			Kind:    statusKind(resp.StatusCode),
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var raw []models.Contact
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &models.GatewayError{Gateway: "contacts", Op: "list", Kind: models.ErrUpstreamProcessing,
			Err: fmt.Errorf("failed to decode contacts: %w", err)}
	}
	return Sanitize(KindHTTP, raw), nil
}

func statusKind(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return models.ErrAuthExpired
	case code == http.StatusServiceUnavailable || code == http.StatusBadGateway || code == http.StatusTooManyRequests:
		return models.ErrUpstreamUnavailable
	case code == http.StatusGatewayTimeout:
		return models.ErrUpstreamTimeout
	default:
		return models.ErrUpstreamProcessing
	}
}
