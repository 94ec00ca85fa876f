// Package gmail is the mail gateway: it lists and reads inbox messages and
// sends composed emails through the Gmail API on behalf of the caller.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/BTreeMap/MailPipe/internal/credentials"
	"github.com/BTreeMap/MailPipe/internal/google"
	"github.com/BTreeMap/MailPipe/internal/instrumentation"
	"github.com/BTreeMap/MailPipe/internal/logging"
	"github.com/BTreeMap/MailPipe/internal/models"
)

const (
	userID = "me"

	// DefaultTimeout bounds each gateway operation.
	DefaultTimeout = 10 * time.Second
	// MaxPageSize is the largest page the list operation returns.
	MaxPageSize = 100
	// DefaultPageSize is used when the caller asks for zero messages.
	DefaultPageSize = 10

	fetchConcurrency = 4
)

// Client talks to the Gmail API with the caller's mailbox credential.
type Client struct {
	creds    credentials.Provider
	endpoint string
	sender   string
	timeout  time.Duration
	metrics  *instrumentation.Metrics
}

// Opts configures a Client.
type Opts struct {
	Endpoint string
	Sender   string
	Timeout  time.Duration
	Metrics  *instrumentation.Metrics
}

// Option configures a Client.
type Option func(*Opts)

// WithEndpoint points the client at a different API root.
func WithEndpoint(url string) Option {
	return func(o *Opts) { o.Endpoint = url }
}

// WithSender sets the From address on outgoing mail. Gmail fills in the
// authenticated address when empty.
func WithSender(addr string) Option {
	return func(o *Opts) { o.Sender = addr }
}

// WithTimeout bounds each operation.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithMetrics records gateway calls.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// NewClient creates a Gmail gateway.
func NewClient(creds credentials.Provider, opts ...Option) *Client {
	cfg := Opts{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		creds:    creds,
		endpoint: cfg.Endpoint,
		sender:   cfg.Sender,
		timeout:  cfg.Timeout,
		metrics:  cfg.Metrics,
	}
}

// FilterFor builds the list query matching mail from or to address.
func FilterFor(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	return fmt.Sprintf("from:%s OR to:%s", address, address)
}

func (c *Client) service(ctx context.Context, userToken string) (*gmail.Service, error) {
	hc, err := c.creds.HTTPClient(ctx, userToken)
	if err != nil {
		return nil, err
	}
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail.NewService failed: %w", err)
	}
	return svc, nil
}

// ListMessages returns one page of messages matching filter with their
// bodies. maxResults is clamped to MaxPageSize. A message that cannot be
// read is skipped.
func (c *Client) ListMessages(ctx context.Context, userToken, filter, pageToken string, maxResults int) (page models.MessagePage, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	defer func() { c.metrics.RecordGatewayCall(ctx, "mail", "list", err) }()

	if maxResults <= 0 {
		maxResults = DefaultPageSize
	}
	if maxResults > MaxPageSize {
		maxResults = MaxPageSize
	}

	svc, err := c.service(ctx, userToken)
	if err != nil {
		return models.MessagePage{}, models.NewGatewayError("mail", "list", err)
	}

	call := svc.Users.Messages.List(userID).MaxResults(int64(maxResults)).Context(ctx)
	if filter != "" {
		call = call.Q(filter)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		return models.MessagePage{}, models.NewGatewayError("mail", "list", google.ClassifyAPIError(err))
	}

	slots := make([]*models.FetchedEmail, len(res.Messages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, ref := range res.Messages {
		g.Go(func() error {
			msg, err := svc.Users.Messages.Get(userID, ref.Id).Format("full").Context(gctx).Do()
			if err != nil {
				slog.Warn("gmail.Client.ListMessages: skipping unreadable message", "id", ref.Id, "error", err)
				return nil
			}
			email := convertMessage(msg)
			slots[i] = &email
			return nil
		})
	}
	_ = g.Wait()

	page = models.MessagePage{NextPageToken: res.NextPageToken, Messages: make([]models.FetchedEmail, 0, len(slots))}
	for _, s := range slots {
		if s != nil {
			page.Messages = append(page.Messages, *s)
		}
	}
	slog.Debug("gmail.Client.ListMessages: fetched", "count", len(page.Messages), "listed", len(res.Messages))
	return page, nil
}

// GetMessage reads one message with its decoded body.
func (c *Client) GetMessage(ctx context.Context, userToken, id string) (email models.FetchedEmail, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	defer func() { c.metrics.RecordGatewayCall(ctx, "mail", "get", err) }()

	if strings.TrimSpace(id) == "" {
		return models.FetchedEmail{}, fmt.Errorf("%w: message id is required", models.ErrInput)
	}
	svc, err := c.service(ctx, userToken)
	if err != nil {
		return models.FetchedEmail{}, models.NewGatewayError("mail", "get", err)
	}
	msg, err := svc.Users.Messages.Get(userID, id).Format("full").Context(ctx).Do()
	if err != nil {
		return models.FetchedEmail{}, models.NewGatewayError("mail", "get", google.ClassifyAPIError(err))
	}
	return convertMessage(msg), nil
}

// SendMessage sends a single email and returns the provider message id.
func (c *Client) SendMessage(ctx context.Context, userToken, to, subject, body string) (id string, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	defer func() { c.metrics.RecordGatewayCall(ctx, "mail", "send", err) }()

	if err := (models.ComposedEmail{To: to, Subject: subject, Body: body}).Validate(); err != nil {
		return "", err
	}
	raw, err := ComposeMessage(c.sender, to, subject, body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInput, err)
	}
	svc, err := c.service(ctx, userToken)
	if err != nil {
		return "", models.NewGatewayError("mail", "send", err)
	}
	sent, err := svc.Users.Messages.Send(userID, &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return "", models.NewGatewayError("mail", "send", google.ClassifyAPIError(err))
	}
	slog.Info("gmail.Client.SendMessage: sent", logging.Recipient(to), "message_id", sent.Id)
	return sent.Id, nil
}
