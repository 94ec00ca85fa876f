// Package credentials resolves the caller's bearer credential to an
// authenticated mailbox HTTP client, refreshing the stored OAuth token when
// it has expired.
package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/BTreeMap/MailPipe/internal/google"
	"github.com/BTreeMap/MailPipe/internal/instrumentation"
	"github.com/BTreeMap/MailPipe/internal/models"
	"github.com/BTreeMap/MailPipe/internal/store"
)

// DefaultTimeout bounds a token lookup plus refresh.
const DefaultTimeout = 10 * time.Second

// Provider returns an HTTP client authorized for the user's mailbox.
type Provider interface {
	HTTPClient(ctx context.Context, userToken string) (*http.Client, error)
}

// UserKey derives the storage key for a bearer credential.
func UserKey(userToken string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(userToken)))
	return hex.EncodeToString(sum[:])
}

// StoreProvider keeps OAuth tokens in the store and refreshes them through
// the configured OAuth client.
type StoreProvider struct {
	store   store.Store
	config  *oauth2.Config
	timeout time.Duration
	metrics *instrumentation.Metrics

	// per-user refresh lock
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Opts configures a StoreProvider.
type Opts struct {
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	Metrics      *instrumentation.Metrics
}

// Option configures a StoreProvider.
type Option func(*Opts)

// WithOAuthClient sets the OAuth client used for refreshes.
func WithOAuthClient(id, secret string) Option {
	return func(o *Opts) {
		o.ClientID = id
		o.ClientSecret = secret
	}
}

// WithTimeout bounds each lookup.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithMetrics records lookups.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// NewStoreProvider creates a provider backed by st.
func NewStoreProvider(st store.Store, opts ...Option) *StoreProvider {
	cfg := Opts{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &StoreProvider{
		store:   st,
		config:  google.OAuthConfig(cfg.ClientID, cfg.ClientSecret, ""),
		timeout: cfg.Timeout,
		metrics: cfg.Metrics,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Register stores an OAuth token for the given bearer credential.
func (p *StoreProvider) Register(ctx context.Context, userToken string, tok *oauth2.Token) error {
	if strings.TrimSpace(userToken) == "" {
		return fmt.Errorf("%w: user token is required", models.ErrInput)
	}
	if tok == nil || (tok.AccessToken == "" && tok.RefreshToken == "") {
		return fmt.Errorf("%w: oauth token is empty", models.ErrInput)
	}
	return p.save(ctx, UserKey(userToken), tok)
}

// Token returns a valid token for userToken, refreshing it when expired.
// A missing token or a failed refresh yields models.ErrAuthExpired.
func (p *StoreProvider) Token(ctx context.Context, userToken string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	key := UserKey(userToken)
	lock := p.userLock(key)
	lock.Lock()
	defer lock.Unlock()

	tok, err := p.token(ctx, key)
	p.metrics.RecordGatewayCall(ctx, "credentials", "token", err)
	return tok, err
}

func (p *StoreProvider) token(ctx context.Context, key string) (*oauth2.Token, error) {
	stored, err := p.store.GetCredential(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if stored == nil {
		return nil, &models.GatewayError{Gateway: "credentials", Op: "token", Kind: models.ErrAuthExpired,
			Err: fmt.Errorf("no mailbox credential stored, please authenticate first")}
	}

	var tok oauth2.Token
	if err := json.Unmarshal([]byte(stored.TokenJSON), &tok); err != nil {
		return nil, &models.GatewayError{Gateway: "credentials", Op: "token", Kind: models.ErrAuthExpired,
			Err: fmt.Errorf("stored credential is unreadable: %w", err)}
	}
	if tok.Valid() {
		return &tok, nil
	}
	if tok.RefreshToken == "" {
		return nil, &models.GatewayError{Gateway: "credentials", Op: "refresh", Kind: models.ErrAuthExpired,
			Err: fmt.Errorf("token expired and no refresh token is available")}
	}

	fresh, err := p.config.TokenSource(ctx, &tok).Token()
	if err != nil {
		slog.Warn("StoreProvider.token: refresh failed", "error", err)
		return nil, models.NewGatewayError("credentials", "refresh", google.ClassifyAPIError(err))
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	if err := p.save(ctx, key, fresh); err != nil {
		// The refreshed token is still usable for this call.
		slog.Warn("StoreProvider.token: failed to persist refreshed token", "error", err)
	} else {
		slog.Debug("StoreProvider.token: token refreshed", "expiry", fresh.Expiry)
	}
	return fresh, nil
}

// HTTPClient implements Provider.
func (p *StoreProvider) HTTPClient(ctx context.Context, userToken string) (*http.Client, error) {
	tok, err := p.Token(ctx, userToken)
	if err != nil {
		return nil, err
	}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok)), nil
}

// Forget removes the stored credential for userToken.
func (p *StoreProvider) Forget(ctx context.Context, userToken string) error {
	return p.store.DeleteCredential(ctx, UserKey(userToken))
}

func (p *StoreProvider) save(ctx context.Context, key string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	return p.store.SaveCredential(ctx, models.StoredCredential{
		UserKey:   key,
		TokenJSON: string(data),
		UpdatedAt: time.Now(),
	})
}

func (p *StoreProvider) userLock(key string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[key]
	if !ok {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	return l
}

// StaticProvider serves one fixed token source for every caller. It backs
// single-user setups such as the CLI and tests.
type StaticProvider struct {
	Source oauth2.TokenSource
}

// HTTPClient implements Provider.
func (p StaticProvider) HTTPClient(ctx context.Context, _ string) (*http.Client, error) {
	if p.Source == nil {
		return nil, &models.GatewayError{Gateway: "credentials", Op: "token", Kind: models.ErrAuthExpired,
			Err: fmt.Errorf("no token source configured")}
	}
	return oauth2.NewClient(ctx, p.Source), nil
}
