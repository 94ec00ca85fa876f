// Package store provides storage backends for MailPipe.
//
// It persists agent thread state, delivery receipts and mailbox credentials.
// An in-memory store is used when no DSN is configured; SQLite and Postgres
// back durable deployments.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/MailPipe/internal/models"
)

// Store is the persistence contract used by the agent.
//
// Thread state writes are last-writer-wins: a save replaces the whole record.
type Store interface {
	SaveThreadState(ctx context.Context, state models.AgentState) error
	// GetThreadState returns nil, nil when the thread does not exist.
	GetThreadState(ctx context.Context, threadID string) (*models.AgentState, error)
	DeleteThreadState(ctx context.Context, threadID string) error
	// DeleteThreadsBefore removes terminal threads last updated before cutoff
	// and returns how many were removed.
	DeleteThreadsBefore(ctx context.Context, cutoff time.Time) (int, error)

	AddReceipt(ctx context.Context, r models.DeliveryReceipt) error
	// GetReceipts returns receipts for threadID, or all receipts when empty.
	GetReceipts(ctx context.Context, threadID string) ([]models.DeliveryReceipt, error)

	SaveCredential(ctx context.Context, c models.StoredCredential) error
	// GetCredential returns nil, nil when no credential is stored.
	GetCredential(ctx context.Context, userKey string) (*models.StoredCredential, error)
	DeleteCredential(ctx context.Context, userKey string) error

	Ping(ctx context.Context) error
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN    string
	Driver string
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithSQLiteDSN configures a SQLite database file.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = "sqlite3"
	}
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = "postgres"
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else, which is treated as a file path.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// New builds the store selected by the options, falling back to memory.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		return NewInMemoryStore(), nil
	case cfg.Driver == "postgres" || (cfg.Driver == "" && DetectDSNType(cfg.DSN) == "postgres"):
		return NewPostgresStore(opts...)
	default:
		return NewSQLiteStore(opts...)
	}
}

// InMemoryStore keeps everything in process memory.
type InMemoryStore struct {
	mu          sync.RWMutex
	threads     map[string]models.AgentState
	receipts    []models.DeliveryReceipt
	credentials map[string]models.StoredCredential
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		threads:     make(map[string]models.AgentState),
		credentials: make(map[string]models.StoredCredential),
	}
}

func (s *InMemoryStore) SaveThreadState(_ context.Context, state models.AgentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[state.ThreadID] = state.Clone()
	return nil
}

func (s *InMemoryStore) GetThreadState(_ context.Context, threadID string) (*models.AgentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.threads[threadID]
	if !ok {
		return nil, nil
	}
	c := st.Clone()
	c.Contacts = nil
	return &c, nil
}

func (s *InMemoryStore) DeleteThreadState(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	return nil
}

func (s *InMemoryStore) DeleteThreadsBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, st := range s.threads {
		if st.Stage.IsTerminal() && st.UpdatedAt.Before(cutoff) {
			delete(s.threads, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) AddReceipt(_ context.Context, r models.DeliveryReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *InMemoryStore) GetReceipts(_ context.Context, threadID string) ([]models.DeliveryReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.DeliveryReceipt{}
	for _, r := range s.receipts {
		if threadID == "" || r.ThreadID == threadID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (s *InMemoryStore) SaveCredential(_ context.Context, c models.StoredCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[c.UserKey] = c
	return nil
}

func (s *InMemoryStore) GetCredential(_ context.Context, userKey string) (*models.StoredCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[userKey]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *InMemoryStore) DeleteCredential(_ context.Context, userKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, userKey)
	return nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
