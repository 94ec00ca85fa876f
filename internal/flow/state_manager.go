package flow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/MailPipe/internal/models"
	"github.com/BTreeMap/MailPipe/internal/store"
)

// StoreBasedStateManager implements StateManager using a Store backend.
type StoreBasedStateManager struct {
	store store.Store
	locks *threadLocks
	now   func() time.Time
}

// NewStoreBasedStateManager creates a new StateManager backed by a Store.
func NewStoreBasedStateManager(st store.Store) *StoreBasedStateManager {
	slog.Debug("flow.NewStoreBasedStateManager: creating state manager")
	return &StoreBasedStateManager{store: st, locks: newThreadLocks(), now: time.Now}
}

// Load retrieves the state of a thread.
func (sm *StoreBasedStateManager) Load(ctx context.Context, threadID string) (models.AgentState, error) {
	state, err := sm.store.GetThreadState(ctx, threadID)
	if err != nil {
		slog.Error("StateManager.Load: store error", "error", err, "thread_id", threadID)
		return models.AgentState{}, err
	}
	if state == nil {
		slog.Debug("StateManager.Load: new thread", "thread_id", threadID)
		return models.NewAgentState(threadID, sm.now()), nil
	}
	slog.Debug("StateManager.Load: found", "thread_id", threadID, "stage", state.Stage)
	return *state, nil
}

// Save persists the state of a thread.
func (sm *StoreBasedStateManager) Save(ctx context.Context, state models.AgentState) error {
	now := sm.now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.UpdatedAt = now
	if err := sm.store.SaveThreadState(ctx, state); err != nil {
		slog.Error("StateManager.Save: store error", "error", err, "thread_id", state.ThreadID, "stage", state.Stage)
		return err
	}
	slog.Debug("StateManager.Save: succeeded", "thread_id", state.ThreadID, "stage", state.Stage)
	return nil
}

// Reset removes all state for a thread.
func (sm *StoreBasedStateManager) Reset(ctx context.Context, threadID string) error {
	if err := sm.store.DeleteThreadState(ctx, threadID); err != nil {
		slog.Error("StateManager.Reset: store error", "error", err, "thread_id", threadID)
		return err
	}
	slog.Info("StateManager.Reset: succeeded", "thread_id", threadID)
	return nil
}

// Lock serializes turns on threadID within this process.
func (sm *StoreBasedStateManager) Lock(threadID string) func() {
	return sm.locks.lock(threadID)
}

// threadLocks is a keyed mutex. Entries are dropped once no turn holds or
// waits on them.
type threadLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newThreadLocks() *threadLocks {
	return &threadLocks{entries: make(map[string]*lockEntry)}
}

func (l *threadLocks) lock(key string) func() {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.entries, key)
			}
			l.mu.Unlock()
		})
	}
}

func (l *threadLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
