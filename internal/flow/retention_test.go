package flow

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/MailPipe/internal/models"
	"github.com/BTreeMap/MailPipe/internal/store"
)

func TestRetentionSweeperRemovesExpiredThreads(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	old := models.NewAgentState("old", now.Add(-48*time.Hour))
	old.Stage = models.StageSent
	fresh := models.NewAgentState("fresh", now.Add(-time.Hour))
	fresh.Stage = models.StageSent
	for _, s := range []models.AgentState{old, fresh} {
		if err := st.SaveThreadState(ctx, s); err != nil {
			t.Fatalf("SaveThreadState: %v", err)
		}
	}

	sw := NewRetentionSweeper(st, 24*time.Hour)
	sw.now = func() time.Time { return now }
	if err := sw.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if s, _ := st.GetThreadState(ctx, "old"); s != nil {
		t.Errorf("expected old thread to be removed")
	}
	if s, _ := st.GetThreadState(ctx, "fresh"); s == nil {
		t.Errorf("expected fresh thread to survive")
	}
}

func TestRetentionSweeperDisabled(t *testing.T) {
	sw := NewRetentionSweeper(nil, 0)
	if err := sw.Sweep(context.Background()); err != nil {
		t.Errorf("disabled sweeper should be a no-op, got %v", err)
	}
}
