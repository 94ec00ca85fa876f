// Package flow implements the email agent's conversation state machine.
//
// A turn loads the thread's AgentState, runs the stages for its route
// (send or summarize), and persists the result. Stages are plain functions
// from state to state; the Orchestrator owns sequencing, halting and
// persistence.
package flow

import (
	"context"

	"github.com/BTreeMap/MailPipe/internal/models"
)

// StateManager defines the interface for managing thread state.
type StateManager interface {
	// Load returns the stored state for threadID, or a fresh state when the
	// thread does not exist yet.
	Load(ctx context.Context, threadID string) (models.AgentState, error)

	// Save replaces the stored state for the state's thread.
	Save(ctx context.Context, state models.AgentState) error

	// Reset removes all state for a thread.
	Reset(ctx context.Context, threadID string) error

	// Lock serializes turns on one thread. The returned func releases it.
	Lock(threadID string) (unlock func())
}

// LLM is the language model gateway. genai.ClientInterface satisfies it.
type LLM interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ContactSource lists the caller's contacts.
type ContactSource interface {
	ListContacts(ctx context.Context, userToken string) ([]models.Contact, error)
}

// MailGateway reads and sends mail on the caller's behalf.
type MailGateway interface {
	ListMessages(ctx context.Context, userToken, filter, pageToken string, maxResults int) (models.MessagePage, error)
	SendMessage(ctx context.Context, userToken, to, subject, body string) (string, error)
}

// ReceiptRecorder persists one delivery receipt per dispatched email.
type ReceiptRecorder interface {
	AddReceipt(ctx context.Context, r models.DeliveryReceipt) error
}
