package models

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// ActionType is the route a thread takes. It is decided once per thread.
type ActionType string

const (
	ActionUnknown   ActionType = "unknown"
	ActionSendEmail ActionType = "send_email"
	ActionSummarize ActionType = "summarize_emails"
)

// Stage names the last state-machine node a thread reached.
type Stage string

const (
	StageDetectAction      Stage = "detect_action"
	StageFetchContacts     Stage = "fetch_contacts"
	StageAnalyzeIntent     Stage = "analyze_intent"
	StageAskQuestion       Stage = "ask_question"
	StageComposeEmails     Stage = "compose_emails"
	StageCreatePreview     Stage = "create_preview"
	StageDispatch          Stage = "dispatch"
	StageFetchEmails       Stage = "fetch_emails"
	StageSummarize         Stage = "summarize"
	StageAwaitingUserInput Stage = "awaiting_user_input"
	StageAwaitingApproval  Stage = "awaiting_approval"
	StageSent              Stage = "sent"
	StageCancelled         Stage = "cancelled"
	StageSummarized        Stage = "summarized"
)

// IsTerminal reports whether the stage ends a request. A new turn on a
// thread in a terminal stage starts a fresh request on the same thread.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageSent, StageCancelled, StageSummarized:
		return true
	default:
		return false
	}
}

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// TurnKind classifies agent turns so later stages can find earlier questions.
type TurnKind string

const (
	TurnKindMessage  TurnKind = "message"
	TurnKindQuestion TurnKind = "question"
	TurnKindPreview  TurnKind = "preview"
	TurnKindReport   TurnKind = "report"
	TurnKindSummary  TurnKind = "summary"
)

// ConversationTurn is one entry in a thread's append-only history.
type ConversationTurn struct {
	Role    Role      `json:"role"`
	Kind    TurnKind  `json:"kind"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Contact is a fixed-shape contact or recipient record.
type Contact struct {
	Name     string `json:"name" yaml:"name"`
	Email    string `json:"email" yaml:"email"`
	Relation string `json:"relation,omitempty" yaml:"relation"`
	Tone     string `json:"tone,omitempty" yaml:"tone"`
}

// Validate checks the required fields of a contact.
func (c Contact) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: contact name is required", ErrInput)
	}
	if strings.TrimSpace(c.Email) == "" {
		return fmt.Errorf("%w: contact email is required for %q", ErrInput, c.Name)
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return fmt.Errorf("%w: invalid email %q for %q", ErrInput, c.Email, c.Name)
	}
	return nil
}

// Importance of a missing piece of information.
type Importance string

const (
	ImportanceCritical Importance = "critical"
	ImportanceOptional Importance = "optional"
)

// MissingInfo describes something the extractor could not find.
type MissingInfo struct {
	Field      string     `json:"field"`
	Question   string     `json:"question"`
	Importance Importance `json:"importance"`
}

// Intent is the structured result of analyzing a send request.
type Intent struct {
	MessageContent string            `json:"messageContent"`
	Recipients     []Contact         `json:"recipients"`
	SubjectHint    string            `json:"subjectHint"`
	MissingInfo    []MissingInfo     `json:"missingInfo"`
	ExtractedInfo  map[string]string `json:"extractedInfo,omitempty"`
}

// Critical returns the missing items marked critical, in order.
func (i Intent) Critical() []MissingInfo {
	var out []MissingInfo
	for _, m := range i.MissingInfo {
		if strings.EqualFold(string(m.Importance), string(ImportanceCritical)) {
			out = append(out, m)
		}
	}
	return out
}

// ComposedEmail is one personalized email awaiting approval.
type ComposedEmail struct {
	To      string `json:"to"`
	ToName  string `json:"toName"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Tone    string `json:"tone,omitempty"`
}

// Validate checks that an email can be handed to the mail transport.
func (e ComposedEmail) Validate() error {
	if strings.TrimSpace(e.To) == "" || strings.TrimSpace(e.Subject) == "" || strings.TrimSpace(e.Body) == "" {
		return fmt.Errorf("%w: missing fields", ErrInput)
	}
	if _, err := mail.ParseAddress(e.To); err != nil {
		return fmt.Errorf("%w: invalid recipient address %q", ErrInput, e.To)
	}
	return nil
}

// DisplayName returns the recipient name, falling back to the address.
func (e ComposedEmail) DisplayName() string {
	if e.ToName != "" {
		return e.ToName
	}
	return e.To
}

// FetchedEmail is an inbox message used by the summarize path.
type FetchedEmail struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId,omitempty"`
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Subject  string `json:"subject"`
	Date     string `json:"date,omitempty"`
	Snippet  string `json:"snippet,omitempty"`
	Body     string `json:"body,omitempty"`
}

// MessagePage is one page of inbox messages.
type MessagePage struct {
	Messages      []FetchedEmail `json:"emails"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

// DispatchResult is the outcome of sending one email.
type DispatchResult struct {
	Email     ComposedEmail `json:"email"`
	MessageID string        `json:"messageId,omitempty"`
	Err       string        `json:"error,omitempty"`
}

// Succeeded reports whether the send call succeeded.
func (r DispatchResult) Succeeded() bool { return r.Err == "" }

// DispatchReport summarizes a send batch. Partial failure is reported here
// and never escalated to an overall error.
type DispatchReport struct {
	Results []DispatchResult `json:"results"`
}

// SentCount returns the number of emails that were accepted.
func (r DispatchReport) SentCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Succeeded() {
			n++
		}
	}
	return n
}

// Recipients returns the display names of recipients that were sent to.
func (r DispatchReport) Recipients() []string {
	out := []string{}
	for _, res := range r.Results {
		if res.Succeeded() {
			out = append(out, res.Email.DisplayName())
		}
	}
	return out
}

// FailedRecipients returns the display names of recipients that failed.
func (r DispatchReport) FailedRecipients() []string {
	out := []string{}
	for _, res := range r.Results {
		if !res.Succeeded() {
			out = append(out, res.Email.DisplayName())
		}
	}
	return out
}
