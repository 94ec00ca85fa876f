package models

import (
	"fmt"
	"strings"
)

// TurnAction is the caller's explicit instruction for a turn.
type TurnAction string

const (
	TurnActionContinue TurnAction = "continue"
	TurnActionSend     TurnAction = "send"
	TurnActionCancel   TurnAction = "cancel"
	TurnActionEdit     TurnAction = "edit"
)

// IsValid reports whether the action is one the agent understands.
func (a TurnAction) IsValid() bool {
	switch a {
	case TurnActionContinue, TurnActionSend, TurnActionCancel, TurnActionEdit:
		return true
	default:
		return false
	}
}

// MaxMessageLength bounds the user utterance accepted for one turn.
const MaxMessageLength = 8192

// TurnRequest is one user turn against a thread.
type TurnRequest struct {
	Message      string          `json:"message"`
	ThreadID     string          `json:"threadId,omitempty"`
	Action       TurnAction      `json:"action,omitempty"`
	EditedEmails []ComposedEmail `json:"editedEmails,omitempty"`
	// UserToken is the caller's bearer credential, forwarded to the
	// contacts, mail and credential gateways. It is never persisted.
	UserToken string `json:"-"`
}

// Normalize fills defaults and trims the request in place.
func (r *TurnRequest) Normalize() {
	r.Message = strings.TrimSpace(r.Message)
	r.ThreadID = strings.TrimSpace(r.ThreadID)
	if r.Action == "" {
		r.Action = TurnActionContinue
	}
	r.Action = TurnAction(strings.ToLower(string(r.Action)))
}

// Validate checks required request fields.
func (r TurnRequest) Validate() error {
	if r.Message == "" {
		return fmt.Errorf("%w: message is required", ErrInput)
	}
	if len(r.Message) > MaxMessageLength {
		return fmt.Errorf("%w: message exceeds maximum length", ErrInput)
	}
	if !r.Action.IsValid() {
		return fmt.Errorf("%w: unknown action %q", ErrInput, r.Action)
	}
	if r.Action == TurnActionEdit && len(r.EditedEmails) == 0 {
		return fmt.Errorf("%w: edit requires editedEmails", ErrInput)
	}
	for _, e := range r.EditedEmails {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TurnStatus is the outcome variant of a turn.
type TurnStatus string

const (
	TurnStatusAwaitingApproval TurnStatus = "awaiting_approval"
	TurnStatusNeedsInfo        TurnStatus = "needs_info"
	TurnStatusSummary          TurnStatus = "summary"
	TurnStatusComplete         TurnStatus = "complete"
	TurnStatusError            TurnStatus = "error"
)

// ApprovalActions are offered to the caller alongside a preview.
var ApprovalActions = []string{"send", "cancel", "edit"}

// TurnResponse is the result of one turn. Which fields are set depends on
// Status.
type TurnResponse struct {
	Status           TurnStatus      `json:"status"`
	Message          string          `json:"message"`
	ThreadID         string          `json:"threadId,omitempty"`
	EmailsPreview    []ComposedEmail `json:"emailsPreview,omitempty"`
	NeedsAction      bool            `json:"needsAction,omitempty"`
	Actions          []string        `json:"actions,omitempty"`
	NeedsResponse    bool            `json:"needsResponse,omitempty"`
	ActionType       ActionType      `json:"actionType,omitempty"`
	Success          bool            `json:"success,omitempty"`
	EmailsSent       *int            `json:"emailsSent,omitempty"`
	Recipients       []string        `json:"recipients,omitempty"`
	FailedRecipients []string        `json:"failedRecipients,omitempty"`
	Error            string          `json:"error,omitempty"`
	Help             string          `json:"help,omitempty"`
}

// ResponseFromState maps a halted or finished state onto the caller-facing
// response.
func ResponseFromState(s AgentState) TurnResponse {
	msg := s.LastAgentMessage()
	switch {
	case s.ActionType == ActionSummarize && s.Stage != StageCancelled:
		return TurnResponse{
			Status:     TurnStatusSummary,
			Message:    msg,
			ThreadID:   s.ThreadID,
			ActionType: ActionSummarize,
		}
	case s.AwaitingApproval:
		return TurnResponse{
			Status:        TurnStatusAwaitingApproval,
			Message:       msg,
			ThreadID:      s.ThreadID,
			EmailsPreview: s.EmailsToSend,
			NeedsAction:   true,
			Actions:       ApprovalActions,
		}
	case !s.ConversationComplete && s.Stage != StageCancelled:
		return TurnResponse{
			Status:        TurnStatusNeedsInfo,
			Message:       msg,
			ThreadID:      s.ThreadID,
			NeedsResponse: true,
		}
	default:
		resp := TurnResponse{
			Status:     TurnStatusComplete,
			Success:    true,
			Message:    msg,
			ThreadID:   s.ThreadID,
			Recipients: []string{},
		}
		sent := 0
		if s.LastReport != nil {
			sent = s.LastReport.SentCount()
			resp.Recipients = s.LastReport.Recipients()
			if failed := s.LastReport.FailedRecipients(); len(failed) > 0 {
				resp.FailedRecipients = failed
			}
		}
		resp.EmailsSent = &sent
		return resp
	}
}
