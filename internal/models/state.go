// Package models defines state management structures for MailPipe threads.
package models

import (
	"slices"
	"strings"
	"time"
)

// AgentState is the payload persisted for one conversation thread.
//
// Stages treat it as a value: each one receives a state and returns a new
// one, and Clone gives them a copy whose slices and maps are not shared.
type AgentState struct {
	ThreadID             string             `json:"threadId"`
	Stage                Stage              `json:"stage"`
	ConversationHistory  []ConversationTurn `json:"conversationHistory"`
	UserInput            string             `json:"userInput"`
	ActionType           ActionType         `json:"actionType"`
	Contacts             []Contact          `json:"-"`
	Intent               *Intent            `json:"intent,omitempty"`
	MissingCriticalInfo  []MissingInfo      `json:"missingCriticalInfo,omitempty"`
	ResolvedFields       []string           `json:"resolvedFields,omitempty"`
	AskedFields          []string           `json:"askedFields,omitempty"`
	ConversationComplete bool               `json:"conversationComplete"`
	AwaitingApproval     bool               `json:"awaitingApproval"`
	ClarificationRounds  int                `json:"clarificationRounds"`
	EmailsToSend         []ComposedEmail    `json:"emailsToSend"`
	FetchedEmails        []FetchedEmail     `json:"fetchedEmails,omitempty"`
	LastReport           *DispatchReport    `json:"lastReport,omitempty"`
	CreatedAt            time.Time          `json:"createdAt"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}

// NewAgentState returns an empty state for a new thread.
func NewAgentState(threadID string, now time.Time) AgentState {
	return AgentState{
		ThreadID:   threadID,
		Stage:      StageDetectAction,
		ActionType: ActionUnknown,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy of the state.
func (s AgentState) Clone() AgentState {
	out := s
	out.ConversationHistory = slices.Clone(s.ConversationHistory)
	out.Contacts = slices.Clone(s.Contacts)
	out.MissingCriticalInfo = slices.Clone(s.MissingCriticalInfo)
	out.ResolvedFields = slices.Clone(s.ResolvedFields)
	out.AskedFields = slices.Clone(s.AskedFields)
	out.EmailsToSend = slices.Clone(s.EmailsToSend)
	out.FetchedEmails = slices.Clone(s.FetchedEmails)
	if s.Intent != nil {
		in := *s.Intent
		in.Recipients = slices.Clone(s.Intent.Recipients)
		in.MissingInfo = slices.Clone(s.Intent.MissingInfo)
		if s.Intent.ExtractedInfo != nil {
			in.ExtractedInfo = make(map[string]string, len(s.Intent.ExtractedInfo))
			for k, v := range s.Intent.ExtractedInfo {
				in.ExtractedInfo[k] = v
			}
		}
		out.Intent = &in
	}
	if s.LastReport != nil {
		rep := DispatchReport{Results: slices.Clone(s.LastReport.Results)}
		out.LastReport = &rep
	}
	return out
}

// WithTurn returns a copy with one more history entry.
func (s AgentState) WithTurn(role Role, kind TurnKind, content string, at time.Time) AgentState {
	out := s.Clone()
	out.ConversationHistory = append(out.ConversationHistory, ConversationTurn{
		Role:    role,
		Kind:    kind,
		Content: content,
		At:      at,
	})
	return out
}

// AskedQuestions returns the text of every clarifying question already put
// to the user in this thread.
func (s AgentState) AskedQuestions() []string {
	var out []string
	for _, t := range s.ConversationHistory {
		if t.Role == RoleAgent && t.Kind == TurnKindQuestion {
			out = append(out, t.Content)
		}
	}
	return out
}

// LastAgentMessage returns the content of the most recent agent turn.
func (s AgentState) LastAgentMessage() string {
	for i := len(s.ConversationHistory) - 1; i >= 0; i-- {
		if s.ConversationHistory[i].Role == RoleAgent {
			return s.ConversationHistory[i].Content
		}
	}
	return ""
}

// IsResolved reports whether a critical field was already satisfied.
func (s AgentState) IsResolved(field string) bool {
	for _, f := range s.ResolvedFields {
		if strings.EqualFold(f, field) {
			return true
		}
	}
	return false
}

// WasAsked reports whether a clarifying question about field was asked.
func (s AgentState) WasAsked(field string) bool {
	for _, f := range s.AskedFields {
		if strings.EqualFold(f, field) {
			return true
		}
	}
	return false
}

// ResetForNewRequest clears per-request fields while keeping the thread's
// identity, action type and history.
func (s AgentState) ResetForNewRequest() AgentState {
	out := s.Clone()
	out.Stage = StageDetectAction
	out.Intent = nil
	out.MissingCriticalInfo = nil
	out.ResolvedFields = nil
	out.AskedFields = nil
	out.ConversationComplete = false
	out.AwaitingApproval = false
	out.ClarificationRounds = 0
	out.EmailsToSend = nil
	out.FetchedEmails = nil
	out.LastReport = nil
	return out
}
