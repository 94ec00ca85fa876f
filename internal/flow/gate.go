package flow

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/MailPipe/internal/logging"
	"github.com/BTreeMap/MailPipe/internal/models"
)

// CompletenessGate decides whether a send request has enough information to
// compose. It asks for at most one critical item per turn, never repeats a
// question, and gives up asking after MaxRounds.
type CompletenessGate struct {
	MaxRounds int
}

// Apply returns the state with ConversationComplete decided. When a question
// is needed it is appended to the history and the state halts at
// awaiting_user_input.
func (g CompletenessGate) Apply(s models.AgentState, now time.Time) models.AgentState {
	out := s.Clone()
	critical := g.unresolved(out)

	// Anything asked last round that is no longer critical was answered.
	for _, prev := range s.MissingCriticalInfo {
		if !hasField(critical, prev.Field) {
			out.ResolvedFields = appendUnique(out.ResolvedFields, prev.Field)
		}
	}

	if len(critical) == 0 {
		return complete(out)
	}

	next := critical[0]
	question := next.Question
	if question == "" {
		question = fmt.Sprintf("Could you tell me the %s for this email?", next.Field)
	}
	switch {
	case out.WasAsked(next.Field) || alreadyAsked(question, out.AskedQuestions()):
		slog.Info("CompletenessGate.Apply: question already asked, proceeding", logging.KeyThread, s.ThreadID, "field", next.Field)
		return forceComplete(out, critical)
	case g.MaxRounds > 0 && out.ClarificationRounds >= g.MaxRounds:
		slog.Info("CompletenessGate.Apply: clarification limit reached, proceeding", logging.KeyThread, s.ThreadID, "rounds", out.ClarificationRounds)
		return forceComplete(out, critical)
	}

	out.MissingCriticalInfo = critical
	out.ConversationComplete = false
	out.ClarificationRounds++
	out.AskedFields = appendUnique(out.AskedFields, next.Field)
	out = out.WithTurn(models.RoleAgent, models.TurnKindQuestion, question, now)
	out.Stage = models.StageAwaitingUserInput
	return out
}

// unresolved returns the critical items that were not already resolved.
func (g CompletenessGate) unresolved(s models.AgentState) []models.MissingInfo {
	if s.Intent == nil {
		return nil
	}
	var out []models.MissingInfo
	for _, m := range s.Intent.Critical() {
		if s.IsResolved(m.Field) {
			continue
		}
		// A recipient question is moot once a recipient is known.
		if strings.EqualFold(m.Field, FieldRecipients) && len(s.Intent.Recipients) > 0 {
			continue
		}
		out = append(out, m)
	}
	return out
}

func complete(s models.AgentState) models.AgentState {
	s.MissingCriticalInfo = nil
	s.ConversationComplete = true
	return s
}

// forceComplete proceeds with what is known and marks the outstanding fields
// resolved so they are never raised again for this request.
func forceComplete(s models.AgentState, critical []models.MissingInfo) models.AgentState {
	for _, m := range critical {
		s.ResolvedFields = appendUnique(s.ResolvedFields, m.Field)
	}
	return complete(s)
}

// alreadyAsked reports whether question matches an earlier one, compared
// case-insensitively as a substring in either direction.
func alreadyAsked(question string, asked []string) bool {
	q := strings.ToLower(strings.TrimSpace(question))
	if q == "" {
		return false
	}
	for _, a := range asked {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if strings.Contains(a, q) || strings.Contains(q, a) {
			return true
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return list
		}
	}
	return append(list, v)
}
