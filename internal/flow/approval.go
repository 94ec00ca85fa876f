package flow

import (
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/MailPipe/internal/models"
)

// Decision is how a turn on a thread awaiting approval is handled.
type Decision int

const (
	DecisionRevise Decision = iota
	DecisionApprove
	DecisionCancel
	DecisionEdit
)

func (d Decision) String() string {
	switch d {
	case DecisionApprove:
		return "approve"
	case DecisionCancel:
		return "cancel"
	case DecisionEdit:
		return "edit"
	default:
		return "revise"
	}
}

// ApprovalGate renders previews and classifies replies to them.
type ApprovalGate struct {
	approve map[string]bool
	cancel  map[string]bool
}

// NewApprovalGate builds a gate from the accepted approval and cancel
// replies.
func NewApprovalGate(approvalWords, cancelWords []string) ApprovalGate {
	g := ApprovalGate{approve: map[string]bool{}, cancel: map[string]bool{}}
	for _, w := range approvalWords {
		g.approve[normalizeReply(w)] = true
	}
	for _, w := range cancelWords {
		g.cancel[normalizeReply(w)] = true
	}
	return g
}

// replyFiller may accompany an approval or cancel word without turning the
// reply into a revision ("send it", "yes please", "cancel that").
var replyFiller = map[string]bool{
	"it": true, "please": true, "now": true, "them": true, "this": true,
	"that": true, "thanks": true, "thank": true, "you": true, "the": true,
	"email": true, "emails": true, "all": true, "just": true, "go": true,
	"ahead": true, "and": true, "do": true, "a": true, "ok": true, "okay": true,
}

// replyNegation turns an otherwise approving reply into a cancel ("don't send").
var replyNegation = map[string]bool{"don't": true, "dont": true, "not": true, "never": true}

// Classify decides what a reply to a preview means. An explicit action wins.
// Otherwise a reply made only of approval words and filler approves, one made
// only of cancel words and filler (or a negated approval) cancels, and
// anything else is a revision instruction, so "no, make it shorter" revises.
func (g ApprovalGate) Classify(req models.TurnRequest) Decision {
	switch req.Action {
	case models.TurnActionSend:
		return DecisionApprove
	case models.TurnActionCancel:
		return DecisionCancel
	case models.TurnActionEdit:
		return DecisionEdit
	}
	norm := normalizeReply(req.Message)
	switch {
	case g.approve[norm]:
		return DecisionApprove
	case g.cancel[norm]:
		return DecisionCancel
	}
	words := strings.Fields(norm)
	if len(words) == 0 {
		return DecisionRevise
	}
	var approve, cancel, negated, other bool
	for _, w := range words {
		switch {
		case replyNegation[w]:
			negated = true
		case g.approve[w]:
			approve = true
		case g.cancel[w]:
			cancel = true
		case replyFiller[w]:
		default:
			other = true
		}
	}
	switch {
	case other:
		return DecisionRevise
	case cancel || negated:
		return DecisionCancel
	case approve:
		return DecisionApprove
	default:
		return DecisionRevise
	}
}

// Preview halts the state for approval with a rendered preview turn.
func (g ApprovalGate) Preview(s models.AgentState, now time.Time) models.AgentState {
	out := s.WithTurn(models.RoleAgent, models.TurnKindPreview, RenderPreview(s.EmailsToSend), now)
	out.ConversationComplete = true
	out.AwaitingApproval = true
	out.Stage = models.StageAwaitingApproval
	return out
}

// RenderPreview formats drafts for the user to review.
func RenderPreview(emails []models.ComposedEmail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I've drafted %d email(s) for your review:\n", len(emails))
	for i, e := range emails {
		fmt.Fprintf(&b, "\n--- Email %d ---\n", i+1)
		fmt.Fprintf(&b, "To: %s <%s>\n", e.DisplayName(), e.To)
		fmt.Fprintf(&b, "Subject: %s\n\n", e.Subject)
		b.WriteString(e.Body)
		b.WriteString("\n")
	}
	b.WriteString("\nReply \"send\" to send, \"cancel\" to discard, or tell me what to change.")
	return b.String()
}
