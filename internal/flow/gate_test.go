package flow

import (
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/MailPipe/internal/models"
)

var gateNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func stateWithCritical(fields ...models.MissingInfo) models.AgentState {
	s := models.NewAgentState("t1", gateNow)
	s.ActionType = models.ActionSendEmail
	s.Intent = &models.Intent{
		MessageContent: "lunch on Friday",
		Recipients:     []models.Contact{bob},
		MissingInfo:    fields,
	}
	return s
}

func TestGateCompletesWithoutCriticalInfo(t *testing.T) {
	s := stateWithCritical(models.MissingInfo{Field: "tone", Question: "Any tone?", Importance: models.ImportanceOptional})
	out := CompletenessGate{MaxRounds: 3}.Apply(s, gateNow)
	if !out.ConversationComplete {
		t.Fatal("expected complete when only optional info is missing")
	}
	if len(out.AskedQuestions()) != 0 {
		t.Errorf("expected no question, got %v", out.AskedQuestions())
	}
}

func TestGateAsksFirstCriticalQuestion(t *testing.T) {
	s := stateWithCritical(
		models.MissingInfo{Field: "time", Question: "What time is lunch?", Importance: models.ImportanceCritical},
		models.MissingInfo{Field: "place", Question: "Where is lunch?", Importance: models.ImportanceCritical},
	)
	out := CompletenessGate{MaxRounds: 3}.Apply(s, gateNow)
	if out.ConversationComplete {
		t.Fatal("expected incomplete")
	}
	if out.Stage != models.StageAwaitingUserInput {
		t.Errorf("stage = %s", out.Stage)
	}
	if got := out.AskedQuestions(); len(got) != 1 || got[0] != "What time is lunch?" {
		t.Errorf("asked = %v", got)
	}
	if out.ClarificationRounds != 1 {
		t.Errorf("rounds = %d", out.ClarificationRounds)
	}
}

func TestGateNeverRepeatsQuestion(t *testing.T) {
	s := stateWithCritical(models.MissingInfo{Field: "time", Question: "what time is lunch", Importance: models.ImportanceCritical})
	s = s.WithTurn(models.RoleAgent, models.TurnKindQuestion, "What time is lunch? I need it for the invite.", gateNow)

	out := CompletenessGate{MaxRounds: 3}.Apply(s, gateNow)
	if !out.ConversationComplete {
		t.Fatal("expected repeat protection to force completion")
	}
	if n := len(out.AskedQuestions()); n != 1 {
		t.Errorf("expected no new question, have %d", n)
	}
	if !out.IsResolved("time") {
		t.Errorf("expected forced field to be recorded as resolved")
	}
}

func TestGateNeverReasksSameFieldReworded(t *testing.T) {
	s := stateWithCritical(models.MissingInfo{Field: "time", Question: "When should we meet?", Importance: models.ImportanceCritical})
	s.AskedFields = []string{"time"}
	out := CompletenessGate{MaxRounds: 3}.Apply(s, gateNow)
	if !out.ConversationComplete {
		t.Fatal("expected completion for a field already asked about")
	}
}

func TestGateRespectsMaxRounds(t *testing.T) {
	s := stateWithCritical(models.MissingInfo{Field: "budget", Question: "What is the budget?", Importance: models.ImportanceCritical})
	s.ClarificationRounds = 3
	out := CompletenessGate{MaxRounds: 3}.Apply(s, gateNow)
	if !out.ConversationComplete {
		t.Fatal("expected completion once the round limit is reached")
	}
}

// Once complete for a set of fields, re-flagging the same fields must not
// reopen the conversation.
func TestGateCompletionIsMonotonic(t *testing.T) {
	gate := CompletenessGate{MaxRounds: 3}
	time1 := models.MissingInfo{Field: "time", Question: "What time?", Importance: models.ImportanceCritical}

	s := gate.Apply(stateWithCritical(time1), gateNow)
	if s.ConversationComplete {
		t.Fatal("first pass should ask")
	}

	// User answered; the model no longer flags the field.
	s.Intent.MissingInfo = nil
	s = gate.Apply(s, gateNow)
	if !s.ConversationComplete {
		t.Fatal("expected completion after the answer")
	}

	// A regressing model flags the same field with new wording.
	s.Intent.MissingInfo = []models.MissingInfo{{Field: "TIME", Question: "Which time works?", Importance: models.ImportanceCritical}}
	s = gate.Apply(s, gateNow)
	if !s.ConversationComplete {
		t.Fatal("completion reverted for an already satisfied field")
	}
}

func TestGateSkipsRecipientQuestionWhenRecipientKnown(t *testing.T) {
	s := stateWithCritical(models.MissingInfo{Field: FieldRecipients, Question: recipientsQuestion, Importance: models.ImportanceCritical})
	out := CompletenessGate{MaxRounds: 3}.Apply(s, gateNow)
	if !out.ConversationComplete {
		t.Fatal("recipient question should be moot")
	}
}

func TestGateSynthesizesQuestionText(t *testing.T) {
	s := stateWithCritical(models.MissingInfo{Field: "date", Importance: models.ImportanceCritical})
	out := CompletenessGate{MaxRounds: 3}.Apply(s, gateNow)
	if q := out.LastAgentMessage(); !strings.Contains(q, "date") {
		t.Errorf("question = %q", q)
	}
}
