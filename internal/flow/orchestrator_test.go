package flow

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/BTreeMap/MailPipe/internal/models"
	"github.com/BTreeMap/MailPipe/internal/util"
)

const leaveIntent = `{"message_content":"I'm on leave for 5 days","recipients":[{"relation":"manager"}],"subject_hint":"Leave notice","missing_info":[]}`

func TestScenarioLeaveNoticeToManager(t *testing.T) {
	h := newHarness(t, []models.Contact{bob, {Name: "Ann", Email: "ann@example.com", Relation: "colleague"}})
	h.llm.intent = replyWith(leaveIntent)

	s := h.turn(t, "alice", "send that I'm on leave for 5 days to my manager")
	if s.ActionType != models.ActionSendEmail {
		t.Fatalf("ActionType = %s, want %s", s.ActionType, models.ActionSendEmail)
	}
	if s.Intent == nil || len(s.Intent.Recipients) != 1 {
		t.Fatalf("expected one intended recipient, got %+v", s.Intent)
	}
	if s.Intent.Recipients[0].Relation != "manager" {
		t.Errorf("recipient relation = %q, want manager", s.Intent.Recipients[0].Relation)
	}
	if len(s.EmailsToSend) != 1 || s.EmailsToSend[0].To != "bob@example.com" {
		t.Fatalf("expected one draft to bob, got %+v", s.EmailsToSend)
	}
	if !s.AwaitingApproval || !s.ConversationComplete {
		t.Errorf("thread should halt for approval: %+v", s)
	}
	if n := h.mail.sentCount(); n != 0 {
		t.Errorf("nothing should be sent before approval, sent %d", n)
	}

	resp := models.ResponseFromState(s)
	if resp.Status != models.TurnStatusAwaitingApproval || !slices.Equal(resp.Actions, models.ApprovalActions) {
		t.Errorf("unexpected preview response %+v", resp)
	}

	s = h.turn(t, "alice", "send")
	if n := h.mail.sentCount(); n != 1 {
		t.Errorf("sent %d emails, want 1", n)
	}
	if s.Stage != models.StageSent || s.AwaitingApproval {
		t.Errorf("stage = %s awaiting = %v, want sent", s.Stage, s.AwaitingApproval)
	}

	resp = models.ResponseFromState(s)
	if resp.Status != models.TurnStatusComplete || resp.EmailsSent == nil || *resp.EmailsSent != 1 {
		t.Fatalf("unexpected completion response %+v", resp)
	}
	if !slices.Equal(resp.Recipients, []string{"Bob"}) {
		t.Errorf("Recipients = %v, want [Bob]", resp.Recipients)
	}

	receipts, err := h.store.GetReceipts(context.Background(), util.ResolveThreadID("alice"))
	if err != nil {
		t.Fatalf("GetReceipts: %v", err)
	}
	if len(receipts) != 1 {
		t.Errorf("expected one receipt, got %d", len(receipts))
	}
}

func TestApprovalReplies(t *testing.T) {
	tests := []struct {
		reply     string
		wantStage models.Stage
		wantSent  int
	}{
		{"send it", models.StageSent, 1},
		{"yes please", models.StageSent, 1},
		{"ok, send", models.StageSent, 1},
		{"Yes!", models.StageSent, 1},
		{"cancel that", models.StageCancelled, 0},
		{"don't send it", models.StageCancelled, 0},
		{"no, make it shorter", models.StageAwaitingApproval, 0},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			h := newHarness(t, []models.Contact{bob})
			h.llm.intent = replyWith(leaveIntent)
			h.turn(t, "t-reply", "tell my manager I'm on leave")

			s := h.turn(t, "t-reply", tt.reply)
			if s.Stage != tt.wantStage {
				t.Errorf("stage = %s, want %s", s.Stage, tt.wantStage)
			}
			if n := h.mail.sentCount(); n != tt.wantSent {
				t.Errorf("sent %d emails, want %d", n, tt.wantSent)
			}
			wantCompose := 1
			if tt.wantStage == models.StageAwaitingApproval {
				wantCompose = 2
			}
			if n := h.llm.count("compose"); n != wantCompose {
				t.Errorf("compose calls = %d, want %d", n, wantCompose)
			}
		})
	}
}

func TestScenarioSummarizeNeverFlips(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.summarize = replyWith("Two messages, nothing urgent.")
	h.mail.messages = []models.FetchedEmail{
		{ID: "1", From: "a@example.com", Subject: "Hello"},
		{ID: "2", From: "b@example.com", Subject: "Invoice"},
	}

	s := h.turn(t, "", "summarize my emails")
	if s.ActionType != models.ActionSummarize {
		t.Fatalf("ActionType = %s, want summarize", s.ActionType)
	}
	if got := s.LastAgentMessage(); got != "Two messages, nothing urgent." {
		t.Errorf("summary = %q", got)
	}
	if got := models.ResponseFromState(s).Status; got != models.TurnStatusSummary {
		t.Errorf("response status = %s, want summary", got)
	}

	s = h.turn(t, s.ThreadID, "send an email to my manager saying hi")
	if s.ActionType != models.ActionSummarize {
		t.Errorf("action type flipped to %s", s.ActionType)
	}
	if h.contacts.calls != 0 {
		t.Errorf("contacts must not be fetched on a summarize thread, got %d calls", h.contacts.calls)
	}
	if n := h.llm.count("intent"); n != 0 {
		t.Errorf("intent calls = %d, want 0", n)
	}
	if n := h.llm.count("summarize"); n != 2 {
		t.Errorf("summarize calls = %d, want 2", n)
	}
}

func TestCancelSummarizeThread(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.summarize = replyWith("Nothing new.")
	h.mail.messages = []models.FetchedEmail{{ID: "1", Subject: "x"}}

	s := h.turn(t, "t-sum-cancel", "summarize my inbox")
	s, err := h.orch.ProcessTurn(context.Background(), models.TurnRequest{
		Message: "cancel", ThreadID: s.ThreadID, Action: models.TurnActionCancel, UserToken: "tok",
	})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if s.Stage != models.StageCancelled {
		t.Fatalf("stage = %s, want cancelled", s.Stage)
	}
	if resp := models.ResponseFromState(s); resp.Status != models.TurnStatusComplete {
		t.Errorf("cancelled thread should report completion, got %+v", resp)
	}
}

func TestSummarizeEmptyInboxSkipsModel(t *testing.T) {
	h := newHarness(t, nil)
	s := h.turn(t, "", "summarize my inbox")
	if got := s.LastAgentMessage(); got != NoEmailsMessage {
		t.Errorf("message = %q, want %q", got, NoEmailsMessage)
	}
	if n := h.llm.count("summarize"); n != 0 {
		t.Errorf("summarize calls = %d, want 0", n)
	}
}

func TestClarifyThenCompose(t *testing.T) {
	h := newHarness(t, []models.Contact{bob})
	round := 0
	h.llm.intent = func(user string) (string, error) {
		round++
		if round == 1 {
			return `{"message_content":"Team lunch","recipients":[{"name":"Bob"}],"missing_info":[{"field":"date","question":"Which day is the lunch?","importance":"critical"}]}`, nil
		}
		if !strings.Contains(user, "Which day is the lunch?") || !strings.Contains(user, "Friday") {
			t.Errorf("second analysis should see the question and answer:\n%s", user)
		}
		return `{"message_content":"Team lunch on Friday","recipients":[{"name":"bob"}],"missing_info":[]}`, nil
	}

	s := h.turn(t, "t-lunch", "email Bob about team lunch")
	if s.ConversationComplete {
		t.Error("conversation should wait for the answer")
	}
	if got := models.ResponseFromState(s).Status; got != models.TurnStatusNeedsInfo {
		t.Errorf("response status = %s, want needs_info", got)
	}
	if got := s.LastAgentMessage(); got != "Which day is the lunch?" {
		t.Errorf("question = %q", got)
	}

	s = h.turn(t, "t-lunch", "Friday")
	if !s.AwaitingApproval {
		t.Error("answered thread should reach the preview")
	}
	if s.Intent.MessageContent != "Team lunch on Friday" {
		t.Errorf("MessageContent = %q", s.Intent.MessageContent)
	}
	if !slices.Contains(s.ResolvedFields, "date") {
		t.Errorf("ResolvedFields = %v, want date", s.ResolvedFields)
	}
}

func TestIntentFallbackWithoutRecipientsEndsCleanly(t *testing.T) {
	h := newHarness(t, []models.Contact{bob})
	h.llm.intent = replyWith("I am not JSON")

	s := h.turn(t, "", "send a note to my manager")
	if s.Intent == nil {
		t.Fatal("fallback intent missing")
	}
	if s.Intent.MessageContent != "send a note to my manager" {
		t.Errorf("MessageContent = %q", s.Intent.MessageContent)
	}
	if s.Intent.SubjectHint != "Email from AI Agent" {
		t.Errorf("SubjectHint = %q", s.Intent.SubjectHint)
	}
	if !s.ConversationComplete || s.Stage != models.StageCancelled {
		t.Errorf("thread should end cancelled, stage = %s", s.Stage)
	}
	if got := s.LastAgentMessage(); got != noRecipientsMessage {
		t.Errorf("message = %q", got)
	}
	if n := h.mail.sentCount(); n != 0 {
		t.Errorf("sent %d emails, want 0", n)
	}
}

func TestUnknownRecipientAskedOnceThenStops(t *testing.T) {
	h := newHarness(t, []models.Contact{bob})
	h.llm.intent = replyWith(`{"message_content":"hello","recipients":[{"name":"Zed"}],"missing_info":[]}`)

	s := h.turn(t, "t-zed", "email Zed hello")
	if got := s.LastAgentMessage(); got != recipientsQuestion {
		t.Errorf("question = %q, want %q", got, recipientsQuestion)
	}

	s = h.turn(t, "t-zed", "Zed from accounting")
	if s.Stage != models.StageCancelled {
		t.Errorf("stage = %s, want cancelled", s.Stage)
	}
	if n := len(s.AskedQuestions()); n != 1 {
		t.Errorf("asked %d questions, want 1", n)
	}
}

func TestUnknownActionAsksForHelp(t *testing.T) {
	h := newHarness(t, nil)
	s := h.turn(t, "t-help", "hmm")
	if s.ActionType != models.ActionUnknown {
		t.Errorf("ActionType = %s, want unknown", s.ActionType)
	}
	if got := s.LastAgentMessage(); got != HelpMessage {
		t.Errorf("message = %q", got)
	}
	if got := models.ResponseFromState(s).Status; got != models.TurnStatusNeedsInfo {
		t.Errorf("response status = %s, want needs_info", got)
	}

	h.llm.summarize = replyWith("ok")
	h.mail.messages = []models.FetchedEmail{{ID: "1", Subject: "x"}}
	s = h.turn(t, "t-help", "summarize my emails")
	if s.ActionType != models.ActionSummarize {
		t.Errorf("ActionType = %s, want summarize", s.ActionType)
	}
}

func TestCancelAndRevise(t *testing.T) {
	h := newHarness(t, []models.Contact{bob})
	h.llm.intent = replyWith(leaveIntent)

	h.turn(t, "t-rev", "tell my manager I'm on leave")
	s := h.turn(t, "t-rev", "make it more formal")
	if !s.AwaitingApproval {
		t.Error("revision should re-preview")
	}
	if n := h.llm.count("compose"); n != 2 {
		t.Errorf("compose calls = %d, want 2", n)
	}

	s = h.turn(t, "t-rev", "cancel")
	if s.Stage != models.StageCancelled {
		t.Errorf("stage = %s, want cancelled", s.Stage)
	}
	if n := h.mail.sentCount(); n != 0 {
		t.Errorf("sent %d emails, want 0", n)
	}
	if resp := models.ResponseFromState(s); resp.EmailsSent == nil || *resp.EmailsSent != 0 {
		t.Errorf("cancelled response should report zero sent, got %+v", resp)
	}

	// The finished thread accepts a new request of the same type.
	s = h.turn(t, "t-rev", "tell my manager I'm on leave")
	if !s.AwaitingApproval {
		t.Error("new request should reach the preview")
	}
	if s.ClarificationRounds != 0 {
		t.Errorf("ClarificationRounds = %d, want 0", s.ClarificationRounds)
	}
}

func TestEditThenSend(t *testing.T) {
	h := newHarness(t, []models.Contact{bob})
	h.llm.intent = replyWith(leaveIntent)
	h.turn(t, "t-edit", "tell my manager I'm on leave")

	edited := []models.ComposedEmail{{To: "bob@example.com", ToName: "Bob", Subject: "Edited", Body: "Edited body"}}
	s, err := h.orch.ProcessTurn(context.Background(), models.TurnRequest{
		Message: "edited", ThreadID: "t-edit", Action: models.TurnActionEdit, EditedEmails: edited, UserToken: "tok",
	})
	if err != nil {
		t.Fatalf("edit turn: %v", err)
	}
	if !s.AwaitingApproval {
		t.Error("edit should re-preview")
	}
	if !slices.Equal(s.EmailsToSend, edited) {
		t.Errorf("EmailsToSend = %+v, want %+v", s.EmailsToSend, edited)
	}

	s, err = h.orch.ProcessTurn(context.Background(), models.TurnRequest{Message: "go", ThreadID: "t-edit", Action: models.TurnActionSend, UserToken: "tok"})
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if s.Stage != models.StageSent {
		t.Errorf("stage = %s, want sent", s.Stage)
	}
	if n := h.mail.sentCount(); n != 1 {
		t.Fatalf("sent %d emails, want 1", n)
	}
	if h.mail.sent[0].Subject != "Edited" {
		t.Errorf("sent subject = %q, want Edited", h.mail.sent[0].Subject)
	}
}

func TestPartialDispatchReported(t *testing.T) {
	ann := models.Contact{Name: "Ann", Email: "ann@example.com", Relation: "manager"}
	h := newHarness(t, []models.Contact{bob, ann})
	h.mail.failFor = map[string]bool{"ann@example.com": true}
	h.llm.intent = replyWith(leaveIntent)

	s := h.turn(t, "t-partial", "tell my managers I'm on leave")
	if len(s.EmailsToSend) != 2 {
		t.Fatalf("expected two drafts, got %d", len(s.EmailsToSend))
	}
	s = h.turn(t, "t-partial", "yes")

	resp := models.ResponseFromState(s)
	if resp.Status != models.TurnStatusComplete || resp.EmailsSent == nil || *resp.EmailsSent != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !slices.Equal(resp.FailedRecipients, []string{"Ann"}) {
		t.Errorf("FailedRecipients = %v, want [Ann]", resp.FailedRecipients)
	}
}

func TestUpstreamErrorLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, []models.Contact{bob})
	h.contacts.err = &models.GatewayError{Gateway: "contacts", Op: "list", Kind: models.ErrUpstreamTimeout, Err: context.DeadlineExceeded}

	_, err := h.orch.ProcessTurn(context.Background(), models.TurnRequest{Message: "email Bob hi", ThreadID: "t-err", UserToken: "tok"})
	if !errors.Is(err, models.ErrUpstreamTimeout) {
		t.Fatalf("expected ErrUpstreamTimeout, got %v", err)
	}

	stored, err := h.store.GetThreadState(context.Background(), util.ResolveThreadID("t-err"))
	if err != nil {
		t.Fatalf("GetThreadState: %v", err)
	}
	if stored != nil {
		t.Errorf("failed turn should not save state, got %+v", stored)
	}
}

func TestInvalidRequests(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  models.TurnRequest
	}{
		{"blank message", models.TurnRequest{Message: "   "}},
		{"unknown action", models.TurnRequest{Message: "x", Action: "explode"}},
		{"send without preview", models.TurnRequest{Message: "send", ThreadID: "fresh", Action: models.TurnActionSend}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.orch.ProcessTurn(ctx, tt.req); !errors.Is(err, models.ErrInput) {
				t.Errorf("expected ErrInput, got %v", err)
			}
		})
	}
}

func TestDirectSendWithEditedEmails(t *testing.T) {
	h := newHarness(t, nil)
	s, err := h.orch.ProcessTurn(context.Background(), models.TurnRequest{
		Message:      "send these",
		Action:       models.TurnActionSend,
		EditedEmails: []models.ComposedEmail{{To: "bob@example.com", Subject: "s", Body: "b"}},
		UserToken:    "tok",
	})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if s.ActionType != models.ActionSendEmail {
		t.Errorf("ActionType = %s, want send", s.ActionType)
	}
	if n := h.mail.sentCount(); n != 1 {
		t.Errorf("sent %d emails, want 1", n)
	}
	if n := h.llm.count("intent"); n != 0 {
		t.Errorf("intent calls = %d, want 0", n)
	}
}
