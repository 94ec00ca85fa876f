package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/BTreeMap/MailPipe/internal/models"
)

func TestComposerIsolatesFailures(t *testing.T) {
	recipients := []models.Contact{
		{Name: "Ann", Email: "ann@example.com", Relation: "colleague"},
		{Name: "Bob", Email: "bob@example.com", Relation: "manager", Tone: "formal"},
		{Name: "Cat", Email: "cat@example.com", Relation: "friend", Tone: "relaxed, brief"},
	}
	llm := &fakeLLM{compose: func(user string) (string, error) {
		if strings.Contains(user, "Recipient: Bob") {
			return "", errModelDown
		}
		return composeFromPrompt(user)
	}}
	s := models.NewAgentState("t1", gateNow)
	s.Intent = &models.Intent{MessageContent: "I'm on leave next week", SubjectHint: "Leave", Recipients: recipients}

	out := NewComposer(llm, 2, "Email from AI Agent").Compose(context.Background(), s, "")

	if len(out.EmailsToSend) != 3 {
		t.Fatalf("expected 3 drafts, got %d", len(out.EmailsToSend))
	}
	for i, r := range recipients {
		if out.EmailsToSend[i].To != r.Email {
			t.Errorf("draft %d addressed to %s, want %s", i, out.EmailsToSend[i].To, r.Email)
		}
	}
	fb := out.EmailsToSend[1]
	if fb.Subject != "Leave" || fb.Body != "I'm on leave next week" {
		t.Errorf("fallback draft = %+v", fb)
	}
	if !strings.Contains(out.EmailsToSend[0].Body, "Hi Ann") || !strings.Contains(out.EmailsToSend[2].Body, "Hi Cat") {
		t.Errorf("other drafts should come from the model: %+v", out.EmailsToSend)
	}
	if out.EmailsToSend[2].Tone != "casual, concise" {
		t.Errorf("tone label = %q", out.EmailsToSend[2].Tone)
	}
	if s.EmailsToSend != nil {
		t.Errorf("input state was mutated")
	}
}

func TestComposerFallbackSubjectDefault(t *testing.T) {
	s := models.NewAgentState("t1", gateNow)
	s.Intent = &models.Intent{MessageContent: "hello", Recipients: []models.Contact{bob}}
	out := NewComposer(&fakeLLM{compose: replyWith("not json")}, 1, "Email from AI Agent").Compose(context.Background(), s, "")
	if out.EmailsToSend[0].Subject != "Email from AI Agent" {
		t.Errorf("subject = %q", out.EmailsToSend[0].Subject)
	}
}

func TestComposerRevisionIncludesPreviousDraft(t *testing.T) {
	var prompt string
	llm := &fakeLLM{compose: func(user string) (string, error) {
		prompt = user
		return `{"subject":"Shorter","body":"Hi Bob, out next week."}`, nil
	}}
	s := models.NewAgentState("t1", gateNow)
	s.Intent = &models.Intent{MessageContent: "leave", Recipients: []models.Contact{bob}}
	s.EmailsToSend = []models.ComposedEmail{{To: bob.Email, ToName: "Bob", Subject: "Long", Body: "A very long draft"}}

	out := NewComposer(llm, 1, "x").Compose(context.Background(), s, "make it shorter")
	if !strings.Contains(prompt, "A very long draft") || !strings.Contains(prompt, "make it shorter") {
		t.Errorf("revision prompt missing context:\n%s", prompt)
	}
	if out.EmailsToSend[0].Subject != "Shorter" {
		t.Errorf("subject = %q", out.EmailsToSend[0].Subject)
	}
}
