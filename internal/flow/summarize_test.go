package flow

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/BTreeMap/MailPipe/internal/models"
)

func TestSummarizeNoEmailsSkipsModel(t *testing.T) {
	llm := &fakeLLM{summarize: replyWith("should not be used")}
	got := NewSummarizer(llm, 10, 300, 5).Summarize(context.Background(), nil)
	if got != NoEmailsMessage {
		t.Errorf("got %q", got)
	}
	if n := llm.count("summarize"); n != 0 {
		t.Errorf("model called %d times", n)
	}
}

func TestSummarizeDigestBounds(t *testing.T) {
	var prompt string
	llm := &fakeLLM{summarize: func(user string) (string, error) {
		prompt = user
		return "  digest  ", nil
	}}
	var emails []models.FetchedEmail
	for i := range 12 {
		emails = append(emails, models.FetchedEmail{
			ID: fmt.Sprint(i), From: "a@example.com", Subject: fmt.Sprintf("subject-%d", i),
			Body: strings.Repeat("é", 400),
		})
	}
	got := NewSummarizer(llm, 10, 300, 5).Summarize(context.Background(), emails)
	if got != "digest" {
		t.Errorf("got %q", got)
	}
	if strings.Contains(prompt, "subject-10") || !strings.Contains(prompt, "subject-9") {
		t.Errorf("digest should hold exactly the first 10 emails")
	}
	if strings.Contains(prompt, strings.Repeat("é", 301)) || !strings.Contains(prompt, strings.Repeat("é", 300)+"...") {
		t.Errorf("previews should be truncated to 300 runes")
	}
}

func TestSummarizeFallbackList(t *testing.T) {
	var emails []models.FetchedEmail
	for i := range 7 {
		emails = append(emails, models.FetchedEmail{From: "x@example.com", Subject: fmt.Sprintf("s%d", i), Snippet: "hi"})
	}
	got := NewSummarizer(&fakeLLM{}, 10, 300, 5).Summarize(context.Background(), emails)
	if strings.Count(got, "•") != 5 {
		t.Errorf("fallback should list 5 emails:\n%s", got)
	}
	if strings.Contains(got, "s5") {
		t.Errorf("fallback listed too many emails")
	}
}
