package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/MailPipe/internal/logging"
	"github.com/BTreeMap/MailPipe/internal/models"
)

// NoEmailsMessage is the summary when the mailbox query returns nothing.
const NoEmailsMessage = "No recent emails found to summarize."

const summarizeSystemPrompt = `You summarize a user's recent emails.

Write a short digest in plain text with three parts:
1. Overview: one or two sentences on what the inbox is about.
2. Important: the messages that need attention, with sender and subject.
3. Action items: concrete things the user should do, if any.

Do not invent messages that are not listed.`

// Summarizer produces a digest of fetched emails.
type Summarizer struct {
	llm           LLM
	digestLimit   int
	previewRunes  int
	fallbackCount int
}

// NewSummarizer creates a summarizer.
func NewSummarizer(llm LLM, digestLimit, previewRunes, fallbackCount int) *Summarizer {
	return &Summarizer{llm: llm, digestLimit: digestLimit, previewRunes: previewRunes, fallbackCount: fallbackCount}
}

// Summarize never fails. With no emails the model is not called; when the
// model fails a plain list of the first messages is returned.
func (s *Summarizer) Summarize(ctx context.Context, emails []models.FetchedEmail) string {
	if len(emails) == 0 {
		return NoEmailsMessage
	}
	reply, err := s.llm.Complete(ctx, summarizeSystemPrompt, s.digest(emails))
	if err == nil && strings.TrimSpace(reply) != "" {
		return strings.TrimSpace(reply)
	}
	slog.Warn("Summarizer.Summarize: model failed, using fallback list", logging.Err(err), "emails", len(emails))
	return s.fallback(emails)
}

func (s *Summarizer) digest(emails []models.FetchedEmail) string {
	if len(emails) > s.digestLimit {
		emails = emails[:s.digestLimit]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize these %d email(s):\n", len(emails))
	for i, e := range emails {
		preview := e.Body
		if strings.TrimSpace(preview) == "" {
			preview = e.Snippet
		}
		fmt.Fprintf(&b, "\nEmail %d:\nFrom: %s\nSubject: %s\nDate: %s\nPreview: %s\n",
			i+1, e.From, e.Subject, e.Date, truncateRunes(strings.TrimSpace(preview), s.previewRunes))
	}
	return b.String()
}

func (s *Summarizer) fallback(emails []models.FetchedEmail) string {
	n := min(len(emails), s.fallbackCount)
	var b strings.Builder
	fmt.Fprintf(&b, "I couldn't generate a summary, but here are your %d most recent email(s):", n)
	for _, e := range emails[:n] {
		fmt.Fprintf(&b, "\n• %s (from %s)", e.Subject, e.From)
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
