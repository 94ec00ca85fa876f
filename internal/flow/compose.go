package flow

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/MailPipe/internal/logging"
	"github.com/BTreeMap/MailPipe/internal/models"
	"github.com/BTreeMap/MailPipe/internal/tone"
)

const composeSystemPrompt = `You write one personalized email on behalf of the user.

Return ONLY a JSON object: {"subject": "...", "body": "..."}

Adapt formality to the recipient: managers and clients formal, colleagues
slightly casual, friends and family relaxed. Include a salutation and a
closing. Follow the tone policy exactly.`

type modelEmail struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Composer writes one email per recipient.
type Composer struct {
	llm            LLM
	concurrency    int
	defaultSubject string
}

// NewComposer creates a composer that drafts up to concurrency emails at
// once.
func NewComposer(llm LLM, concurrency int, defaultSubject string) *Composer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Composer{llm: llm, concurrency: concurrency, defaultSubject: defaultSubject}
}

// Compose drafts EmailsToSend for every recipient of the state's intent, in
// recipient order. A failed draft falls back to the subject hint and raw
// message content for that recipient only. A non-empty revision is passed
// to the model along with each recipient's previous draft.
func (c *Composer) Compose(ctx context.Context, s models.AgentState, revision string) models.AgentState {
	out := s.Clone()
	out.Stage = models.StageComposeEmails
	if out.Intent == nil {
		out.EmailsToSend = []models.ComposedEmail{}
		return out
	}
	intent := *out.Intent
	previous := map[string]models.ComposedEmail{}
	for _, e := range s.EmailsToSend {
		previous[strings.ToLower(e.To)] = e
	}

	drafts := make([]models.ComposedEmail, len(intent.Recipients))
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, r := range intent.Recipients {
		g.Go(func() error {
			prev, hasPrev := previous[strings.ToLower(r.Email)]
			drafts[i] = c.composeOne(ctx, s.ThreadID, intent, r, revision, prev, hasPrev)
			return nil
		})
	}
	_ = g.Wait()

	out.EmailsToSend = drafts
	return out
}

func (c *Composer) composeOne(ctx context.Context, threadID string, intent models.Intent, r models.Contact, revision string, prev models.ComposedEmail, hasPrev bool) models.ComposedEmail {
	tags := tone.Normalize(r.Tone)
	email := models.ComposedEmail{To: r.Email, ToName: r.Name, Tone: tone.Label(tags)}

	var b strings.Builder
	fmt.Fprintf(&b, "Recipient: %s (%s)\n", r.Name, r.Email)
	fmt.Fprintf(&b, "Relation: %s\n", orNone(r.Relation))
	fmt.Fprintf(&b, "Message to convey: %s\n", intent.MessageContent)
	if intent.SubjectHint != "" {
		fmt.Fprintf(&b, "Subject hint: %s\n", intent.SubjectHint)
	}
	for _, k := range slices.Sorted(maps.Keys(intent.ExtractedInfo)) {
		fmt.Fprintf(&b, "Detail %s: %s\n", k, intent.ExtractedInfo[k])
	}
	b.WriteString("\n")
	b.WriteString(tone.BuildGuide(tags, r.Relation))
	if revision != "" {
		if hasPrev {
			fmt.Fprintf(&b, "\nPrevious draft:\nSubject: %s\n%s\n", prev.Subject, prev.Body)
		}
		fmt.Fprintf(&b, "\nRevise the email as follows: %s\n", revision)
	}

	reply, err := c.llm.Complete(ctx, composeSystemPrompt, b.String())
	if err == nil {
		var parsed modelEmail
		parsed, err = ParseModelJSON[modelEmail](reply)
		if err == nil && strings.TrimSpace(parsed.Subject) != "" && strings.TrimSpace(parsed.Body) != "" {
			email.Subject = strings.TrimSpace(parsed.Subject)
			email.Body = strings.TrimSpace(parsed.Body)
			return email
		}
		if err == nil {
			err = fmt.Errorf("%w: subject or body is empty", models.ErrModelOutput)
		}
	}
	slog.Warn("Composer.composeOne: draft failed, using fallback", logging.KeyThread, threadID, logging.Recipient(r.Email), logging.Err(err))
	if hasPrev {
		return prev
	}
	email.Subject = intent.SubjectHint
	if email.Subject == "" {
		email.Subject = c.defaultSubject
	}
	email.Body = intent.MessageContent
	return email
}
