package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/MailPipe/internal/logging"
	"github.com/BTreeMap/MailPipe/internal/models"
)

// FieldRecipients names the missing-info entry raised when no recipient
// could be matched.
const FieldRecipients = "recipients"

const recipientsQuestion = "Who should receive this email? Please name a contact or a relation such as \"my manager\"."

const intentSystemPrompt = `You analyze requests to send email on behalf of a user.

Return ONLY a JSON object with this shape:
{
  "message_content": "what the email should say",
  "recipients": [{"name": "...", "email": "...", "relation": "...", "tone": "..."}],
  "subject_hint": "short subject suggestion",
  "missing_info": [{"field": "...", "question": "...", "importance": "critical|optional"}],
  "extracted_info": {"key": "value"}
}

Rules:
1. Pick recipients only from the contact list, matching by name or relation.
2. If several contacts match a relation, include all of them.
3. Use the whole conversation: later user turns answer earlier questions.
4. Mark information critical only when the email cannot be written without it.
5. Do not ask again for information the user already gave.`

// modelIntent is the wire shape of the extractor's reply.
type modelIntent struct {
	MessageContent string               `json:"message_content"`
	Recipients     []modelRecipient     `json:"recipients"`
	SubjectHint    string               `json:"subject_hint"`
	MissingInfo    []models.MissingInfo `json:"missing_info"`
	ExtractedInfo  map[string]any       `json:"extracted_info"`
}

type modelRecipient struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Relation string `json:"relation"`
	Tone     string `json:"tone"`
}

// IntentExtractor turns the conversation and contacts into an Intent.
type IntentExtractor struct {
	llm            LLM
	defaultSubject string
}

// NewIntentExtractor creates an extractor.
func NewIntentExtractor(llm LLM, defaultSubject string) *IntentExtractor {
	return &IntentExtractor{llm: llm, defaultSubject: defaultSubject}
}

// Extract analyzes the state's conversation and returns the state with a
// merged Intent. It never fails: a model or decode error falls back to
// treating the user input as the message with no missing information.
func (e *IntentExtractor) Extract(ctx context.Context, s models.AgentState) models.AgentState {
	out := s.Clone()
	out.Stage = models.StageAnalyzeIntent

	reply, err := e.llm.Complete(ctx, intentSystemPrompt, buildIntentPrompt(s))
	if err != nil {
		slog.Warn("IntentExtractor.Extract: model call failed, using fallback", logging.KeyThread, s.ThreadID, logging.Err(err))
		return e.fallback(out)
	}
	parsed, err := ParseModelJSON[modelIntent](reply)
	if err != nil || strings.TrimSpace(parsed.MessageContent) == "" {
		if err == nil {
			err = fmt.Errorf("%w: message_content is empty", models.ErrModelOutput)
		}
		slog.Warn("IntentExtractor.Extract: unusable reply, using fallback", logging.KeyThread, s.ThreadID, logging.Err(err))
		return e.fallback(out)
	}

	next := models.Intent{
		MessageContent: strings.TrimSpace(parsed.MessageContent),
		Recipients:     reconcileRecipients(parsed.Recipients, s.Contacts),
		SubjectHint:    strings.TrimSpace(parsed.SubjectHint),
		MissingInfo:    cleanMissing(parsed.MissingInfo),
		ExtractedInfo:  stringifyInfo(parsed.ExtractedInfo),
	}
	merged := mergeIntent(s.Intent, next)
	if len(merged.Recipients) == 0 && !hasField(merged.MissingInfo, FieldRecipients) {
		merged.MissingInfo = append(merged.MissingInfo, models.MissingInfo{
			Field:      FieldRecipients,
			Question:   recipientsQuestion,
			Importance: models.ImportanceCritical,
		})
	}
	out.Intent = &merged
	slog.Debug("IntentExtractor.Extract: intent analyzed", logging.KeyThread, s.ThreadID,
		"recipients", len(merged.Recipients), "missing", len(merged.MissingInfo))
	return out
}

// fallback keeps an earlier intent when there is one; otherwise the raw user
// input becomes the message. Either way nothing is left to ask.
func (e *IntentExtractor) fallback(s models.AgentState) models.AgentState {
	if s.Intent != nil {
		in := *s.Intent
		in.MissingInfo = nil
		s.Intent = &in
	} else {
		s.Intent = &models.Intent{
			MessageContent: s.UserInput,
			Recipients:     []models.Contact{},
			SubjectHint:    e.defaultSubject,
			MissingInfo:    []models.MissingInfo{},
		}
	}
	s.MissingCriticalInfo = nil
	s.ConversationComplete = true
	return s
}

func buildIntentPrompt(s models.AgentState) string {
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, t := range s.ConversationHistory {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	fmt.Fprintf(&b, "\nLatest user request: %s\n", s.UserInput)
	b.WriteString("\nAvailable contacts:\n")
	if len(s.Contacts) == 0 {
		b.WriteString("(none)\n")
	}
	for _, c := range s.Contacts {
		fmt.Fprintf(&b, "- %s (%s): relation=%s, tone=%s\n", c.Name, c.Email, orNone(c.Relation), orNone(c.Tone))
	}
	if s.Intent != nil {
		fmt.Fprintf(&b, "\nPrevious analysis: message=%q subject=%q\n", s.Intent.MessageContent, s.Intent.SubjectHint)
	}
	return b.String()
}

// reconcileRecipients maps model recipients onto known contacts: by email,
// then by case-insensitive name, then by relation (all matches). Unmatched
// recipients are dropped and the result is deduplicated by address.
func reconcileRecipients(in []modelRecipient, contacts []models.Contact) []models.Contact {
	out := []models.Contact{}
	seen := map[string]bool{}
	add := func(c models.Contact, toneHint string) {
		key := strings.ToLower(c.Email)
		if seen[key] {
			return
		}
		seen[key] = true
		if c.Tone == "" {
			c.Tone = strings.TrimSpace(toneHint)
		}
		out = append(out, c)
	}
	for _, r := range in {
		if c, ok := findContact(contacts, func(c models.Contact) bool {
			return r.Email != "" && strings.EqualFold(strings.TrimSpace(r.Email), c.Email)
		}); ok {
			add(c, r.Tone)
			continue
		}
		if c, ok := findContact(contacts, func(c models.Contact) bool {
			return r.Name != "" && strings.EqualFold(strings.TrimSpace(r.Name), c.Name)
		}); ok {
			add(c, r.Tone)
			continue
		}
		matched := false
		if rel := strings.TrimSpace(r.Relation); rel != "" && r.Name == "" && r.Email == "" {
			for _, c := range contacts {
				if strings.EqualFold(rel, c.Relation) {
					add(c, r.Tone)
					matched = true
				}
			}
		}
		if !matched {
			slog.Warn("flow.reconcileRecipients: recipient not in contacts, dropped", "name", r.Name, logging.Recipient(r.Email))
		}
	}
	return out
}

func findContact(contacts []models.Contact, match func(models.Contact) bool) (models.Contact, bool) {
	for _, c := range contacts {
		if match(c) {
			return c, true
		}
	}
	return models.Contact{}, false
}

// mergeIntent folds a new analysis into the previous one for the same
// request. Non-empty new values win; extracted info accumulates.
func mergeIntent(prev *models.Intent, next models.Intent) models.Intent {
	if prev == nil {
		return next
	}
	merged := next
	if merged.MessageContent == "" {
		merged.MessageContent = prev.MessageContent
	}
	if merged.SubjectHint == "" {
		merged.SubjectHint = prev.SubjectHint
	}
	if len(merged.Recipients) == 0 {
		merged.Recipients = append([]models.Contact{}, prev.Recipients...)
	}
	if len(prev.ExtractedInfo) > 0 {
		info := make(map[string]string, len(prev.ExtractedInfo)+len(next.ExtractedInfo))
		for k, v := range prev.ExtractedInfo {
			info[k] = v
		}
		for k, v := range next.ExtractedInfo {
			info[k] = v
		}
		merged.ExtractedInfo = info
	}
	return merged
}

func cleanMissing(in []models.MissingInfo) []models.MissingInfo {
	out := []models.MissingInfo{}
	for _, m := range in {
		m.Field = strings.TrimSpace(m.Field)
		m.Question = strings.TrimSpace(m.Question)
		if m.Field == "" && m.Question == "" {
			continue
		}
		if m.Field == "" {
			m.Field = m.Question
		}
		m.Importance = models.Importance(strings.ToLower(strings.TrimSpace(string(m.Importance))))
		if m.Importance != models.ImportanceCritical {
			m.Importance = models.ImportanceOptional
		}
		out = append(out, m)
	}
	return out
}

func stringifyInfo(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

func hasField(missing []models.MissingInfo, field string) bool {
	for _, m := range missing {
		if strings.EqualFold(m.Field, field) {
			return true
		}
	}
	return false
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
