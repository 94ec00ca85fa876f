package flow

import (
	"strings"
	"unicode"

	"github.com/BTreeMap/MailPipe/internal/models"
)

// HelpMessage is returned when a request matches neither route.
const HelpMessage = "I can send emails to your contacts or summarize your recent inbox. " +
	"Try \"Email my manager that I'll be late\" or \"Summarize my recent emails\"."

// ActionDetector classifies the first request on a thread by keyword.
type ActionDetector struct {
	send      []string
	summarize []string
}

// NewActionDetector builds a detector from keyword lists.
func NewActionDetector(sendKeywords, summarizeKeywords []string) ActionDetector {
	return ActionDetector{send: lowerAll(sendKeywords), summarize: lowerAll(summarizeKeywords)}
}

// Detect returns the route for text. A request that opens with a send verb
// is a send unless the user is the recipient ("send me a digest"); otherwise
// summarize phrases are checked before send keywords, since summarize
// requests usually mention email too.
func (d ActionDetector) Detect(text string) models.ActionType {
	norm := strings.ToLower(text)
	words := tokenize(norm)
	if d.leadsWithSendVerb(words) {
		return models.ActionSendEmail
	}
	if matchesAny(norm, words, d.summarize) {
		return models.ActionSummarize
	}
	if matchesAny(norm, words, d.send) {
		return models.ActionSendEmail
	}
	return models.ActionUnknown
}

// leadingFiller is skipped before looking for the opening verb.
var leadingFiller = map[string]bool{
	"please": true, "can": true, "could": true, "would": true, "will": true,
	"you": true, "kindly": true, "hey": true, "hi": true,
}

func (d ActionDetector) leadsWithSendVerb(words []string) bool {
	i := 0
	for i < len(words) && leadingFiller[words[i]] {
		i++
	}
	if i >= len(words) || !matchesAny("", words[i:i+1], d.send) {
		return false
	}
	return i+1 >= len(words) || words[i+1] != "me"
}

// matchesAny matches phrases by substring and single keywords by word
// prefix, so "emails" matches "email" but "intelligence" does not match
// "tell".
func matchesAny(norm string, words, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(kw, " ") {
			if strings.Contains(norm, kw) {
				return true
			}
			continue
		}
		for _, w := range words {
			if strings.HasPrefix(w, kw) {
				return true
			}
		}
	}
	return false
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// normalizeReply lowercases text and strips everything but letters, digits
// and single spaces.
func normalizeReply(text string) string {
	return strings.Join(tokenize(strings.ToLower(text)), " ")
}
