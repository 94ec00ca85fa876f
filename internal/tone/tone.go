// Package tone maps the free-text tone stored on a contact onto a fixed set of
// tags and renders those tags as a style guide for the composition prompt.
package tone

import (
	"sort"
	"strings"
)

// Known tags. Anything a contact carries outside this set is ignored.
var AllTags = map[string]bool{
	// Register
	"formal":       true,
	"professional": true,
	"casual":       true,
	"friendly":     true,
	// Length
	"concise":  true,
	"detailed": true,
	// Warmth
	"warm":    true,
	"neutral": true,
	"direct":  true,
	// Decoration
	"no_emojis": true,
	"emojis_ok": true,
}

// aliases folds common wording onto a known tag.
var aliases = map[string]string{
	"respectful":      "formal",
	"polite":          "formal",
	"official":        "formal",
	"business":        "professional",
	"work":            "professional",
	"informal":        "casual",
	"relaxed":         "casual",
	"chill":           "casual",
	"playful":         "friendly",
	"fun":             "friendly",
	"kind":            "warm",
	"affectionate":    "warm",
	"loving":          "warm",
	"caring":          "warm",
	"short":           "concise",
	"brief":           "concise",
	"blunt":           "direct",
	"straightforward": "direct",
	"thorough":        "detailed",
}

// mutuallyExclusivePairs lists tags where the earlier one in the input wins.
var mutuallyExclusivePairs = [][2]string{
	{"formal", "casual"},
	{"concise", "detailed"},
	{"warm", "direct"},
	{"no_emojis", "emojis_ok"},
}

// Default is used when a contact has no recognizable tone.
const Default = "professional"

// Normalize splits a free-text tone ("Friendly, brief") into known tags,
// resolving aliases, dropping unknown words and duplicates, and enforcing
// mutual exclusion. The result is never empty.
func Normalize(raw string) []string {
	fields := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return r == ',' || r == ';' || r == '/' || r == '|' || r == ' ' || r == '\t'
	})

	seen := map[string]bool{}
	var tags []string
	for _, f := range fields {
		f = strings.Trim(f, ".!-\"'")
		if alias, ok := aliases[f]; ok {
			f = alias
		}
		if !AllTags[f] || seen[f] {
			continue
		}
		if conflictsWith(f, seen) {
			continue
		}
		seen[f] = true
		tags = append(tags, f)
	}
	if len(tags) == 0 {
		return []string{Default}
	}
	return tags
}

func conflictsWith(tag string, active map[string]bool) bool {
	for _, pair := range mutuallyExclusivePairs {
		if tag == pair[0] && active[pair[1]] {
			return true
		}
		if tag == pair[1] && active[pair[0]] {
			return true
		}
	}
	return false
}

// Label joins normalized tags into the string stored on a composed email.
func Label(tags []string) string {
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}

// BuildGuide renders tags as bullet instructions for the composition prompt.
// Relation is folded in so the model knows who it is writing to.
func BuildGuide(tags []string, relation string) string {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}

	var b strings.Builder
	b.WriteString("<TONE POLICY>\n")
	if relation = strings.TrimSpace(relation); relation != "" {
		b.WriteString("- The recipient is the sender's " + relation + "; address them accordingly.\n")
	}

	switch {
	case set["formal"]:
		b.WriteString("- Use formal diction and a respectful salutation.\n")
	case set["casual"]:
		b.WriteString("- Use casual, relaxed language; first names are fine.\n")
	}
	if set["professional"] {
		b.WriteString("- Keep a professional, businesslike register.\n")
	}
	if set["friendly"] {
		b.WriteString("- Sound friendly and approachable.\n")
	}

	if set["concise"] {
		b.WriteString("- Keep it short: a few sentences, no filler.\n")
	} else if set["detailed"] {
		b.WriteString("- Give enough detail that no follow-up is needed.\n")
	}

	switch {
	case set["warm"]:
		b.WriteString("- Be warm and personal.\n")
	case set["direct"]:
		b.WriteString("- Be direct; lead with the point.\n")
	case set["neutral"]:
		b.WriteString("- Keep an even, neutral tone.\n")
	}

	if set["emojis_ok"] {
		b.WriteString("- An emoji or two is fine.\n")
	} else {
		b.WriteString("- Do NOT use emojis.\n")
	}
	b.WriteString("- Never invent facts that are not in the message content.\n")
	b.WriteString("</TONE POLICY>\n")
	return b.String()
}
