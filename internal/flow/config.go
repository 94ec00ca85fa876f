package flow

// Config tunes the agent's stages. The zero value of any field falls back to
// DefaultConfig.
type Config struct {
	SendKeywords      []string `yaml:"send_keywords"`
	SummarizeKeywords []string `yaml:"summarize_keywords"`
	ApprovalWords     []string `yaml:"approval_words"`
	CancelWords       []string `yaml:"cancel_words"`

	MaxClarificationRounds int `yaml:"max_clarification_rounds"`
	ComposeConcurrency     int `yaml:"compose_concurrency"`
	DispatchConcurrency    int `yaml:"dispatch_concurrency"`

	// SummarizeFilter is the mailbox query used by the summarize path.
	SummarizeFilter string `yaml:"summarize_filter"`
	SummarizeFetch  int    `yaml:"summarize_fetch"`
	DigestLimit     int    `yaml:"digest_limit"`
	PreviewRunes    int    `yaml:"preview_runes"`
	FallbackCount   int    `yaml:"fallback_count"`

	DefaultSubject string `yaml:"default_subject"`
}

// DefaultConfig returns the built-in stage settings.
func DefaultConfig() Config {
	return Config{
		SendKeywords: []string{
			"send", "email", "mail", "write", "tell", "inform", "notify",
			"message", "reply", "forward", "ask", "remind", "let",
		},
		SummarizeKeywords: []string{
			"summarize", "summarise", "digest", "catch me up",
			"my inbox", "my emails", "my mail", "recent emails", "unread emails",
			"summary of my", "summary of recent", "recap of my", "recap of recent",
		},
		ApprovalWords:          []string{"send", "yes", "approve", "confirm", "ok"},
		CancelWords:            []string{"cancel", "no", "stop"},
		MaxClarificationRounds: 3,
		ComposeConcurrency:     4,
		DispatchConcurrency:    4,
		SummarizeFilter:        "in:inbox",
		SummarizeFetch:         10,
		DigestLimit:            10,
		PreviewRunes:           300,
		FallbackCount:          5,
		DefaultSubject:         "Email from AI Agent",
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.SendKeywords) == 0 {
		c.SendKeywords = d.SendKeywords
	}
	if len(c.SummarizeKeywords) == 0 {
		c.SummarizeKeywords = d.SummarizeKeywords
	}
	if len(c.ApprovalWords) == 0 {
		c.ApprovalWords = d.ApprovalWords
	}
	if len(c.CancelWords) == 0 {
		c.CancelWords = d.CancelWords
	}
	if c.MaxClarificationRounds <= 0 {
		c.MaxClarificationRounds = d.MaxClarificationRounds
	}
	if c.ComposeConcurrency <= 0 {
		c.ComposeConcurrency = d.ComposeConcurrency
	}
	if c.DispatchConcurrency <= 0 {
		c.DispatchConcurrency = d.DispatchConcurrency
	}
	if c.SummarizeFilter == "" {
		c.SummarizeFilter = d.SummarizeFilter
	}
	if c.SummarizeFetch <= 0 {
		c.SummarizeFetch = d.SummarizeFetch
	}
	if c.DigestLimit <= 0 {
		c.DigestLimit = d.DigestLimit
	}
	if c.PreviewRunes <= 0 {
		c.PreviewRunes = d.PreviewRunes
	}
	if c.FallbackCount <= 0 {
		c.FallbackCount = d.FallbackCount
	}
	if c.DefaultSubject == "" {
		c.DefaultSubject = d.DefaultSubject
	}
	return c
}
