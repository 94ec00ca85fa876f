package tone

import (
	"strings"
	"testing"
)

func TestNormalize_KnownAndAliases(t *testing.T) {
	got := Normalize("Friendly, brief")
	if len(got) != 2 || got[0] != "friendly" || got[1] != "concise" {
		t.Errorf("expected [friendly concise], got %v", got)
	}
}

func TestNormalize_DropsUnknownAndDuplicates(t *testing.T) {
	got := Normalize("formal formal; sarcastic / polite")
	if len(got) != 1 || got[0] != "formal" {
		t.Errorf("expected [formal], got %v", got)
	}
}

func TestNormalize_MutualExclusionFirstWins(t *testing.T) {
	tests := []struct {
		in   string
		want string
		drop string
	}{
		{"formal, casual", "formal", "casual"},
		{"casual, respectful", "casual", "formal"},
		{"brief and thorough", "concise", "detailed"},
		{"emojis_ok no_emojis", "emojis_ok", "no_emojis"},
	}
	for _, tt := range tests {
		got := Normalize(tt.in)
		joined := strings.Join(got, ",")
		if !strings.Contains(joined, tt.want) {
			t.Errorf("Normalize(%q) = %v, expected %q", tt.in, got, tt.want)
		}
		if strings.Contains(joined, tt.drop) {
			t.Errorf("Normalize(%q) = %v, expected %q dropped", tt.in, got, tt.drop)
		}
	}
}

func TestNormalize_EmptyDefaults(t *testing.T) {
	for _, in := range []string{"", "   ", "mysterious"} {
		got := Normalize(in)
		if len(got) != 1 || got[0] != Default {
			t.Errorf("Normalize(%q) = %v, expected [%s]", in, got, Default)
		}
	}
}

func TestLabel_Sorted(t *testing.T) {
	if got := Label([]string{"warm", "casual"}); got != "casual, warm" {
		t.Errorf("unexpected label %q", got)
	}
}

func TestBuildGuide(t *testing.T) {
	guide := BuildGuide([]string{"formal", "concise"}, "manager")
	for _, want := range []string{"<TONE POLICY>", "manager", "formal diction", "short", "Do NOT use emojis", "</TONE POLICY>"} {
		if !strings.Contains(guide, want) {
			t.Errorf("guide missing %q:\n%s", want, guide)
		}
	}

	casual := BuildGuide([]string{"casual", "emojis_ok"}, "")
	if strings.Contains(casual, "recipient is") {
		t.Error("expected no relation line without relation")
	}
	if !strings.Contains(casual, "emoji or two") {
		t.Error("expected emojis allowed")
	}
}
