// Package logging holds the slog setup used by the CLI and a few helpers that
// keep addresses and tokens out of log lines.
package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Attribute keys shared across packages.
const (
	KeyThread    = "thread_id"
	KeyRecipient = "recipient"
	KeyStage     = "stage"
	KeyError     = "error"
)

// Format selects the slog handler.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseLevel maps a level name to a slog.Level. Unknown names yield info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a logger writing to w in the given format.
func NewLogger(w io.Writer, format Format, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Setup installs a logger as the process default and returns it.
func Setup(w io.Writer, format, level string) *slog.Logger {
	logger := NewLogger(w, Format(strings.ToLower(format)), ParseLevel(level))
	slog.SetDefault(logger)
	return logger
}

// AnonymizeEmail returns a short hash of the local part plus the domain so
// log lines can be correlated without exposing the address.
func AnonymizeEmail(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(email))
	prefix := "addr:" + hex.EncodeToString(hash[:6])
	if at := strings.LastIndex(email, "@"); at >= 0 && at < len(email)-1 {
		return prefix + "@" + email[at+1:]
	}
	return prefix
}

// Recipient returns a slog attribute with the anonymized recipient address.
func Recipient(email string) slog.Attr {
	return slog.String(KeyRecipient, AnonymizeEmail(email))
}

// SanitizeToken reports only the token length.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}

// Err returns an error attribute, or an empty group slog drops when err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}
