// Package util provides utility functions for the MailPipe application.
package util

import (
	"strings"

	"github.com/google/uuid"
)

// threadNamePrefix is prepended to caller-supplied identifiers before they
// are hashed into a thread id.
const threadNamePrefix = "user_"

// ResolveThreadID returns the canonical thread id for a caller-supplied
// identifier.
//
// A raw value that already parses as a UUID is returned in canonical form.
// Any other non-empty value is mapped to a name-based (version 5) UUID, so the
// same raw string always resolves to the same thread. An empty value mints a
// fresh random id, which starts a new conversation.
func ResolveThreadID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.NewString()
	}
	if id, err := uuid.Parse(raw); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(threadNamePrefix+raw)).String()
}

// IsCanonicalThreadID reports whether id is already in canonical UUID form.
func IsCanonicalThreadID(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == id
}
