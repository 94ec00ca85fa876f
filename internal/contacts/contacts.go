// Package contacts is the contacts gateway. Contacts can come from an HTTP
// contacts service, from Google People, or from a YAML file; every source
// validates entries at the boundary and drops malformed ones.
package contacts

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/MailPipe/internal/models"
)

// DefaultTimeout bounds one listing.
const DefaultTimeout = 10 * time.Second

// Source kinds accepted by CONTACTS_SOURCE.
const (
	KindHTTP   = "http"
	KindGoogle = "google"
	KindFile   = "file"
)

// Source lists the caller's contacts.
type Source interface {
	ListContacts(ctx context.Context, userToken string) ([]models.Contact, error)
}

// Sanitize trims fields, drops contacts that fail validation and removes
// duplicate addresses, keeping the first occurrence.
func Sanitize(source string, raw []models.Contact) []models.Contact {
	out := make([]models.Contact, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, c := range raw {
		c.Name = strings.TrimSpace(c.Name)
		c.Email = strings.TrimSpace(c.Email)
		c.Relation = strings.TrimSpace(c.Relation)
		c.Tone = strings.TrimSpace(c.Tone)
		if err := c.Validate(); err != nil {
			slog.Warn("contacts.Sanitize: dropping malformed contact", "source", source, "error", err)
			continue
		}
		key := strings.ToLower(c.Email)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}
