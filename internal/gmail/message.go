package gmail

import (
	"encoding/base64"
	"strings"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/BTreeMap/MailPipe/internal/models"
)

func convertMessage(m *gmail.Message) models.FetchedEmail {
	email := models.FetchedEmail{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		Snippet:  m.Snippet,
		From:     headerValue(m, "From", "(Unknown)"),
		To:       headerValue(m, "To", ""),
		Subject:  headerValue(m, "Subject", "(No Subject)"),
		Date:     headerValue(m, "Date", ""),
	}
	if m.Payload != nil {
		email.Body = strings.TrimSpace(extractBody(m.Payload))
	}
	return email
}

func headerValue(m *gmail.Message, name, fallback string) string {
	if m.Payload == nil {
		return fallback
	}
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return fallback
}

// extractBody prefers the first text/plain part and falls back to the first
// text/html part converted to text.
func extractBody(payload *gmail.MessagePart) string {
	var plain, html string
	walkParts(payload, func(p *gmail.MessagePart) {
		if p.Body == nil || p.Body.Data == "" {
			return
		}
		switch {
		case plain == "" && strings.HasPrefix(p.MimeType, "text/plain"):
			plain = decodeData(p.Body.Data)
		case html == "" && strings.HasPrefix(p.MimeType, "text/html"):
			html = decodeData(p.Body.Data)
		}
	})
	if plain != "" {
		return plain
	}
	if html != "" {
		return HTMLToText(html)
	}
	return ""
}

func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}
	fn(part)
	for _, sub := range part.Parts {
		walkParts(sub, fn)
	}
}

func decodeData(data string) string {
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding} {
		if b, err := enc.DecodeString(data); err == nil {
			return string(b)
		}
	}
	return ""
}
