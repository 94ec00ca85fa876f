package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/BTreeMap/MailPipe/internal/credentials"
	"github.com/BTreeMap/MailPipe/internal/models"
)

func b64(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

type fakeGmail struct {
	mu       sync.Mutex
	lastQ    string
	lastMax  string
	sentRaw  string
	sendCode int
	listCode int
}

func (f *fakeGmail) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastQ = r.URL.Query().Get("q")
		f.lastMax = r.URL.Query().Get("maxResults")
		code := f.listCode
		f.mu.Unlock()
		if code != 0 {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"messages":      []map[string]string{{"id": "m1"}, {"id": "m2"}, {"id": "broken"}},
			"nextPageToken": "next",
		})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "m1", "threadId": "t1", "snippet": "hi",
			"payload": map[string]interface{}{
				"mimeType": "multipart/alternative",
				"headers": []map[string]string{
					{"name": "From", "value": "Bob <bob@example.com>"},
					{"name": "Subject", "value": "Leave"},
				},
				"parts": []map[string]interface{}{
					{"mimeType": "text/html", "body": map[string]string{"data": b64("<p>html body</p>")}},
					{"mimeType": "text/plain", "body": map[string]string{"data": b64("plain body")}},
				},
			},
		})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/m2", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "m2",
			"payload": map[string]interface{}{
				"mimeType": "text/html",
				"body":     map[string]string{"data": b64("<html><style>x{}</style><body><p>Hello</p><p>World</p></body></html>")},
			},
		})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/send", func(w http.ResponseWriter, r *http.Request) {
		var msg struct {
			Raw string `json:"raw"`
		}
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &msg))
		f.mu.Lock()
		f.sentRaw = msg.Raw
		code := f.sendCode
		f.mu.Unlock()
		if code != 0 {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":{"message":"failed"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "sent-1"})
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeGmail) *Client {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	creds := credentials.StaticProvider{Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test"})}
	return NewClient(creds, WithEndpoint(srv.URL+"/"))
}

func TestFilterFor(t *testing.T) {
	assert.Equal(t, "from:bob@example.com OR to:bob@example.com", FilterFor(" bob@example.com "))
	assert.Equal(t, "", FilterFor(""))
}

func TestListMessages(t *testing.T) {
	f := &fakeGmail{}
	c := newTestClient(t, f)

	page, err := c.ListMessages(context.Background(), "tok", FilterFor("bob@example.com"), "", 500)
	require.NoError(t, err)

	assert.Equal(t, "from:bob@example.com OR to:bob@example.com", f.lastQ)
	assert.Equal(t, "100", f.lastMax)
	assert.Equal(t, "next", page.NextPageToken)
	require.Len(t, page.Messages, 2, "unreadable message is skipped")

	assert.Equal(t, "m1", page.Messages[0].ID)
	assert.Equal(t, "plain body", page.Messages[0].Body)
	assert.Equal(t, "Leave", page.Messages[0].Subject)
	assert.Equal(t, "(No Subject)", page.Messages[1].Subject)
	assert.Equal(t, "Hello\nWorld", page.Messages[1].Body)
}

func TestListMessages_AuthExpired(t *testing.T) {
	f := &fakeGmail{listCode: http.StatusUnauthorized}
	c := newTestClient(t, f)
	_, err := c.ListMessages(context.Background(), "tok", "", "", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrAuthExpired)
}

func TestGetMessage(t *testing.T) {
	c := newTestClient(t, &fakeGmail{})
	msg, err := c.GetMessage(context.Background(), "tok", "m1")
	require.NoError(t, err)
	assert.Equal(t, "Bob <bob@example.com>", msg.From)

	_, err = c.GetMessage(context.Background(), "tok", " ")
	assert.ErrorIs(t, err, models.ErrInput)
}

func TestSendMessage(t *testing.T) {
	f := &fakeGmail{}
	c := newTestClient(t, f)

	id, err := c.SendMessage(context.Background(), "tok", "bob@example.com", "Out of office", "Hi Bob,\nI'm on leave.")
	require.NoError(t, err)
	assert.Equal(t, "sent-1", id)

	raw, err := base64.URLEncoding.DecodeString(f.sentRaw)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "bob@example.com")
	assert.Contains(t, string(raw), "Subject: Out of office")
	assert.Contains(t, string(raw), "text/plain")
	assert.Contains(t, string(raw), "text/html")
}

func TestSendMessage_MissingFields(t *testing.T) {
	c := newTestClient(t, &fakeGmail{})
	_, err := c.SendMessage(context.Background(), "tok", "bob@example.com", "", "body")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInput)
	assert.True(t, strings.Contains(err.Error(), "missing fields"))
}

func TestSendMessage_ServerError(t *testing.T) {
	c := newTestClient(t, &fakeGmail{sendCode: http.StatusServiceUnavailable})
	_, err := c.SendMessage(context.Background(), "tok", "bob@example.com", "s", "b")
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
}

func TestHTMLToText(t *testing.T) {
	got := HTMLToText(`<div>Hi <b>there</b></div><script>alert(1)</script><p>Second</p>`)
	assert.Equal(t, "Hi there\nSecond", got)
}

func TestComposeMessage_NonASCIISubject(t *testing.T) {
	raw, err := ComposeMessage("Me <me@example.com>", "bob@example.com", "Grüße", "Body")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "=?utf-8?")
	assert.Contains(t, string(raw), "From:")

	_, err = ComposeMessage("", "not an address", "s", "b")
	assert.Error(t, err)
}
