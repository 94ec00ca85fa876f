package contacts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/BTreeMap/MailPipe/internal/credentials"
	"github.com/BTreeMap/MailPipe/internal/models"
)

func TestSanitize(t *testing.T) {
	got := Sanitize("test", []models.Contact{
		{Name: " Bob ", Email: "bob@example.com", Relation: "manager"},
		{Name: "", Email: "anon@example.com"},
		{Name: "Broken", Email: "not-an-email"},
		{Name: "Bobby", Email: "BOB@example.com"},
		{Name: "Alice", Email: "alice@example.com", Tone: "casual"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "Bob", got[0].Name)
	assert.Equal(t, "Alice", got[1].Name)
}

func TestHTTPSource(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ContactsPath, r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{"name": "Bob", "email": "bob@example.com", "relation": "manager", "tone": "formal"},
			{"name": "NoMail"},
		})
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/", time.Second, nil)
	got, err := src.ListContacts(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	require.Len(t, got, 1)
	assert.Equal(t, models.Contact{Name: "Bob", Email: "bob@example.com", Relation: "manager", Tone: "formal"}, got[0])
}

func TestHTTPSource_StatusMapping(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, models.ErrAuthExpired},
		{http.StatusServiceUnavailable, models.ErrUpstreamUnavailable},
		{http.StatusGatewayTimeout, models.ErrUpstreamTimeout},
		{http.StatusInternalServerError, models.ErrUpstreamProcessing},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()
			_, err := NewHTTPSource(srv.URL, time.Second, nil).ListContacts(context.Background(), "tok")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHTTPSource_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPSource(url, time.Second, nil).ListContacts(context.Background(), "tok")
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
}

func TestHTTPSource_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewHTTPSource(srv.URL, 50*time.Millisecond, nil).ListContacts(context.Background(), "tok")
	assert.ErrorIs(t, err, models.ErrUpstreamTimeout)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()

	listPath := filepath.Join(dir, "list.yaml")
	require.NoError(t, os.WriteFile(listPath, []byte(`
- name: Bob
  email: bob@example.com
  relation: manager
- name: Bad
  email: nope
`), 0o600))
	got, err := NewFileSource(listPath).ListContacts(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "manager", got[0].Relation)

	keyedPath := filepath.Join(dir, "keyed.yaml")
	require.NoError(t, os.WriteFile(keyedPath, []byte(`
contacts:
  - name: Alice
    email: alice@example.com
    tone: casual
`), 0o600))
	got, err = NewFileSource(keyedPath).ListContacts(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "casual", got[0].Tone)

	_, err = NewFileSource(filepath.Join(dir, "missing.yaml")).ListContacts(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
}

func TestPeopleSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/people/me/connections", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"connections": []map[string]interface{}{
				{
					"names":          []map[string]string{{"displayName": "Bob"}},
					"emailAddresses": []map[string]string{{"value": "bob@example.com"}},
					"userDefined": []map[string]string{
						{"key": "Relation", "value": "manager"},
						{"key": "tone", "value": "formal"},
					},
				},
				{"names": []map[string]string{{"displayName": "Phone only"}}},
			},
		})
	}))
	defer srv.Close()

	creds := credentials.StaticProvider{Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "x"})}
	got, err := NewPeopleSource(creds, srv.URL+"/", time.Second, nil).ListContacts(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.Contact{Name: "Bob", Email: "bob@example.com", Relation: "manager", Tone: "formal"}, got[0])
}

func TestPeopleSource_NoCredential(t *testing.T) {
	_, err := NewPeopleSource(credentials.StaticProvider{}, "", time.Second, nil).ListContacts(context.Background(), "tok")
	assert.ErrorIs(t, err, models.ErrAuthExpired)
}
