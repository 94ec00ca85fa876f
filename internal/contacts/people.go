package contacts

import (
	"context"
	"strings"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/people/v1"

	"github.com/BTreeMap/MailPipe/internal/credentials"
	"github.com/BTreeMap/MailPipe/internal/google"
	"github.com/BTreeMap/MailPipe/internal/instrumentation"
	"github.com/BTreeMap/MailPipe/internal/models"
)

const (
	personFields = "names,emailAddresses,userDefined"
	maxPages     = 10
)

// PeopleSource reads the caller's Google contacts. Relation and tone come
// from the contact's custom fields labelled "relation" and "tone".
type PeopleSource struct {
	creds    credentials.Provider
	endpoint string
	timeout  time.Duration
	metrics  *instrumentation.Metrics
}

// NewPeopleSource creates a Google People source. endpoint may be empty.
func NewPeopleSource(creds credentials.Provider, endpoint string, timeout time.Duration, metrics *instrumentation.Metrics) *PeopleSource {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &PeopleSource{creds: creds, endpoint: endpoint, timeout: timeout, metrics: metrics}
}

// ListContacts implements Source.
func (s *PeopleSource) ListContacts(ctx context.Context, userToken string) (contacts []models.Contact, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	defer func() { s.metrics.RecordGatewayCall(ctx, "contacts", "list", err) }()

	hc, err := s.creds.HTTPClient(ctx, userToken)
	if err != nil {
		return nil, models.NewGatewayError("contacts", "list", err)
	}
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}
	svc, err := people.NewService(ctx, opts...)
	if err != nil {
		return nil, models.NewGatewayError("contacts", "list", err)
	}

	var raw []models.Contact
	pageToken := ""
	for page := 0; page < maxPages; page++ {
		call := svc.People.Connections.List("people/me").PersonFields(personFields).PageSize(1000).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, models.NewGatewayError("contacts", "list", google.ClassifyAPIError(err))
		}
		for _, p := range resp.Connections {
			if c, ok := personToContact(p); ok {
				raw = append(raw, c)
			}
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return Sanitize(KindGoogle, raw), nil
}

func personToContact(p *people.Person) (models.Contact, bool) {
	if p == nil || len(p.EmailAddresses) == 0 {
		return models.Contact{}, false
	}
	c := models.Contact{Email: p.EmailAddresses[0].Value}
	if len(p.Names) > 0 {
		c.Name = p.Names[0].DisplayName
	}
	for _, ud := range p.UserDefined {
		switch strings.ToLower(strings.TrimSpace(ud.Key)) {
		case "relation":
			c.Relation = ud.Value
		case "tone":
			c.Tone = ud.Value
		}
	}
	return c, true
}
