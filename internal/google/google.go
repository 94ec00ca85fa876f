// Package google holds the OAuth configuration and error mapping shared by
// the Gmail and People gateways.
package google

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/people/v1"

	"github.com/BTreeMap/MailPipe/internal/models"
)

// Scopes are the OAuth scopes the mailbox credential must carry.
var Scopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
	people.ContactsReadonlyScope,
}

// OAuthConfig returns the client configuration used to refresh stored tokens.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
	}
}

// ClassifyAPIError tags a Google API error with the matching taxonomy kind so
// models.NewGatewayError keeps it. Non-API errors pass through unchanged.
func ClassifyAPIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return fmt.Errorf("%w: %v", models.ErrAuthExpired, err)
		}
		return err
	}
	switch {
	case apiErr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %v", models.ErrAuthExpired, err)
	case apiErr.Code == http.StatusBadRequest:
		return fmt.Errorf("%w: %v", models.ErrInput, err)
	case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= 500:
		return fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", models.ErrUpstreamProcessing, err)
	}
}
