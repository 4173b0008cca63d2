// Package google implements the external Google login using the OAuth
// 2.0 Authorization Code flow.
//
// The flow, end to end:
//  1. Our server redirects the browser to Google's authorization page.
//  2. The user approves; Google redirects back with a short-lived code.
//  3. We exchange the code for an access token (server-to-server, so
//     the token never touches the browser).
//  4. We call the userinfo endpoint and normalize the result into an
//     identity.ExternalIdentity — facts only, no decisions.
//
// Account creation and session issuance happen in the identity
// provider; this package only fetches who the user is.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/rakin/trackauth/internal/identity"
)

const userinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// userinfo is the portion of Google's userinfo response we care about.
type userinfo struct {
	ID      string `json:"id"`      // Google's stable account identifier
	Email   string `json:"email"`   // may be empty if the user hides it
	Name    string `json:"name"`    // display name
	Picture string `json:"picture"` // avatar URL
}

// Login wraps golang.org/x/oauth2 for the Google Authorization Code flow.
type Login struct {
	config *oauth2.Config
}

// NewLogin creates a Login with the given OAuth app credentials.
// callbackURL must exactly match the redirect URI registered in the
// Google Cloud console.
func NewLogin(clientID, clientSecret, callbackURL string) *Login {
	return &Login{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     googleoauth.Endpoint,
		},
	}
}

// AuthURL returns the URL to redirect the user to for authorization.
// state is the CSRF token the callback handler verifies against its
// cookie.
func (l *Login) AuthURL(state string) string {
	return l.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for a normalized external
// identity: code → access token → userinfo.
func (l *Login) Exchange(ctx context.Context, code string) (identity.ExternalIdentity, error) {
	token, err := l.config.Exchange(ctx, code)
	if err != nil {
		return identity.ExternalIdentity{}, fmt.Errorf("google: exchanging OAuth code: %w", err)
	}

	// config.Client returns an *http.Client that attaches the bearer
	// token to every request.
	client := l.config.Client(ctx, token)

	resp, err := client.Get(userinfoURL)
	if err != nil {
		return identity.ExternalIdentity{}, fmt.Errorf("google: calling userinfo endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return identity.ExternalIdentity{}, fmt.Errorf("google: userinfo endpoint returned status %d", resp.StatusCode)
	}

	var info userinfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return identity.ExternalIdentity{}, fmt.Errorf("google: decoding userinfo response: %w", err)
	}
	if info.ID == "" {
		return identity.ExternalIdentity{}, fmt.Errorf("google: userinfo response has no account ID")
	}

	return identity.ExternalIdentity{
		Provider:    "google",
		Subject:     info.ID,
		Email:       info.Email,
		DisplayName: info.Name,
		AvatarURL:   info.Picture,
	}, nil
}
