// ABOUTME: OAuth configuration for the Google Calendar scope
// ABOUTME: Builds the oauth2.Config used for consent URLs, code exchange and refresh
package sync

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	// CalendarScope grants read/write access to the user's calendars.
	CalendarScope = "https://www.googleapis.com/auth/calendar"

	// DefaultRedirectURL matches the web server's callback route on the default listen address.
	DefaultRedirectURL = "http://localhost:8080/oauth/callback"
)

// OAuthSettings holds the client registration. AuthURL and TokenURL override
// Google's endpoints when set.
type OAuthSettings struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
}

// NewOAuthConfig creates OAuth2 config for the Calendar API.
func NewOAuthConfig(settings OAuthSettings) *oauth2.Config {
	redirect := settings.RedirectURL
	if redirect == "" {
		redirect = DefaultRedirectURL
	}

	endpoint := google.Endpoint
	if settings.AuthURL != "" {
		endpoint.AuthURL = settings.AuthURL
	}
	if settings.TokenURL != "" {
		endpoint.TokenURL = settings.TokenURL
	}
	// Client id and secret travel as form fields, not basic auth.
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &oauth2.Config{
		ClientID:     settings.ClientID,
		ClientSecret: settings.ClientSecret,
		RedirectURL:  redirect,
		Scopes:       []string{CalendarScope},
		Endpoint:     endpoint,
	}
}
