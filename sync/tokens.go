// ABOUTME: Token lifecycle manager caching and refreshing per-user OAuth access tokens
// ABOUTME: Handles code exchange, refresh with a 5 minute safety margin, and de-authorization
package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/harperreed/issuecal/metrics"
	"github.com/harperreed/issuecal/models"
)

// TokenSafetyMargin is subtracted from a cached token's expiry before it is considered stale.
const TokenSafetyMargin = 5 * time.Minute

// TokenState is the derived authorization state of one user.
type TokenState string

const (
	TokenUnauthorized TokenState = "unauthorized"
	TokenValid        TokenState = "valid"
	TokenStale        TokenState = "stale"
)

// Grant is the result of an authorization-code exchange.
type Grant struct {
	RefreshToken string
	AccessToken  string
	ExpiresIn    time.Duration
	Expiry       time.Time
}

// AccessTokenProvider yields a usable bearer token for a user.
type AccessTokenProvider interface {
	AccessToken(ctx context.Context, userID string) (string, error)
}

// TokenManager owns the read-check-refresh-write cycle for access tokens.
// Concurrent refreshes for the same user collapse into one token request.
type TokenManager struct {
	oauth  *oauth2.Config
	store  CredentialStore
	client *http.Client
	logger *log.Logger
	now    func() time.Time
	flight singleflight.Group
}

// NewTokenManager wires the manager. client is used for every token endpoint call.
func NewTokenManager(cfg *oauth2.Config, store CredentialStore, client *http.Client, logger *log.Logger) *TokenManager {
	if logger == nil {
		logger = log.Default()
	}
	return &TokenManager{
		oauth:  cfg,
		store:  store,
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (m *TokenManager) SetClock(now func() time.Time) {
	m.now = now
}

// AuthCodeURL returns the consent URL. Offline access with a forced consent
// prompt makes the provider issue a refresh token on every grant.
func (m *TokenManager) AuthCodeURL(state string) (string, error) {
	if err := m.requireClient(); err != nil {
		return "", err
	}
	return m.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")), nil
}

// State reports the user's authorization state without touching the network.
func (m *TokenManager) State(ctx context.Context, userID string) (TokenState, error) {
	creds, err := m.store.Get(ctx, userID)
	if err != nil {
		return TokenUnauthorized, fmt.Errorf("failed to load credentials: %w", err)
	}
	if creds.RefreshToken == "" {
		return TokenUnauthorized, nil
	}
	if m.fresh(creds) {
		return TokenValid, nil
	}
	return TokenStale, nil
}

// AccessToken returns a cached token when it is still fresh, refreshing it otherwise.
func (m *TokenManager) AccessToken(ctx context.Context, userID string) (string, error) {
	creds, err := m.store.Get(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load credentials: %w", err)
	}
	if creds.RefreshToken == "" {
		return "", authError(CodeNotAuthorized, nil, "user %s has not authorized calendar access", userID)
	}
	if m.fresh(creds) {
		return creds.AccessToken, nil
	}

	// Callers waiting on the same flight must not fail because the first one
	// gave up, so the refresh ignores cancellation of the caller's context.
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := m.flight.Do(userID, func() (any, error) {
		return m.refresh(flightCtx, userID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *TokenManager) fresh(creds *models.Credentials) bool {
	if creds.AccessToken == "" || creds.TokenExpiry.IsZero() {
		return false
	}
	return m.now().Add(TokenSafetyMargin).Before(creds.TokenExpiry)
}

func (m *TokenManager) refresh(ctx context.Context, userID string) (string, error) {
	// Re-read inside the flight; a previous flight may have just refreshed.
	creds, err := m.store.Get(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load credentials: %w", err)
	}
	if creds.RefreshToken == "" {
		return "", authError(CodeNotAuthorized, nil, "user %s has not authorized calendar access", userID)
	}
	if m.fresh(creds) {
		return creds.AccessToken, nil
	}
	if err := m.requireClient(); err != nil {
		return "", err
	}

	m.logger.Debug("refreshing access token", "user", userID)

	src := m.oauth.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: creds.RefreshToken})
	tok, err := src.Token()
	metrics.RecordTokenRefresh(err)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			empty := ""
			var zero time.Time
			if clearErr := m.store.Put(ctx, userID, models.CredentialPatch{AccessToken: &empty, TokenExpiry: &zero}); clearErr != nil {
				m.logger.Error("failed to clear cached access token", "user", userID, "err", clearErr)
			}
			se := authError(CodeRefreshFailed, err, "token refresh rejected for user %s", userID)
			if re.Response != nil {
				se.Status = re.Response.StatusCode
			}
			se.Body = providerMessage(re)
			return "", se
		}
		return "", authError(CodeRefreshFailed, err, "token refresh failed for user %s", userID)
	}

	expiry := m.expiryOf(tok)
	patch := models.CredentialPatch{AccessToken: &tok.AccessToken, TokenExpiry: &expiry}
	if tok.RefreshToken != "" && tok.RefreshToken != creds.RefreshToken {
		patch.RefreshToken = &tok.RefreshToken
	}
	if err := m.store.Put(ctx, userID, patch); err != nil {
		return "", fmt.Errorf("failed to save refreshed token: %w", err)
	}

	m.logger.Debug("access token refreshed", "user", userID, "expires", expiry.Format(time.RFC3339))
	return tok.AccessToken, nil
}

// ExchangeCode trades an authorization code for tokens. Provider error
// descriptions are returned verbatim in the error message.
func (m *TokenManager) ExchangeCode(ctx context.Context, code string) (*Grant, error) {
	if err := m.requireClient(); err != nil {
		return nil, err
	}
	if code == "" {
		return nil, configurationError(CodeExchangeFailed, "authorization code is required")
	}

	tok, err := m.oauth.Exchange(m.clientContext(ctx), code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			se := authError(CodeExchangeFailed, err, "%s", providerMessage(re))
			if re.Response != nil {
				se.Status = re.Response.StatusCode
			}
			return nil, se
		}
		return nil, authError(CodeExchangeFailed, err, "authorization code exchange failed")
	}

	// Providers omit the refresh token when the user re-authorizes without
	// revoking the earlier consent.
	if tok.RefreshToken == "" {
		return nil, authError(CodeNoRefreshTokenIssued, nil, "no refresh token issued; revoke the existing grant and authorize again")
	}

	expiry := m.expiryOf(tok)
	return &Grant{
		RefreshToken: tok.RefreshToken,
		AccessToken:  tok.AccessToken,
		ExpiresIn:    expiry.Sub(m.now()).Round(time.Second),
		Expiry:       expiry,
	}, nil
}

// Authorize exchanges code and stores the resulting tokens for userID.
func (m *TokenManager) Authorize(ctx context.Context, userID, code string) (*Grant, error) {
	grant, err := m.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	patch := models.CredentialPatch{
		RefreshToken: &grant.RefreshToken,
		AccessToken:  &grant.AccessToken,
		TokenExpiry:  &grant.Expiry,
	}
	if err := m.store.Put(ctx, userID, patch); err != nil {
		return nil, fmt.Errorf("failed to save tokens: %w", err)
	}

	m.logger.Info("calendar access authorized", "user", userID)
	return grant, nil
}

// Revoke forgets every token for userID. This is the only path that clears a refresh token.
func (m *TokenManager) Revoke(ctx context.Context, userID string) error {
	empty := ""
	var zero time.Time
	patch := models.CredentialPatch{RefreshToken: &empty, AccessToken: &empty, TokenExpiry: &zero}
	if err := m.store.Put(ctx, userID, patch); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	m.logger.Info("calendar access revoked", "user", userID)
	return nil
}

func (m *TokenManager) requireClient() error {
	if m.oauth == nil || m.oauth.ClientID == "" || m.oauth.ClientSecret == "" {
		return configurationError(CodeMissingClientCredentials, "OAuth client id and secret are not configured")
	}
	return nil
}

func (m *TokenManager) clientContext(ctx context.Context) context.Context {
	if m.client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.client)
}

// expiryOf computes now + expires_in on the manager's clock.
func (m *TokenManager) expiryOf(tok *oauth2.Token) time.Time {
	if tok.ExpiresIn > 0 {
		return m.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return tok.Expiry
}

func providerMessage(re *oauth2.RetrieveError) string {
	switch {
	case re.ErrorDescription != "":
		return re.ErrorDescription
	case re.ErrorCode != "":
		return re.ErrorCode
	default:
		return string(re.Body)
	}
}
