package sync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/issuecal/models"
)

var tokenTestNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type tokenServer struct {
	server *httptest.Server
	calls  atomic.Int32
	forms  chan map[string]string
}

// newTokenServer answers every request with status and body.
func newTokenServer(t *testing.T, status int, body map[string]any) *tokenServer {
	t.Helper()
	ts := &tokenServer{forms: make(chan map[string]string, 16)}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		_ = r.ParseForm()
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		select {
		case ts.forms <- form:
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(ts.server.Close)
	return ts
}

func newTestTokenManager(t *testing.T, tokenURL string, store CredentialStore) *TokenManager {
	t.Helper()
	cfg := NewOAuthConfig(OAuthSettings{ClientID: "client", ClientSecret: "secret", TokenURL: tokenURL})
	m := NewTokenManager(cfg, store, http.DefaultClient, log.New(io.Discard))
	m.SetClock(func() time.Time { return tokenTestNow })
	return m
}

func seedCredentials(t *testing.T, store CredentialStore, userID string, creds models.Credentials) {
	t.Helper()
	patch := models.CredentialPatch{
		RefreshToken: &creds.RefreshToken,
		AccessToken:  &creds.AccessToken,
		TokenExpiry:  &creds.TokenExpiry,
		CalendarID:   &creds.CalendarID,
	}
	require.NoError(t, store.Put(context.Background(), userID, patch))
}

func TestAccessTokenNotAuthorized(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, map[string]any{"access_token": "new"})
	m := newTestTokenManager(t, ts.server.URL, NewMemoryCredentialStore())

	_, err := m.AccessToken(context.Background(), "alice")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeNotAuthorized))
	assert.True(t, IsKind(err, KindAuth))
	assert.Equal(t, int32(0), ts.calls.Load())
}

func TestAccessTokenCachedWhenFresh(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, map[string]any{"access_token": "new", "expires_in": 3600})
	store := NewMemoryCredentialStore()
	seedCredentials(t, store, "alice", models.Credentials{
		RefreshToken: "refresh",
		AccessToken:  "cached",
		TokenExpiry:  tokenTestNow.Add(10 * time.Minute),
	})
	m := newTestTokenManager(t, ts.server.URL, store)

	token, err := m.AccessToken(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "cached", token)
	assert.Equal(t, int32(0), ts.calls.Load())
}

func TestAccessTokenRefreshesInsideSafetyMargin(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, map[string]any{
		"access_token": "fresh",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
	store := NewMemoryCredentialStore()
	seedCredentials(t, store, "alice", models.Credentials{
		RefreshToken: "refresh",
		AccessToken:  "stale",
		TokenExpiry:  tokenTestNow.Add(3 * time.Minute),
	})
	m := newTestTokenManager(t, ts.server.URL, store)

	token, err := m.AccessToken(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, int32(1), ts.calls.Load())

	form := <-ts.forms
	assert.Equal(t, "refresh_token", form["grant_type"])
	assert.Equal(t, "refresh", form["refresh_token"])
	assert.Equal(t, "client", form["client_id"])
	assert.Equal(t, "secret", form["client_secret"])

	creds, err := store.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "fresh", creds.AccessToken)
	assert.Equal(t, "refresh", creds.RefreshToken)
	assert.True(t, creds.TokenExpiry.Equal(tokenTestNow.Add(time.Hour)))
}

func TestAccessTokenStoresRotatedRefreshToken(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, map[string]any{
		"access_token":  "fresh",
		"refresh_token": "rotated",
		"expires_in":    3600,
	})
	store := NewMemoryCredentialStore()
	seedCredentials(t, store, "alice", models.Credentials{RefreshToken: "refresh"})
	m := newTestTokenManager(t, ts.server.URL, store)

	_, err := m.AccessToken(context.Background(), "alice")
	require.NoError(t, err)

	creds, _ := store.Get(context.Background(), "alice")
	assert.Equal(t, "rotated", creds.RefreshToken)
}

func TestAccessTokenRefreshFailureClearsCacheOnly(t *testing.T) {
	ts := newTokenServer(t, http.StatusBadRequest, map[string]any{
		"error":             "invalid_grant",
		"error_description": "Token has been expired or revoked.",
	})
	store := NewMemoryCredentialStore()
	seedCredentials(t, store, "alice", models.Credentials{
		RefreshToken: "refresh",
		AccessToken:  "stale",
		TokenExpiry:  tokenTestNow.Add(time.Minute),
	})
	m := newTestTokenManager(t, ts.server.URL, store)

	_, err := m.AccessToken(context.Background(), "alice")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeRefreshFailed))

	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Status)
	assert.Equal(t, "Token has been expired or revoked.", se.Body)

	creds, _ := store.Get(context.Background(), "alice")
	assert.Equal(t, "refresh", creds.RefreshToken)
	assert.Empty(t, creds.AccessToken)
	assert.True(t, creds.TokenExpiry.IsZero())
}

func TestAccessTokenMissingClientCredentials(t *testing.T) {
	store := NewMemoryCredentialStore()
	seedCredentials(t, store, "alice", models.Credentials{RefreshToken: "refresh"})
	m := NewTokenManager(NewOAuthConfig(OAuthSettings{}), store, http.DefaultClient, log.New(io.Discard))

	_, err := m.AccessToken(context.Background(), "alice")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfiguration))
	assert.True(t, IsCode(err, CodeMissingClientCredentials))
}

func TestAccessTokenConcurrentRefreshIsSingleFlight(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"shared","expires_in":3600}`)
	}))
	defer server.Close()

	store := NewMemoryCredentialStore()
	seedCredentials(t, store, "alice", models.Credentials{RefreshToken: "refresh"})
	m := newTestTokenManager(t, server.URL, store)

	const workers = 5
	var wg gosync.WaitGroup
	var started gosync.WaitGroup
	tokens := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		started.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			tokens[i], errs[i] = m.AccessToken(context.Background(), "alice")
		}(i)
	}
	started.Wait()
	// Let the goroutines reach the flight before the server answers.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", tokens[i])
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestAccessTokenRefreshOutlivesCancelledCaller(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"shared","expires_in":3600}`)
	}))
	defer server.Close()

	store := NewMemoryCredentialStore()
	seedCredentials(t, store, "alice", models.Credentials{RefreshToken: "refresh"})
	m := newTestTokenManager(t, server.URL, store)

	ctx, cancel := context.WithCancel(context.Background())
	var first, second string
	var firstErr, secondErr error
	var wg gosync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, firstErr = m.AccessToken(ctx, "alice")
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		second, secondErr = m.AccessToken(context.Background(), "alice")
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	close(release)
	wg.Wait()

	require.NoError(t, firstErr)
	require.NoError(t, secondErr)
	assert.Equal(t, "shared", first)
	assert.Equal(t, "shared", second)

	creds, err := store.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "shared", creds.AccessToken)
}

func TestExchangeCode(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, map[string]any{
		"access_token":  "access",
		"refresh_token": "refresh",
		"expires_in":    3599,
	})
	m := newTestTokenManager(t, ts.server.URL, NewMemoryCredentialStore())

	grant, err := m.ExchangeCode(context.Background(), "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "refresh", grant.RefreshToken)
	assert.Equal(t, "access", grant.AccessToken)
	assert.Equal(t, 3599*time.Second, grant.ExpiresIn)

	form := <-ts.forms
	assert.Equal(t, "authorization_code", form["grant_type"])
	assert.Equal(t, "auth-code", form["code"])
	assert.Equal(t, DefaultRedirectURL, form["redirect_uri"])
}

func TestExchangeCodeSurfacesProviderDescription(t *testing.T) {
	ts := newTokenServer(t, http.StatusBadRequest, map[string]any{
		"error":             "invalid_grant",
		"error_description": "Malformed auth code.",
	})
	m := newTestTokenManager(t, ts.server.URL, NewMemoryCredentialStore())

	_, err := m.ExchangeCode(context.Background(), "bad")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeExchangeFailed))

	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Malformed auth code.", se.Message)
}

func TestExchangeCodeWithoutRefreshToken(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, map[string]any{"access_token": "access", "expires_in": 3600})
	m := newTestTokenManager(t, ts.server.URL, NewMemoryCredentialStore())

	_, err := m.ExchangeCode(context.Background(), "code")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeNoRefreshTokenIssued))
}

func TestAuthorizeAndRevoke(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, map[string]any{
		"access_token":  "access",
		"refresh_token": "refresh",
		"expires_in":    3600,
	})
	store := NewMemoryCredentialStore()
	m := newTestTokenManager(t, ts.server.URL, store)
	ctx := context.Background()

	state, err := m.State(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, TokenUnauthorized, state)

	_, err = m.Authorize(ctx, "alice", "code")
	require.NoError(t, err)

	state, _ = m.State(ctx, "alice")
	assert.Equal(t, TokenValid, state)

	m.SetClock(func() time.Time { return tokenTestNow.Add(58 * time.Minute) })
	state, _ = m.State(ctx, "alice")
	assert.Equal(t, TokenStale, state)

	require.NoError(t, m.Revoke(ctx, "alice"))
	creds, _ := store.Get(ctx, "alice")
	assert.Empty(t, creds.RefreshToken)
	assert.Empty(t, creds.AccessToken)
	state, _ = m.State(ctx, "alice")
	assert.Equal(t, TokenUnauthorized, state)
}

func TestAuthCodeURL(t *testing.T) {
	m := newTestTokenManager(t, "http://unused", NewMemoryCredentialStore())

	url, err := m.AuthCodeURL("alice")
	require.NoError(t, err)
	assert.True(t, strings.Contains(url, "access_type=offline"))
	assert.True(t, strings.Contains(url, "prompt=consent"))
	assert.True(t, strings.Contains(url, "state=alice"))
	assert.True(t, strings.Contains(url, "client_id=client"))

	_, err = NewTokenManager(NewOAuthConfig(OAuthSettings{}), NewMemoryCredentialStore(), nil, nil).AuthCodeURL("x")
	assert.True(t, IsCode(err, CodeMissingClientCredentials))
}
