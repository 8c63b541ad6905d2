// ABOUTME: Tests for CLI commands wired through a real App on SQLite
// ABOUTME: Uses httptest token, calendar and relay servers so nothing leaves the machine
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/issuecal/config"
	"github.com/harperreed/issuecal/models"
)

type testEnv struct {
	app       *App
	out       *bytes.Buffer
	calendar  *httptest.Server
	calls     []string
	lastEvent map[string]any
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{out: &bytes.Buffer{}}

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`)
	}))
	t.Cleanup(tokenSrv.Close)

	env.calendar = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.calls = append(env.calls, r.Method+" "+r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/calendar/v3/users/me/calendarList":
			_, _ = io.WriteString(w, `{"items":[{"id":"primary","summary":"Alice","primary":true,"accessRole":"owner"}]}`)
		case r.Method == http.MethodPost:
			_ = json.NewDecoder(r.Body).Decode(&env.lastEvent)
			_, _ = io.WriteString(w, `{"id":"evt-9"}`)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	t.Cleanup(env.calendar.Close)

	cfg := config.DefaultConfig()
	cfg.Store.DBPath = filepath.Join(t.TempDir(), "issuecal.db")
	cfg.Store.SealingKey = "test passphrase"
	cfg.OAuth = config.OAuthConfig{ClientID: "id", ClientSecret: "secret", TokenURL: tokenSrv.URL}
	cfg.CalendarEndpoint = env.calendar.URL + "/calendar/v3/"

	app, err := NewApp(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	app.Out = env.out
	env.app = app
	return env
}

func (e *testEnv) authorize(t *testing.T, userID string) {
	t.Helper()
	refresh := "refresh-" + userID
	require.NoError(t, e.app.Credentials.Put(context.Background(), userID, models.CredentialPatch{RefreshToken: &refresh}))
}

func TestUserSetAndShow(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, UserSetCommand(env.app, []string{
		"--user", "u-alice", "--calendar", "alice@example.com",
		"--relay-url", "https://relay.example.com/exec", "--relay-key", "secret-key-1234",
	}))

	creds, err := env.app.Credentials.Get(context.Background(), "u-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", creds.CalendarID)
	assert.True(t, creds.UsesRelay())

	env.out.Reset()
	require.NoError(t, UserShowCommand(env.app, []string{"--user", "u-alice"}))
	output := env.out.String()
	assert.Contains(t, output, "alice@example.com")
	assert.Contains(t, output, "relay")
	assert.Contains(t, output, "1234")
	assert.NotContains(t, output, "secret-key-1234")

	require.NoError(t, UserSetCommand(env.app, []string{"--user", "u-alice", "--clear-relay"}))
	creds, err = env.app.Credentials.Get(context.Background(), "u-alice")
	require.NoError(t, err)
	assert.False(t, creds.UsesRelay())
	assert.Equal(t, "alice@example.com", creds.CalendarID)
}

func TestUserSetRequiresChange(t *testing.T) {
	env := newTestEnv(t)
	assert.Error(t, UserSetCommand(env.app, []string{"--user", "u-alice"}))
	assert.Error(t, UserSetCommand(env.app, []string{"--calendar", "primary"}))
}

func TestAuthStatusListsUsers(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, UserSetCommand(env.app, []string{"--user", "u-alice", "--calendar", "primary"}))
	env.authorize(t, "u-bob")

	env.out.Reset()
	require.NoError(t, AuthStatusCommand(env.app, nil))
	output := env.out.String()
	assert.Contains(t, output, "u-alice")
	assert.Contains(t, output, "unauthorized")
	assert.Contains(t, output, "u-bob")
	assert.Contains(t, output, "stale")
}

func TestAuthURLAndRevoke(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, AuthURLCommand(env.app, []string{"--user", "u-alice"}))
	assert.Contains(t, env.out.String(), "state=u-alice")
	assert.Contains(t, env.out.String(), "access_type=offline")

	env.authorize(t, "u-alice")
	require.NoError(t, AuthRevokeCommand(env.app, []string{"--user", "u-alice"}))
	creds, err := env.app.Credentials.Get(context.Background(), "u-alice")
	require.NoError(t, err)
	assert.Empty(t, creds.RefreshToken)
}

func TestApplyCreatesEventEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, UserSetCommand(env.app, []string{"--user", "u-alice", "--calendar", "primary"}))
	env.authorize(t, "u-alice")

	path := filepath.Join(t.TempDir(), "change.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"before": {"id":"PROJ-12","summary":"Release","assignee":{"id":"u-alice"}},
		"after": {"id":"PROJ-12","summary":"Release","assignee":{"id":"u-alice"},
			"start":"2024-03-05T14:30:00Z","duration":"PT1H"}
	}`), 0600))

	env.out.Reset()
	require.NoError(t, ApplyCommand(env.app, []string{"--file", path}))
	assert.Contains(t, env.out.String(), "create for u-alice")
	assert.Equal(t, []string{"POST /calendar/v3/calendars/primary/events"}, env.calls)
	assert.Equal(t, "2024-03-05T15:30:00Z", env.lastEvent["end"].(map[string]any)["dateTime"])

	eventID, err := env.app.Refs.EventID(context.Background(), "PROJ-12")
	require.NoError(t, err)
	assert.Equal(t, "evt-9", eventID)

	creds, err := env.app.Credentials.Get(context.Background(), "u-alice")
	require.NoError(t, err)
	assert.Equal(t, "at-1", creds.AccessToken)

	env.out.Reset()
	require.NoError(t, LogCommand(env.app, []string{"--issue", "PROJ-12"}))
	assert.Contains(t, env.out.String(), "evt-9")
}

func TestApplyReportsFailure(t *testing.T) {
	env := newTestEnv(t)

	path := filepath.Join(t.TempDir(), "change.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"after": {"id":"PROJ-1","assignee":{"id":"u-nobody"},"start":"2024-03-05T14:30:00Z"},
		"created": true
	}`), 0600))

	err := ApplyCommand(env.app, []string{"--file", path})
	require.Error(t, err)
	assert.Empty(t, env.calls)

	env.out.Reset()
	require.NoError(t, LogCommand(env.app, []string{"--status", "failed"}))
	assert.Contains(t, env.out.String(), "PROJ-1")
}

func TestCalendarsCommand(t *testing.T) {
	env := newTestEnv(t)
	env.authorize(t, "u-alice")

	env.out.Reset()
	require.NoError(t, CalendarsCommand(env.app, []string{"--user", "u-alice"}))
	assert.Contains(t, env.out.String(), "primary")
	assert.Contains(t, env.out.String(), "owner")
}

func TestRelayTestCommand(t *testing.T) {
	env := newTestEnv(t)
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"message":"pong"}`)
	}))
	defer relay.Close()

	require.NoError(t, UserSetCommand(env.app, []string{"--user", "u-alice", "--relay-url", relay.URL, "--relay-key", "k"}))

	env.out.Reset()
	require.NoError(t, RelayTestCommand(env.app, []string{"--user", "u-alice"}))
	assert.Contains(t, env.out.String(), "pong")

	assert.Error(t, RelayTestCommand(env.app, []string{"--url", relay.URL}))
}

func TestDashboardSnapshot(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, UserSetCommand(env.app, []string{"--user", "u-alice", "--calendar", "alice@example.com"}))
	env.authorize(t, "u-bob")

	snap, err := env.app.snapshotLoader(10)(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, snap.Users, 2)

	byUser := map[string]string{}
	for _, u := range snap.Users {
		byUser[u.UserID] = u.State
	}
	assert.Equal(t, "unauthorized", byUser["u-alice"])
	assert.Equal(t, "stale", byUser["u-bob"])
	assert.Empty(t, snap.History)
}

func TestNewMCPServerRegisters(t *testing.T) {
	env := newTestEnv(t)
	assert.NotNil(t, NewMCPServer(env.app, "test"))
}
