package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/issuecal/models"
)

func TestClassifyRelayResponseDirect(t *testing.T) {
	body := []byte(`{"success":true}`)
	result := ClassifyRelayResponse(http.StatusOK, http.Header{}, body)
	assert.Equal(t, RelayDirect, result.Kind)
	assert.Equal(t, body, result.Body)
}

func TestClassifyRelayResponseLocationHeader(t *testing.T) {
	header := http.Header{}
	header.Set("Location", "https://example.com/echo?id=1")

	result := ClassifyRelayResponse(http.StatusFound, header, nil)
	assert.Equal(t, RelayRedirect, result.Kind)
	assert.Equal(t, "https://example.com/echo?id=1", result.Location)
}

func TestClassifyRelayResponseLowercaseHeaderKey(t *testing.T) {
	header := http.Header{"location": []string{"https://example.com/lower"}}

	result := ClassifyRelayResponse(http.StatusFound, header, nil)
	assert.Equal(t, "https://example.com/lower", result.Location)
}

func TestClassifyRelayResponseHTMLAnchors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "uppercase attribute",
			body: `<HTML><BODY>Moved Temporarily <A HREF="https://example.com/echo?a=1&amp;b=2">here</A></BODY></HTML>`,
			want: "https://example.com/echo?a=1&b=2",
		},
		{
			name: "lowercase attribute",
			body: `<html>Moved Temporarily <a href="https://example.com/x?y=1&amp;z=2">here</a></html>`,
			want: "https://example.com/x?y=1&z=2",
		},
		{
			name: "mixed case quoted attribute",
			body: `<html>Moved Temporarily <a Href="https://relay.example/echo?x=1&amp;y=2">here</a></html>`,
			want: "https://relay.example/echo?x=1&y=2",
		},
		{
			name: "bare attribute",
			body: `<html>Moved Temporarily <a href=https://example.com/bare?q=1>here</a></html>`,
			want: "https://example.com/bare?q=1",
		},
		{
			name: "echo url without anchor",
			body: `Moved Temporarily: https://script.googleusercontent.com/macros/echo?user_content_key=k&amp;lib=l`,
			want: "https://script.googleusercontent.com/macros/echo?user_content_key=k&lib=l",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Status hidden by the host: detection relies on the marker.
			result := ClassifyRelayResponse(0, http.Header{}, []byte(tt.body))
			assert.Equal(t, RelayRedirect, result.Kind)
			assert.Equal(t, tt.want, result.Location)
		})
	}
}

func TestClassifyRelayResponseUnresolved(t *testing.T) {
	result := ClassifyRelayResponse(http.StatusFound, http.Header{}, []byte("<html>gone</html>"))
	assert.Equal(t, RelayRedirect, result.Kind)
	assert.Empty(t, result.Location)
}

// relayFixture serves a relay that redirects every POST to /echo, which
// answers with the JSON produced by respond.
type relayFixture struct {
	server   *httptest.Server
	requests []map[string]any
	respond  func(req map[string]any) string
	useHTML  bool
}

func newRelayFixture(t *testing.T, respond func(req map[string]any) string) *relayFixture {
	t.Helper()
	f := &relayFixture{respond: respond}
	var pending map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("/exec", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.requests = append(f.requests, req)
		pending = req

		target := f.server.URL + "/echo?user_content_key=abc&lib=xyz"
		if f.useHTML {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusOK)
			_, _ = fmt.Fprintf(w, `<HTML><HEAD><TITLE>Moved Temporarily</TITLE></HEAD><BODY><A HREF="%s">here</A></BODY></HTML>`,
				f.server.URL+"/echo?user_content_key=abc&amp;lib=xyz")
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "xyz", r.URL.Query().Get("lib"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, f.respond(pending))
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *relayFixture) auth() Auth {
	return Auth{RelayURL: f.server.URL + "/exec", RelayAPIKey: "key-123"}
}

func TestRelayCreateFollowsRedirect(t *testing.T) {
	f := newRelayFixture(t, func(map[string]any) string {
		return `{"success":true,"eventId":"evt-1"}`
	})
	relay := NewRelayCalendar(http.DefaultClient)

	event := &models.CalendarEvent{
		Kind:        models.KindTimed,
		Start:       time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC),
		TimeZone:    "UTC",
		Summary:     "Standup",
		Description: "PROJ-1\n",
		Reminder:    &models.Reminder{Minutes: 10},
		ColorID:     strPtr(""),
	}

	id, err := relay.CreateEvent(context.Background(), f.auth(), "primary", event)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", id)

	require.Len(t, f.requests, 1)
	req := f.requests[0]
	assert.Equal(t, "key-123", req["apiKey"])
	assert.Equal(t, "create", req["action"])
	assert.Equal(t, "primary", req["calendarId"])

	data := req["eventData"].(map[string]any)
	assert.Equal(t, false, data["isAllDay"])
	assert.Equal(t, "2024-03-05T14:00:00Z", data["startDateTime"])
	assert.Equal(t, "2024-03-05T15:00:00Z", data["endDateTime"])
	assert.Equal(t, float64(10), data["reminderMinutes"])
	v, present := data["colorId"]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestRelayRedirectThroughHTMLBody(t *testing.T) {
	f := newRelayFixture(t, func(map[string]any) string {
		return `{"success":true,"calendars":[{"id":"primary","summary":"Alice","primary":true,"accessRole":"owner"}]}`
	})
	f.useHTML = true
	relay := NewRelayCalendar(http.DefaultClient)

	calendars, err := relay.ListCalendars(context.Background(), f.auth())
	require.NoError(t, err)
	require.Len(t, calendars, 1)
	assert.Equal(t, models.CalendarInfo{ID: "primary", Name: "Alice", Primary: true, AccessRole: "owner"}, calendars[0])
	assert.Equal(t, "list-calendars", f.requests[0]["action"])
}

func TestRelayPatchEncoding(t *testing.T) {
	f := newRelayFixture(t, func(map[string]any) string { return `{"success":true}` })
	relay := NewRelayCalendar(http.DefaultClient)

	summary := "Renamed"
	patch := &models.EventPatch{
		Times:   &models.CalendarEvent{Kind: models.KindAllDay, Date: "2024-03-07"},
		Summary: &summary,
		ColorID: strPtr(models.ResolvedColorID),
	}
	require.NoError(t, relay.PatchEvent(context.Background(), f.auth(), "primary", "evt-1", patch))

	req := f.requests[0]
	assert.Equal(t, "update", req["action"])
	assert.Equal(t, "evt-1", req["eventId"])
	data := req["eventData"].(map[string]any)
	assert.Equal(t, true, data["isAllDay"])
	assert.Equal(t, "2024-03-07", data["startDate"])
	assert.Equal(t, "Renamed", data["summary"])
	assert.Equal(t, "2", data["colorId"])
	assert.NotContains(t, data, "description")
	assert.NotContains(t, data, "reminderMinutes")
}

func TestRelayPatchEmptySkipsCall(t *testing.T) {
	f := newRelayFixture(t, func(map[string]any) string { return `{"success":true}` })
	relay := NewRelayCalendar(http.DefaultClient)

	require.NoError(t, relay.PatchEvent(context.Background(), f.auth(), "primary", "evt-1", &models.EventPatch{}))
	assert.Empty(t, f.requests)
}

func TestRelayFailureCarriesRelayError(t *testing.T) {
	f := newRelayFixture(t, func(map[string]any) string {
		return `{"success":false,"error":"Event not found"}`
	})
	relay := NewRelayCalendar(http.DefaultClient)

	err := relay.DeleteEvent(context.Background(), f.auth(), "primary", "missing")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeRequestRejected))

	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Event not found", se.Body)
}

func TestRelayMalformedJSON(t *testing.T) {
	f := newRelayFixture(t, func(map[string]any) string { return `<html>error page</html>` })
	relay := NewRelayCalendar(http.DefaultClient)

	_, err := relay.Ping(context.Background(), f.auth())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindParse))
	assert.True(t, IsCode(err, CodeInvalidResponseBody))
}

func TestRelayMissingSuccessFlag(t *testing.T) {
	f := newRelayFixture(t, func(map[string]any) string { return `{"eventId":"x"}` })
	relay := NewRelayCalendar(http.DefaultClient)

	_, err := relay.Ping(context.Background(), f.auth())
	assert.True(t, IsCode(err, CodeRequestRejected))
}

func TestRelayDirectBodyWithoutRedirect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"message":"pong"}`)
	}))
	defer server.Close()

	msg, err := NewRelayCalendar(nil).Ping(context.Background(), Auth{RelayURL: server.URL, RelayAPIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "pong", msg)
}

func TestRelayRedirectUnresolved(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
		_, _ = io.WriteString(w, "<html>nothing to follow</html>")
	}))
	defer server.Close()

	_, err := NewRelayCalendar(nil).Ping(context.Background(), Auth{RelayURL: server.URL, RelayAPIKey: "k"})
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeRelayRedirectUnresolved))
}

func TestRelayMissingConfig(t *testing.T) {
	_, err := NewRelayCalendar(nil).Ping(context.Background(), Auth{RelayURL: "https://relay.example.com"})
	assert.True(t, IsKind(err, KindConfiguration))
	assert.True(t, IsCode(err, CodeMissingRelayConfig))
}

func strPtr(s string) *string { return &s }

func TestRelayFollowsExactLocation(t *testing.T) {
	var followed string
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/exec", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", server.URL+"/echo?x=1&y=2")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		followed = r.URL.String()
		_, _ = io.WriteString(w, `{"success":true}`)
	})

	_, err := NewRelayCalendar(http.DefaultClient).Ping(context.Background(), Auth{RelayURL: server.URL + "/exec", RelayAPIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "/echo?x=1&y=2", followed)
}
