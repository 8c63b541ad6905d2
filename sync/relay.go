// ABOUTME: Relay calendar adapter posting action envelopes to a user's script endpoint
// ABOUTME: Follows the relay's redirect by hand and validates the success flag on every body
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/harperreed/issuecal/metrics"
	"github.com/harperreed/issuecal/models"
)

const (
	relayActionTest   = "test"
	relayActionList   = "list-calendars"
	relayActionCreate = "create"
	relayActionUpdate = "update"
	relayActionDelete = "delete"

	maxRelayBody   = 1 << 20
	maxBodySnippet = 300
)

// RelayCalendar implements Calendar over the relay protocol.
type RelayCalendar struct {
	client *http.Client
}

type relayResponse struct {
	Success   *bool           `json:"success"`
	Error     string          `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
	EventID   string          `json:"eventId,omitempty"`
	Calendars []relayCalendar `json:"calendars,omitempty"`
}

type relayCalendar struct {
	ID         string `json:"id"`
	Summary    string `json:"summary"`
	Primary    bool   `json:"primary"`
	AccessRole string `json:"accessRole"`
}

// NewRelayCalendar copies client with automatic redirects disabled, so the
// relay's redirect can be inspected and followed with a GET.
func NewRelayCalendar(client *http.Client) *RelayCalendar {
	if client == nil {
		client = http.DefaultClient
	}
	c := *client
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &RelayCalendar{client: &c}
}

// Ping runs the relay's connectivity test and returns its message.
func (r *RelayCalendar) Ping(ctx context.Context, auth Auth) (msg string, err error) {
	done := metrics.ObserveRemoteCall(transportRelay, relayActionTest)
	defer func() { done(err) }()

	resp, err := r.call(ctx, auth, relayActionTest, nil)
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (r *RelayCalendar) CreateEvent(ctx context.Context, auth Auth, calendarID string, event *models.CalendarEvent) (id string, err error) {
	done := metrics.ObserveRemoteCall(transportRelay, relayActionCreate)
	defer func() { done(err) }()

	resp, err := r.call(ctx, auth, relayActionCreate, map[string]any{
		"calendarId": calendarID,
		"eventData":  relayEventData(event),
	})
	if err != nil {
		return "", err
	}
	if resp.EventID == "" {
		return "", parseError(CodeInvalidResponseBody, nil, "relay create response has no eventId")
	}
	return resp.EventID, nil
}

func (r *RelayCalendar) PatchEvent(ctx context.Context, auth Auth, calendarID, eventID string, patch *models.EventPatch) (err error) {
	if patch.IsEmpty() {
		return nil
	}
	done := metrics.ObserveRemoteCall(transportRelay, relayActionUpdate)
	defer func() { done(err) }()

	_, err = r.call(ctx, auth, relayActionUpdate, map[string]any{
		"eventId":    eventID,
		"calendarId": calendarID,
		"eventData":  relayPatchData(patch),
	})
	return err
}

func (r *RelayCalendar) DeleteEvent(ctx context.Context, auth Auth, calendarID, eventID string) (err error) {
	done := metrics.ObserveRemoteCall(transportRelay, relayActionDelete)
	defer func() { done(err) }()

	_, err = r.call(ctx, auth, relayActionDelete, map[string]any{
		"eventId":    eventID,
		"calendarId": calendarID,
	})
	return err
}

func (r *RelayCalendar) ListCalendars(ctx context.Context, auth Auth) (infos []models.CalendarInfo, err error) {
	done := metrics.ObserveRemoteCall(transportRelay, "list")
	defer func() { done(err) }()

	resp, err := r.call(ctx, auth, relayActionList, nil)
	if err != nil {
		return nil, err
	}
	for _, c := range resp.Calendars {
		infos = append(infos, models.CalendarInfo{
			ID:         c.ID,
			Name:       c.Summary,
			Primary:    c.Primary,
			AccessRole: c.AccessRole,
		})
	}
	return infos, nil
}

// call posts one action envelope and returns the validated result body,
// following a redirect when the relay answers with one.
func (r *RelayCalendar) call(ctx context.Context, auth Auth, action string, params map[string]any) (*relayResponse, error) {
	if auth.RelayURL == "" || auth.RelayAPIKey == "" {
		return nil, configurationError(CodeMissingRelayConfig, "relay URL and API key must both be configured")
	}

	envelope := map[string]any{
		"apiKey": auth.RelayAPIKey,
		"action": action,
	}
	for k, v := range params {
		envelope[k] = v
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, auth.RelayURL, bytes.NewReader(payload))
	if err != nil {
		return nil, configurationError(CodeMissingRelayConfig, "invalid relay URL: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	status, header, body, err := r.do(req)
	if err != nil {
		return nil, apiError(CodeRequestFailed, 0, "", err, "relay %s request failed", action)
	}

	result := ClassifyRelayResponse(status, header, body)
	if result.Kind == RelayRedirect {
		if result.Location == "" {
			return nil, apiError(CodeRelayRedirectUnresolved, status, snippet(body), nil,
				"relay %s answered with a redirect but no target URL", action)
		}

		follow, err := http.NewRequestWithContext(ctx, http.MethodGet, result.Location, nil)
		if err != nil {
			return nil, apiError(CodeRelayRedirectUnresolved, status, result.Location, err, "relay redirect target is not a valid URL")
		}
		status, _, body, err = r.do(follow)
		if err != nil {
			return nil, apiError(CodeRequestFailed, 0, "", err, "relay %s redirect follow-up failed", action)
		}
	} else {
		body = result.Body
	}

	return parseRelayBody(action, status, body)
}

func (r *RelayCalendar) do(req *http.Request) (int, http.Header, []byte, error) {
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayBody))
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, body, nil
}

// parseRelayBody applies the same validation whichever path produced body.
func parseRelayBody(action string, status int, body []byte) (*relayResponse, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, apiError(CodeRequestRejected, status, "", nil, "relay %s returned an empty response", action)
	}

	var resp relayResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		if status >= 400 {
			return nil, apiError(CodeRequestRejected, status, snippet(body), nil, "relay %s rejected", action)
		}
		return nil, parseError(CodeInvalidResponseBody, err, "relay %s returned invalid JSON", action)
	}

	if resp.Success == nil {
		return nil, apiError(CodeRequestRejected, status, snippet(body), nil, "relay %s response has no success flag", action)
	}
	if !*resp.Success {
		detail := resp.Error
		if detail == "" {
			detail = "relay call failed"
		}
		return nil, apiError(CodeRequestRejected, status, detail, nil, "relay %s rejected", action)
	}
	return &resp, nil
}

// relayEventData is the relay-native encoding of a full event.
func relayEventData(event *models.CalendarEvent) map[string]any {
	data := map[string]any{
		"summary":         event.Summary,
		"description":     event.Description,
		"reminderMinutes": relayReminder(event.Reminder),
	}
	addRelayTimes(data, event)
	addRelayColor(data, event.ColorID)
	return data
}

func relayPatchData(patch *models.EventPatch) map[string]any {
	data := map[string]any{}
	if patch.Times != nil {
		addRelayTimes(data, patch.Times)
	}
	if patch.Reminder != nil {
		data["reminderMinutes"] = relayReminder(patch.Reminder)
	}
	if patch.Summary != nil {
		data["summary"] = *patch.Summary
	}
	if patch.Description != nil {
		data["description"] = *patch.Description
	}
	addRelayColor(data, patch.ColorID)
	return data
}

func addRelayTimes(data map[string]any, event *models.CalendarEvent) {
	data["isAllDay"] = event.Kind == models.KindAllDay
	if event.Kind == models.KindAllDay {
		data["startDate"] = event.Date
		return
	}
	data["startDateTime"] = event.Start.UTC().Format(time.RFC3339)
	data["endDateTime"] = event.End.UTC().Format(time.RFC3339)
}

// relayReminder uses 0 for "no reminder".
func relayReminder(r *models.Reminder) int {
	if r == nil || r.Disabled {
		return 0
	}
	return r.Minutes
}

// addRelayColor sends null to restore the default color.
func addRelayColor(data map[string]any, color *string) {
	if color == nil {
		return
	}
	if *color == "" {
		data["colorId"] = nil
		return
	}
	data["colorId"] = *color
}

func snippet(body []byte) string {
	s := string(bytes.TrimSpace(body))
	if len(s) > maxBodySnippet {
		return s[:maxBodySnippet]
	}
	return s
}
