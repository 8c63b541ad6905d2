// ABOUTME: Remote calendar adapter contract and the direct Google Calendar REST implementation
// ABOUTME: Encodes canonical events in provider-native form and maps API failures onto SyncError
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/harperreed/issuecal/metrics"
	"github.com/harperreed/issuecal/models"
)

// Auth identifies the caller to the remote calendar. The direct path uses
// AccessToken; the relay path uses RelayURL and RelayAPIKey.
type Auth struct {
	AccessToken string
	RelayURL    string
	RelayAPIKey string
}

// Calendar is the transport-neutral set of event mutations the engine needs.
type Calendar interface {
	CreateEvent(ctx context.Context, auth Auth, calendarID string, event *models.CalendarEvent) (string, error)
	PatchEvent(ctx context.Context, auth Auth, calendarID, eventID string, patch *models.EventPatch) error
	DeleteEvent(ctx context.Context, auth Auth, calendarID, eventID string) error
	ListCalendars(ctx context.Context, auth Auth) ([]models.CalendarInfo, error)
}

const (
	transportDirect = "direct"
	transportRelay  = "relay"
	reminderMethod  = "popup"
)

// DirectCalendar talks to the Calendar v3 REST API with a bearer token.
type DirectCalendar struct {
	client   *http.Client
	endpoint string
}

// NewDirectCalendar uses client for every request. endpoint overrides the API
// base path when non-empty (it must end in a slash).
func NewDirectCalendar(client *http.Client, endpoint string) *DirectCalendar {
	if client == nil {
		client = http.DefaultClient
	}
	return &DirectCalendar{client: client, endpoint: endpoint}
}

// service creates a Calendar API service authenticated with a static token.
func (d *DirectCalendar) service(ctx context.Context, auth Auth) (*calendar.Service, error) {
	if auth.AccessToken == "" {
		return nil, authError(CodeNotAuthorized, nil, "no access token for direct calendar call")
	}

	client := *d.client
	client.Transport = &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: auth.AccessToken, TokenType: "Bearer"}),
		Base:   d.client.Transport,
	}

	opts := []option.ClientOption{option.WithHTTPClient(&client)}
	if d.endpoint != "" {
		opts = append(opts, option.WithEndpoint(d.endpoint))
	}

	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return service, nil
}

func (d *DirectCalendar) CreateEvent(ctx context.Context, auth Auth, calendarID string, event *models.CalendarEvent) (id string, err error) {
	done := metrics.ObserveRemoteCall(transportDirect, "create")
	defer func() { done(err) }()

	svc, err := d.service(ctx, auth)
	if err != nil {
		return "", err
	}

	created, err := svc.Events.Insert(calendarID, encodeEvent(event)).Context(ctx).Do()
	if err != nil {
		return "", directError("create event", err)
	}
	if created.Id == "" {
		return "", apiError(CodeInvalidResponseBody, created.HTTPStatusCode, "", nil, "create event response has no id")
	}
	return created.Id, nil
}

func (d *DirectCalendar) PatchEvent(ctx context.Context, auth Auth, calendarID, eventID string, patch *models.EventPatch) (err error) {
	if patch.IsEmpty() {
		return nil
	}
	done := metrics.ObserveRemoteCall(transportDirect, "patch")
	defer func() { done(err) }()

	svc, err := d.service(ctx, auth)
	if err != nil {
		return err
	}

	if _, err := svc.Events.Patch(calendarID, eventID, encodePatch(patch)).Context(ctx).Do(); err != nil {
		return directError("patch event", err)
	}
	return nil
}

func (d *DirectCalendar) DeleteEvent(ctx context.Context, auth Auth, calendarID, eventID string) (err error) {
	done := metrics.ObserveRemoteCall(transportDirect, "delete")
	defer func() { done(err) }()

	svc, err := d.service(ctx, auth)
	if err != nil {
		return err
	}

	if err := svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return directError("delete event", err)
	}
	return nil
}

func (d *DirectCalendar) ListCalendars(ctx context.Context, auth Auth) (infos []models.CalendarInfo, err error) {
	done := metrics.ObserveRemoteCall(transportDirect, "list")
	defer func() { done(err) }()

	svc, err := d.service(ctx, auth)
	if err != nil {
		return nil, err
	}

	err = svc.CalendarList.List().Context(ctx).Pages(ctx, func(page *calendar.CalendarList) error {
		for _, entry := range page.Items {
			name := entry.SummaryOverride
			if name == "" {
				name = entry.Summary
			}
			infos = append(infos, models.CalendarInfo{
				ID:         entry.Id,
				Name:       name,
				Primary:    entry.Primary,
				AccessRole: entry.AccessRole,
			})
		}
		return nil
	})
	if err != nil {
		return nil, directError("list calendars", err)
	}
	return infos, nil
}

// directError maps a client library failure onto the engine's taxonomy.
func directError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		detail := gerr.Message
		if detail == "" {
			detail = gerr.Body
		}
		return apiError(CodeRequestRejected, gerr.Code, detail, err, "%s rejected", op)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return apiError(CodeRequestFailed, 0, "", err, "%s request failed", op)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return apiError(CodeInvalidResponseBody, 0, "", err, "%s returned an unreadable body", op)
	}

	return apiError(CodeRequestFailed, 0, "", err, "%s request failed", op)
}

func encodeEvent(event *models.CalendarEvent) *calendar.Event {
	out := &calendar.Event{
		Summary:     event.Summary,
		Description: event.Description,
	}
	out.Start, out.End = encodeTimes(event)
	out.Reminders = encodeReminder(event.Reminder)
	applyColor(out, event.ColorID)
	return out
}

func encodePatch(patch *models.EventPatch) *calendar.Event {
	out := &calendar.Event{}
	if patch.Times != nil {
		out.Start, out.End = encodeTimes(patch.Times)
	}
	if patch.Reminder != nil {
		out.Reminders = encodeReminder(patch.Reminder)
	}
	if patch.Summary != nil {
		out.Summary = *patch.Summary
		out.ForceSendFields = append(out.ForceSendFields, "Summary")
	}
	if patch.Description != nil {
		out.Description = *patch.Description
		out.ForceSendFields = append(out.ForceSendFields, "Description")
	}
	applyColor(out, patch.ColorID)
	return out
}

// encodeTimes renders start/end. All-day events end on the following date.
func encodeTimes(event *models.CalendarEvent) (*calendar.EventDateTime, *calendar.EventDateTime) {
	if event.Kind == models.KindAllDay {
		end := event.Date
		if day, err := time.Parse(dateLayout, event.Date); err == nil {
			end = day.AddDate(0, 0, 1).Format(dateLayout)
		}
		// Switching from timed to all-day must null the dateTime fields.
		return &calendar.EventDateTime{Date: event.Date, NullFields: []string{"DateTime", "TimeZone"}},
			&calendar.EventDateTime{Date: end, NullFields: []string{"DateTime", "TimeZone"}}
	}

	return &calendar.EventDateTime{DateTime: event.Start.Format(time.RFC3339), TimeZone: event.TimeZone, NullFields: []string{"Date"}},
		&calendar.EventDateTime{DateTime: event.End.Format(time.RFC3339), TimeZone: event.TimeZone, NullFields: []string{"Date"}}
}

func encodeReminder(r *models.Reminder) *calendar.EventReminders {
	reminders := &calendar.EventReminders{
		UseDefault:      false,
		Overrides:       []*calendar.EventReminder{},
		ForceSendFields: []string{"UseDefault", "Overrides"},
	}
	if r != nil && !r.Disabled {
		reminders.Overrides = append(reminders.Overrides, &calendar.EventReminder{
			Method:          reminderMethod,
			Minutes:         int64(r.Minutes),
			ForceSendFields: []string{"Minutes"},
		})
	}
	return reminders
}

// applyColor sets colorId, sending an explicit null for the provider default.
func applyColor(out *calendar.Event, color *string) {
	if color == nil {
		return
	}
	if *color == "" {
		out.NullFields = append(out.NullFields, "ColorId")
		return
	}
	out.ColorId = *color
}
