// ABOUTME: Data models for issue calendar sync
// ABOUTME: Defines Issue, IssueChange, Credentials, CalendarEvent, EventPatch and CalendarInfo
package models

import (
	"time"
)

// DraftIssueID is the identifier trackers give to unsaved drafts.
const DraftIssueID = "Issue.Draft"

// ResolvedColorID is the provider color applied to events of resolved issues (Sage).
const ResolvedColorID = "2"

// MaxReminderMinutes is the provider ceiling for a reminder lead time (4 weeks).
const MaxReminderMinutes = 40320

type UserRef struct {
	ID    string `json:"id"`
	Login string `json:"login,omitempty"`
}

// Issue is a snapshot of the tracker fields the engine cares about.
type Issue struct {
	ID           string     `json:"id"`
	Summary      string     `json:"summary"`
	Description  string     `json:"description,omitempty"`
	Assignee     *UserRef   `json:"assignee,omitempty"`
	Start        *time.Time `json:"start,omitempty"`
	Duration     string     `json:"duration,omitempty"`
	RemindBefore string     `json:"remind_before,omitempty"`
	Resolved     bool       `json:"resolved"`
	EventID      string     `json:"event_id,omitempty"`
}

func (i Issue) HasAssignee() bool { return i.Assignee != nil && i.Assignee.ID != "" }
func (i Issue) HasStart() bool    { return i.Start != nil && !i.Start.IsZero() }
func (i Issue) HasDuration() bool { return i.Duration != "" }
func (i Issue) HasEvent() bool    { return i.EventID != "" }

// AssigneeID returns the assignee's user id or "" when unassigned.
func (i Issue) AssigneeID() string {
	if !i.HasAssignee() {
		return ""
	}
	return i.Assignee.ID
}

// IssueChange is one field-change notification from the tracker.
// After.EventID is the event reference currently stored on the issue.
type IssueChange struct {
	Before  Issue `json:"before"`
	After   Issue `json:"after"`
	Removed bool  `json:"removed,omitempty"`
	Created bool  `json:"created,omitempty"`
}

// Credentials is the per-user property bag the engine reads and writes.
type Credentials struct {
	UserID       string    `json:"user_id"`
	CalendarID   string    `json:"calendar_id,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	TokenExpiry  time.Time `json:"token_expiry,omitempty"`
	RelayURL     string    `json:"relay_url,omitempty"`
	RelayAPIKey  string    `json:"relay_api_key,omitempty"`
}

// UsesRelay reports whether calls for this user go through the relay endpoint.
func (c *Credentials) UsesRelay() bool {
	return c.RelayURL != "" && c.RelayAPIKey != ""
}

// CredentialPatch updates selected credential fields.
// A nil field is left untouched; a pointer to the zero value clears it.
type CredentialPatch struct {
	CalendarID   *string
	RefreshToken *string
	AccessToken  *string
	TokenExpiry  *time.Time
	RelayURL     *string
	RelayAPIKey  *string
}

// Apply merges patch into c. An access token is never kept without a refresh
// token since it could not be renewed.
func (c *Credentials) Apply(patch CredentialPatch) {
	if patch.CalendarID != nil {
		c.CalendarID = *patch.CalendarID
	}
	if patch.RefreshToken != nil {
		c.RefreshToken = *patch.RefreshToken
	}
	if patch.AccessToken != nil {
		c.AccessToken = *patch.AccessToken
	}
	if patch.TokenExpiry != nil {
		c.TokenExpiry = *patch.TokenExpiry
	}
	if patch.RelayURL != nil {
		c.RelayURL = *patch.RelayURL
	}
	if patch.RelayAPIKey != nil {
		c.RelayAPIKey = *patch.RelayAPIKey
	}
	if c.RefreshToken == "" {
		c.AccessToken = ""
		c.TokenExpiry = time.Time{}
	}
}

// EventKind is the shape of a calendar event.
type EventKind string

const (
	KindAllDay EventKind = "all_day"
	KindTimed  EventKind = "timed"
)

// Reminder is either disabled (no overrides, defaults off) or a single lead time.
type Reminder struct {
	Disabled bool `json:"disabled"`
	Minutes  int  `json:"minutes,omitempty"`
}

// CalendarEvent is the canonical event payload, independent of transport encoding.
type CalendarEvent struct {
	Kind        EventKind `json:"kind"`
	Date        string    `json:"date,omitempty"`
	Start       time.Time `json:"start,omitempty"`
	End         time.Time `json:"end,omitempty"`
	TimeZone    string    `json:"time_zone,omitempty"`
	Reminder    *Reminder `json:"reminder,omitempty"`
	ColorID     *string   `json:"color_id,omitempty"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`

	// Observability flags, not sent to the provider.
	LongDuration    bool `json:"-"`
	ReminderClamped bool `json:"-"`
}

// EventPatch carries only the fields that changed. Times holds the full
// start/end shape when the schedule moved.
type EventPatch struct {
	Times       *CalendarEvent `json:"times,omitempty"`
	Reminder    *Reminder      `json:"reminder,omitempty"`
	Summary     *string        `json:"summary,omitempty"`
	Description *string        `json:"description,omitempty"`
	ColorID     *string        `json:"color_id,omitempty"`
}

// IsEmpty reports whether the patch would not change anything.
func (p *EventPatch) IsEmpty() bool {
	return p == nil || (p.Times == nil && p.Reminder == nil && p.Summary == nil && p.Description == nil && p.ColorID == nil)
}

// Fields lists the patched field names, for logging.
func (p *EventPatch) Fields() []string {
	if p == nil {
		return nil
	}
	var fields []string
	if p.Times != nil {
		fields = append(fields, "times")
	}
	if p.Reminder != nil {
		fields = append(fields, "reminder")
	}
	if p.Summary != nil {
		fields = append(fields, "summary")
	}
	if p.Description != nil {
		fields = append(fields, "description")
	}
	if p.ColorID != nil {
		fields = append(fields, "color")
	}
	return fields
}

type CalendarInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Primary    bool   `json:"primary"`
	AccessRole string `json:"access_role"`
}

// SyncLogEntry records one remote operation attempted for an issue.
type SyncLogEntry struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	IssueID   string    `json:"issue_id"`
	UserID    string    `json:"user_id"`
	Rule      string    `json:"rule"`
	Operation string    `json:"operation"`
	EventID   string    `json:"event_id,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	SyncStatusOK     = "ok"
	SyncStatusFailed = "failed"
)
