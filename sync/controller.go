// ABOUTME: Event lifecycle controller executing one classified issue change against the calendar
// ABOUTME: Resolves per-user transport, writes the event reference back and records sync history
package sync

import (
	"context"
	"errors"
	"math/rand"
	gosync "sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"

	"github.com/harperreed/issuecal/metrics"
	"github.com/harperreed/issuecal/models"
	"github.com/harperreed/issuecal/period"
)

// EventRefStore persists the event reference of each issue.
// An empty id means the issue is not synced.
type EventRefStore interface {
	EventID(ctx context.Context, issueID string) (string, error)
	SetEventID(ctx context.Context, issueID, eventID string) error
}

// SyncLogger records each remote operation the controller attempts.
type SyncLogger interface {
	RecordSync(ctx context.Context, entry models.SyncLogEntry) error
}

// Operation is one remote call made while handling a change.
type Operation struct {
	Name       string `json:"name"`
	UserID     string `json:"user_id"`
	EventID    string `json:"event_id,omitempty"`
	BestEffort bool   `json:"best_effort,omitempty"`
	Err        error  `json:"-"`
}

// Result describes what HandleChange did. Err holds the first failure that
// was not best-effort; HandleChange itself never fails.
type Result struct {
	RunID          string      `json:"run_id"`
	IssueID        string      `json:"issue_id"`
	Rule           Rule        `json:"rule"`
	Operations     []Operation `json:"operations,omitempty"`
	EventID        string      `json:"event_id,omitempty"`
	EventIDChanged bool        `json:"event_id_changed"`
	Err            error       `json:"-"`
}

// ControllerOptions wires the controller's collaborators. Refs and History
// are optional.
type ControllerOptions struct {
	Credentials CredentialStore
	Tokens      AccessTokenProvider
	Direct      Calendar
	Relay       Calendar
	Refs        EventRefStore
	History     SyncLogger
	Logger      *log.Logger
}

// Controller applies issue changes to the assignee's calendar.
type Controller struct {
	creds   CredentialStore
	tokens  AccessTokenProvider
	direct  Calendar
	relay   Calendar
	refs    EventRefStore
	history SyncLogger
	logger  *log.Logger
	now     func() time.Time

	entropyMu gosync.Mutex
	entropy   *ulid.MonotonicEntropy
}

func NewController(opts ControllerOptions) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		creds:   opts.Credentials,
		tokens:  opts.Tokens,
		direct:  opts.Direct,
		relay:   opts.Relay,
		refs:    opts.Refs,
		history: opts.History,
		logger:  logger,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// target is the resolved calendar of one user.
type target struct {
	userID     string
	calendar   Calendar
	auth       Auth
	calendarID string
}

// HandleChange classifies change and performs the remote calls for its rule.
func (c *Controller) HandleChange(ctx context.Context, change models.IssueChange) Result {
	issue := change.After
	if issue.ID == "" {
		issue = change.Before
	}

	if c.refs != nil && issue.ID != "" && issue.ID != models.DraftIssueID {
		stored, err := c.refs.EventID(ctx, issue.ID)
		if err != nil {
			c.logger.Warn("failed to read stored event id", "issue", issue.ID, "err", err)
		} else {
			// The store is authoritative once it is wired, including a cleared id.
			change.After.EventID = stored
		}
	}

	rule := Classify(change)
	run := &run{
		c:       c,
		change:  change,
		logger:  c.logger.With("issue", issue.ID, "rule", rule),
		eventID: change.After.EventID,
		result:  Result{RunID: c.newRunID(), IssueID: issue.ID, Rule: rule},
	}
	run.logger = run.logger.With("run", run.result.RunID)

	switch rule {
	case RuleIgnored, RuleNoAssignee, RuleNoop:
		run.logger.Debug("no calendar action")
	case RuleAssigneeChanged:
		run.assigneeChanged(ctx)
	case RuleRemoved:
		run.removed(ctx)
	case RuleStartCleared:
		run.startCleared(ctx)
	case RuleStartSet:
		run.create(ctx, change.After.AssigneeID())
	case RuleShapeChanged:
		run.shapeChanged(ctx)
	case RulePatch:
		run.patch(ctx)
	}

	run.finish(ctx)
	metrics.RecordTransition(string(rule), run.result.Err)
	return run.result
}

func (c *Controller) newRunID() string {
	c.entropyMu.Lock()
	defer c.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(c.now()), c.entropy).String()
}

// resolve picks the transport for userID: the relay when configured,
// otherwise the direct API with a fresh access token.
func (c *Controller) resolve(ctx context.Context, userID string) (*target, error) {
	creds, err := c.creds.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if creds.CalendarID == "" {
		return nil, configurationError(CodeMissingCalendarID, "user %s has no calendar configured", userID)
	}

	if creds.UsesRelay() {
		if c.relay == nil {
			return nil, configurationError(CodeMissingRelayConfig, "relay transport is not available")
		}
		return &target{
			userID:     userID,
			calendar:   c.relay,
			auth:       Auth{RelayURL: creds.RelayURL, RelayAPIKey: creds.RelayAPIKey},
			calendarID: creds.CalendarID,
		}, nil
	}
	if creds.RelayURL != "" || creds.RelayAPIKey != "" {
		return nil, configurationError(CodeMissingRelayConfig, "user %s has an incomplete relay configuration", userID)
	}

	token, err := c.tokens.AccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &target{
		userID:     userID,
		calendar:   c.direct,
		auth:       Auth{AccessToken: token},
		calendarID: creds.CalendarID,
	}, nil
}

// ListCalendars returns the calendars the user can see through their configured transport.
func (c *Controller) ListCalendars(ctx context.Context, userID string) ([]models.CalendarInfo, error) {
	creds, err := c.creds.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if creds.UsesRelay() && c.relay != nil {
		return c.relay.ListCalendars(ctx, Auth{RelayURL: creds.RelayURL, RelayAPIKey: creds.RelayAPIKey})
	}
	token, err := c.tokens.AccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	return c.direct.ListCalendars(ctx, Auth{AccessToken: token})
}

// run carries the state of one HandleChange invocation.
type run struct {
	c       *Controller
	change  models.IssueChange
	logger  *log.Logger
	eventID string
	result  Result
}

func (r *run) assigneeChanged(ctx context.Context) {
	before, after := r.change.Before, r.change.After

	if before.HasAssignee() && r.eventID != "" {
		// Best effort: the event moves with the issue even if the old calendar refuses.
		if err := r.delete(ctx, before.AssigneeID(), true); err != nil {
			r.logger.Warn("failed to delete event from previous assignee", "user", before.AssigneeID(), "err", err)
		}
		r.eventID = ""
	}

	if after.HasAssignee() && after.HasStart() {
		r.create(ctx, after.AssigneeID())
	}
}

func (r *run) removed(ctx context.Context) {
	userID := r.change.After.AssigneeID()
	if userID == "" {
		userID = r.change.Before.AssigneeID()
	}
	if err := r.delete(ctx, userID, false); err == nil {
		r.eventID = ""
	}
}

func (r *run) startCleared(ctx context.Context) {
	if err := r.delete(ctx, r.change.After.AssigneeID(), false); err == nil {
		r.eventID = ""
	}
}

func (r *run) shapeChanged(ctx context.Context) {
	userID := r.change.After.AssigneeID()
	if err := r.delete(ctx, userID, false); err != nil {
		return
	}
	r.eventID = ""
	r.create(ctx, userID)
}

func (r *run) create(ctx context.Context, userID string) {
	op := Operation{Name: "create", UserID: userID}

	event, err := BuildEventPayload(r.change.After)
	if err != nil {
		r.fail(ctx, op, err)
		return
	}
	r.warnUnusual(event)

	t, err := r.c.resolve(ctx, userID)
	if err != nil {
		r.fail(ctx, op, err)
		return
	}

	id, err := t.calendar.CreateEvent(ctx, t.auth, t.calendarID, event)
	if err != nil {
		r.fail(ctx, op, err)
		return
	}

	r.eventID = id
	op.EventID = id
	r.succeed(ctx, op)
	r.logger.Info("calendar event created", "user", userID, "event", id, "kind", event.Kind)
}

func (r *run) delete(ctx context.Context, userID string, bestEffort bool) error {
	op := Operation{Name: "delete", UserID: userID, EventID: r.eventID, BestEffort: bestEffort}

	t, err := r.c.resolve(ctx, userID)
	if err == nil {
		err = t.calendar.DeleteEvent(ctx, t.auth, t.calendarID, r.eventID)
	}
	if err != nil {
		r.fail(ctx, op, err)
		return err
	}

	r.succeed(ctx, op)
	r.logger.Info("calendar event deleted", "user", userID, "event", op.EventID)
	return nil
}

func (r *run) patch(ctx context.Context) {
	userID := r.change.After.AssigneeID()
	patch := BuildEventPatch(r.change.Before, r.change.After)
	op := Operation{Name: "patch", UserID: userID, EventID: r.eventID}

	t, err := r.c.resolve(ctx, userID)
	if err == nil {
		err = t.calendar.PatchEvent(ctx, t.auth, t.calendarID, r.eventID, patch)
	}
	if err != nil {
		r.fail(ctx, op, err)
		return
	}

	r.succeed(ctx, op)
	r.logger.Info("calendar event updated", "user", userID, "event", r.eventID, "fields", patch.Fields())
}

func (r *run) warnUnusual(event *models.CalendarEvent) {
	if event.LongDuration {
		minutes := int(event.End.Sub(event.Start) / time.Minute)
		r.logger.Warn("event duration is unusually long", "duration", period.Format(minutes))
	}
	if event.ReminderClamped {
		r.logger.Warn("reminder exceeds the provider maximum, clamped", "reminder", period.Format(models.MaxReminderMinutes))
	}
}

func (r *run) succeed(ctx context.Context, op Operation) {
	r.result.Operations = append(r.result.Operations, op)
	r.record(ctx, op, nil)
}

func (r *run) fail(ctx context.Context, op Operation, err error) {
	op.Err = err
	r.result.Operations = append(r.result.Operations, op)
	r.record(ctx, op, err)

	if !op.BestEffort {
		if r.result.Err == nil {
			r.result.Err = err
		}
		r.logger.Error("calendar operation failed", "op", op.Name, "user", op.UserID, "err", err)
	}
}

func (r *run) record(ctx context.Context, op Operation, err error) {
	if r.c.history == nil {
		return
	}
	entry := models.SyncLogEntry{
		RunID:     r.result.RunID,
		IssueID:   r.result.IssueID,
		UserID:    op.UserID,
		Rule:      string(r.result.Rule),
		Operation: op.Name,
		EventID:   op.EventID,
		Status:    models.SyncStatusOK,
		CreatedAt: r.c.now(),
	}
	if err != nil {
		entry.Status = models.SyncStatusFailed
		entry.Error = err.Error()
	}
	if recErr := r.c.history.RecordSync(ctx, entry); recErr != nil {
		r.logger.Warn("failed to record sync history", "err", recErr)
	}
}

// finish writes the event reference back when it changed.
func (r *run) finish(ctx context.Context) {
	r.result.EventID = r.eventID
	r.result.EventIDChanged = r.eventID != r.change.After.EventID
	if !r.result.EventIDChanged || r.c.refs == nil {
		return
	}
	if err := r.c.refs.SetEventID(ctx, r.result.IssueID, r.eventID); err != nil {
		r.logger.Error("failed to store event id", "event", r.eventID, "err", err)
		if r.result.Err == nil {
			r.result.Err = err
		}
	}
}

// Failed reports whether a required operation failed.
func (res Result) Failed() bool {
	return res.Err != nil
}

// ErrorKind returns the kind of the result error, or "" when there is none
// or it is not a SyncError.
func (res Result) ErrorKind() ErrorKind {
	var se *SyncError
	if errors.As(res.Err, &se) {
		return se.Kind
	}
	return ""
}
