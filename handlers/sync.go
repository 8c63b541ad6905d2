// ABOUTME: Calendar sync MCP tool handlers
// ABOUTME: Implements apply_issue_change, list_calendars, credential_status and sync_history tools
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/issuecal/db"
	"github.com/harperreed/issuecal/models"
	isync "github.com/harperreed/issuecal/sync"
)

// Engine is the controller surface the tools drive.
type Engine interface {
	HandleChange(ctx context.Context, change models.IssueChange) isync.Result
	ListCalendars(ctx context.Context, userID string) ([]models.CalendarInfo, error)
}

// TokenStates reports a user's token state.
type TokenStates interface {
	State(ctx context.Context, userID string) (isync.TokenState, error)
}

// HistoryLister reads recorded sync operations.
type HistoryLister interface {
	List(ctx context.Context, filter db.SyncLogFilter) ([]models.SyncLogEntry, error)
}

type SyncHandlers struct {
	engine  Engine
	tokens  TokenStates
	creds   isync.CredentialStore
	history HistoryLister
	fields  models.FieldNames
}

func NewSyncHandlers(engine Engine, tokens TokenStates, creds isync.CredentialStore, history HistoryLister, fields models.FieldNames) *SyncHandlers {
	return &SyncHandlers{
		engine:  engine,
		tokens:  tokens,
		creds:   creds,
		history: history,
		fields:  fields.WithDefaults(),
	}
}

type ApplyIssueChangeInput struct {
	Change string `json:"change" jsonschema:"Change notification JSON: {before, after, removed, created} with issue snapshots"`
}

type OperationOutput struct {
	Name       string `json:"name"`
	UserID     string `json:"user_id"`
	EventID    string `json:"event_id,omitempty"`
	BestEffort bool   `json:"best_effort,omitempty"`
	Error      string `json:"error,omitempty"`
}

type ApplyIssueChangeOutput struct {
	RunID          string            `json:"run_id"`
	IssueID        string            `json:"issue_id"`
	Rule           string            `json:"rule"`
	EventID        string            `json:"event_id,omitempty"`
	EventIDChanged bool              `json:"event_id_changed"`
	Operations     []OperationOutput `json:"operations"`
	Error          string            `json:"error,omitempty"`
	ErrorKind      string            `json:"error_kind,omitempty"`
	ErrorCode      string            `json:"error_code,omitempty"`
}

// ApplyIssueChange runs one change through the controller. Sync failures are
// reported in the output rather than as a tool error.
func (h *SyncHandlers) ApplyIssueChange(ctx context.Context, _ *mcp.CallToolRequest, input ApplyIssueChangeInput) (*mcp.CallToolResult, ApplyIssueChangeOutput, error) {
	if input.Change == "" {
		return nil, ApplyIssueChangeOutput{}, fmt.Errorf("change is required")
	}

	change, err := h.fields.DecodeChange([]byte(input.Change))
	if err != nil {
		return nil, ApplyIssueChangeOutput{}, err
	}

	return nil, resultToOutput(h.engine.HandleChange(ctx, change)), nil
}

func resultToOutput(res isync.Result) ApplyIssueChangeOutput {
	out := ApplyIssueChangeOutput{
		RunID:          res.RunID,
		IssueID:        res.IssueID,
		Rule:           string(res.Rule),
		EventID:        res.EventID,
		EventIDChanged: res.EventIDChanged,
		Operations:     make([]OperationOutput, 0, len(res.Operations)),
	}
	for _, op := range res.Operations {
		o := OperationOutput{Name: op.Name, UserID: op.UserID, EventID: op.EventID, BestEffort: op.BestEffort}
		if op.Err != nil {
			o.Error = op.Err.Error()
		}
		out.Operations = append(out.Operations, o)
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
		var se *isync.SyncError
		if errors.As(res.Err, &se) {
			out.ErrorKind = string(se.Kind)
			out.ErrorCode = string(se.Code)
		}
	}
	return out
}

type UserInput struct {
	UserID string `json:"user_id" jsonschema:"Tracker user ID (required)"`
}

type ListCalendarsOutput struct {
	Calendars []models.CalendarInfo `json:"calendars"`
}

func (h *SyncHandlers) ListCalendars(ctx context.Context, _ *mcp.CallToolRequest, input UserInput) (*mcp.CallToolResult, ListCalendarsOutput, error) {
	if input.UserID == "" {
		return nil, ListCalendarsOutput{}, fmt.Errorf("user_id is required")
	}

	calendars, err := h.engine.ListCalendars(ctx, input.UserID)
	if err != nil {
		return nil, ListCalendarsOutput{}, fmt.Errorf("failed to list calendars: %w", err)
	}
	if calendars == nil {
		calendars = []models.CalendarInfo{}
	}
	return nil, ListCalendarsOutput{Calendars: calendars}, nil
}

type CredentialStatusOutput struct {
	UserID      string `json:"user_id"`
	Token       string `json:"token"`
	TokenExpiry string `json:"token_expiry,omitempty"`
	CalendarID  string `json:"calendar_id,omitempty"`
	Transport   string `json:"transport"`
}

// CredentialStatus never exposes token or key values.
func (h *SyncHandlers) CredentialStatus(ctx context.Context, _ *mcp.CallToolRequest, input UserInput) (*mcp.CallToolResult, CredentialStatusOutput, error) {
	if input.UserID == "" {
		return nil, CredentialStatusOutput{}, fmt.Errorf("user_id is required")
	}

	creds, err := h.creds.Get(ctx, input.UserID)
	if err != nil {
		return nil, CredentialStatusOutput{}, fmt.Errorf("failed to read credentials: %w", err)
	}
	state, err := h.tokens.State(ctx, input.UserID)
	if err != nil {
		return nil, CredentialStatusOutput{}, fmt.Errorf("failed to read token state: %w", err)
	}

	out := CredentialStatusOutput{
		UserID:     input.UserID,
		Token:      string(state),
		CalendarID: creds.CalendarID,
		Transport:  transportName(creds),
	}
	if !creds.TokenExpiry.IsZero() {
		out.TokenExpiry = creds.TokenExpiry.UTC().Format(time.RFC3339)
	}
	return nil, out, nil
}

func transportName(creds *models.Credentials) string {
	switch {
	case creds.UsesRelay():
		return "relay"
	case creds.RelayURL != "" || creds.RelayAPIKey != "":
		return "relay (incomplete)"
	default:
		return "direct"
	}
}

type SyncHistoryInput struct {
	IssueID string `json:"issue_id,omitempty" jsonschema:"Filter by issue ID"`
	UserID  string `json:"user_id,omitempty" jsonschema:"Filter by user ID"`
	Status  string `json:"status,omitempty" jsonschema:"Filter by status: ok or failed"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum number of entries (default 50)"`
}

type HistoryEntryOutput struct {
	RunID     string `json:"run_id"`
	IssueID   string `json:"issue_id"`
	UserID    string `json:"user_id"`
	Rule      string `json:"rule"`
	Operation string `json:"operation"`
	EventID   string `json:"event_id,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
}

type SyncHistoryOutput struct {
	Entries []HistoryEntryOutput `json:"entries"`
}

func (h *SyncHandlers) SyncHistory(ctx context.Context, _ *mcp.CallToolRequest, input SyncHistoryInput) (*mcp.CallToolResult, SyncHistoryOutput, error) {
	switch input.Status {
	case "", models.SyncStatusOK, models.SyncStatusFailed:
	default:
		return nil, SyncHistoryOutput{}, fmt.Errorf("status must be %q or %q", models.SyncStatusOK, models.SyncStatusFailed)
	}

	entries, err := h.history.List(ctx, db.SyncLogFilter{
		IssueID: input.IssueID,
		UserID:  input.UserID,
		Status:  input.Status,
		Limit:   input.Limit,
	})
	if err != nil {
		return nil, SyncHistoryOutput{}, fmt.Errorf("failed to read sync history: %w", err)
	}

	out := SyncHistoryOutput{Entries: make([]HistoryEntryOutput, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, entryToOutput(e))
	}
	return nil, out, nil
}

func entryToOutput(e models.SyncLogEntry) HistoryEntryOutput {
	return HistoryEntryOutput{
		RunID:     e.RunID,
		IssueID:   e.IssueID,
		UserID:    e.UserID,
		Rule:      e.Rule,
		Operation: e.Operation,
		EventID:   e.EventID,
		Status:    e.Status,
		Error:     e.Error,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
	}
}
