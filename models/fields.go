// ABOUTME: Tracker field-name mapping for decoding issue snapshots from webhook payloads
// ABOUTME: Lets deployments rename start, duration, reminder and resolution fields
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// FieldNames maps schedule fields to the names the tracker uses.
// Trackers disagree on naming (e.g. "Duration" vs "Estimation").
type FieldNames struct {
	Start        string `yaml:"start" json:"start"`
	Duration     string `yaml:"duration" json:"duration"`
	RemindBefore string `yaml:"remind_before" json:"remind_before"`
	Resolved     string `yaml:"resolved" json:"resolved"`
}

func DefaultFieldNames() FieldNames {
	return FieldNames{
		Start:        "start",
		Duration:     "duration",
		RemindBefore: "remind_before",
		Resolved:     "resolved",
	}
}

// WithDefaults fills empty names.
func (f FieldNames) WithDefaults() FieldNames {
	def := DefaultFieldNames()
	if f.Start == "" {
		f.Start = def.Start
	}
	if f.Duration == "" {
		f.Duration = def.Duration
	}
	if f.RemindBefore == "" {
		f.RemindBefore = def.RemindBefore
	}
	if f.Resolved == "" {
		f.Resolved = def.Resolved
	}
	return f
}

// DecodeChange decodes {"before":{...},"after":{...},"removed":..,"created":..}
// using the mapped field names for both snapshots.
func (f FieldNames) DecodeChange(data []byte) (IssueChange, error) {
	var raw struct {
		Before  json.RawMessage `json:"before"`
		After   json.RawMessage `json:"after"`
		Removed bool            `json:"removed"`
		Created bool            `json:"created"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return IssueChange{}, fmt.Errorf("failed to decode change: %w", err)
	}

	change := IssueChange{Removed: raw.Removed, Created: raw.Created}
	var err error
	if change.Before, err = f.DecodeIssue(raw.Before); err != nil {
		return IssueChange{}, fmt.Errorf("before: %w", err)
	}
	if change.After, err = f.DecodeIssue(raw.After); err != nil {
		return IssueChange{}, fmt.Errorf("after: %w", err)
	}
	return change, nil
}

// DecodeIssue decodes one issue snapshot. Empty or null input is the zero
// Issue. Start accepts RFC 3339 text or epoch milliseconds; resolved accepts
// a bool or any non-null resolution timestamp.
func (f FieldNames) DecodeIssue(data []byte) (Issue, error) {
	var issue Issue
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return issue, nil
	}

	f = f.WithDefaults()
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return issue, fmt.Errorf("failed to decode issue: %w", err)
	}

	var common struct {
		ID          string   `json:"id"`
		Summary     string   `json:"summary"`
		Description string   `json:"description"`
		Assignee    *UserRef `json:"assignee"`
		EventID     string   `json:"event_id"`
	}
	if err := json.Unmarshal(data, &common); err != nil {
		return issue, fmt.Errorf("failed to decode issue: %w", err)
	}
	issue.ID = common.ID
	issue.Summary = common.Summary
	issue.Description = common.Description
	issue.Assignee = common.Assignee
	issue.EventID = common.EventID

	start, err := decodeInstant(fields[f.Start])
	if err != nil {
		return issue, fmt.Errorf("field %s: %w", f.Start, err)
	}
	issue.Start = start

	if issue.Duration, err = decodeString(fields[f.Duration]); err != nil {
		return issue, fmt.Errorf("field %s: %w", f.Duration, err)
	}
	if issue.RemindBefore, err = decodeString(fields[f.RemindBefore]); err != nil {
		return issue, fmt.Errorf("field %s: %w", f.RemindBefore, err)
	}
	issue.Resolved = decodeResolved(fields[f.Resolved])
	return issue, nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func decodeString(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

func decodeInstant(raw json.RawMessage) (*time.Time, error) {
	if isNull(raw) {
		return nil, nil
	}
	var millis int64
	if err := json.Unmarshal(raw, &millis); err == nil {
		t := time.UnixMilli(millis).UTC()
		return &t, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, text)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func decodeResolved(raw json.RawMessage) bool {
	if isNull(raw) {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	return true
}
