// ABOUTME: Pure classification of an issue change into one event lifecycle rule
// ABOUTME: Also derives the minimal event patch for in-place changes
package sync

import (
	"time"

	"github.com/harperreed/issuecal/models"
	"github.com/harperreed/issuecal/period"
)

// Rule names the transition chosen for one change notification.
type Rule string

const (
	RuleIgnored         Rule = "ignored"
	RuleNoAssignee      Rule = "no_assignee"
	RuleAssigneeChanged Rule = "assignee_changed"
	RuleRemoved         Rule = "removed"
	RuleStartCleared    Rule = "start_cleared"
	RuleStartSet        Rule = "start_set"
	RuleShapeChanged    Rule = "shape_changed"
	RulePatch           Rule = "patch"
	RuleNoop            Rule = "noop"
)

// Classify picks the rule for change, in precedence order. After.EventID must
// hold the currently stored event reference.
func Classify(change models.IssueChange) Rule {
	before, after := change.Before, change.After

	if after.ID == models.DraftIssueID || (after.ID == "" && before.ID == models.DraftIssueID) {
		return RuleIgnored
	}

	if change.Removed {
		if after.HasEvent() && (after.HasAssignee() || before.HasAssignee()) {
			return RuleRemoved
		}
		return RuleNoop
	}

	if !before.HasAssignee() && !after.HasAssignee() {
		return RuleNoAssignee
	}

	// A newly reported issue may arrive with the assignee already in Before.
	if change.Created && after.HasAssignee() && !after.HasEvent() {
		return RuleAssigneeChanged
	}

	if before.AssigneeID() != after.AssigneeID() {
		return RuleAssigneeChanged
	}

	startChanged := !sameInstant(before.Start, after.Start)
	if startChanged && !after.HasStart() && after.HasEvent() {
		return RuleStartCleared
	}
	if startChanged && after.HasStart() && !after.HasEvent() {
		return RuleStartSet
	}

	if !after.HasEvent() || !after.HasStart() {
		return RuleNoop
	}

	if before.HasStart() && scheduleKind(before) != scheduleKind(after) {
		return RuleShapeChanged
	}

	if BuildEventPatch(before, after).IsEmpty() {
		return RuleNoop
	}
	return RulePatch
}

// BuildEventPatch returns only the event fields that differ between the two
// snapshots. after must have a start time for schedule changes to be included.
func BuildEventPatch(before, after models.Issue) *models.EventPatch {
	patch := &models.EventPatch{}

	if after.HasStart() && (!sameInstant(before.Start, after.Start) || durationMinutes(before) != durationMinutes(after)) {
		times := &models.CalendarEvent{}
		applySchedule(times, after)
		patch.Times = times
	}

	beforeReminder, _ := reminderFor(before.RemindBefore)
	afterReminder, _ := reminderFor(after.RemindBefore)
	if *beforeReminder != *afterReminder {
		patch.Reminder = afterReminder
	}

	if before.Summary != after.Summary {
		summary := after.Summary
		patch.Summary = &summary
	}

	resolutionChanged := before.Resolved != after.Resolved
	if resolutionChanged || before.Description != after.Description {
		description := eventDescription(after)
		patch.Description = &description
	}
	if resolutionChanged {
		patch.ColorID = colorFor(after.Resolved)
	}

	return patch
}

func sameInstant(a, b *time.Time) bool {
	aSet := a != nil && !a.IsZero()
	bSet := b != nil && !b.IsZero()
	if aSet != bSet {
		return false
	}
	return !aSet || a.Equal(*b)
}

// durationMinutes is the effective duration, 0 when absent or unparseable.
func durationMinutes(issue models.Issue) int {
	if !issue.HasDuration() {
		return 0
	}
	minutes, ok := period.Parse(issue.Duration)
	if !ok {
		return 0
	}
	return minutes
}
