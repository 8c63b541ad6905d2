// ABOUTME: Event data builder turning an issue snapshot into a canonical calendar event
// ABOUTME: Decides all-day vs timed shape, reminder override and description layout
package sync

import (
	"fmt"
	"time"

	"github.com/harperreed/issuecal/models"
	"github.com/harperreed/issuecal/period"
)

const (
	dateLayout      = "2006-01-02"
	eventTimeZone   = "UTC"
	longEventLength = period.MinutesPerWeek
)

// BuildEventPayload builds the full event for an issue. It fails only when the
// issue has no start time, since an unscheduled item has nothing to put on a calendar.
func BuildEventPayload(issue models.Issue) (*models.CalendarEvent, error) {
	if !issue.HasStart() {
		return nil, configurationError(CodeMissingStartTime, "issue %s has no start time", issue.ID)
	}

	event := &models.CalendarEvent{
		Summary:     issue.Summary,
		Description: eventDescription(issue),
		ColorID:     colorFor(issue.Resolved),
	}

	applySchedule(event, issue)
	event.Reminder, event.ReminderClamped = reminderFor(issue.RemindBefore)

	return event, nil
}

// applySchedule sets the all-day or timed shape. A duration that does not parse
// is treated as absent.
func applySchedule(event *models.CalendarEvent, issue models.Issue) {
	start := issue.Start.UTC()

	minutes, ok := period.Parse(issue.Duration)
	if !issue.HasDuration() || !ok || minutes == 0 {
		event.Kind = models.KindAllDay
		event.Date = start.Format(dateLayout)
		return
	}

	event.Kind = models.KindTimed
	event.Start = start
	event.End = start.Add(time.Duration(minutes) * time.Minute)
	event.TimeZone = eventTimeZone
	event.LongDuration = minutes > longEventLength
}

// reminderFor parses the reminder lead field. Anything that is not a positive
// period disables reminders explicitly.
func reminderFor(remindBefore string) (*models.Reminder, bool) {
	minutes, ok := period.Parse(remindBefore)
	if !ok || minutes <= 0 {
		return &models.Reminder{Disabled: true}, false
	}
	if minutes > models.MaxReminderMinutes {
		return &models.Reminder{Minutes: models.MaxReminderMinutes}, true
	}
	return &models.Reminder{Minutes: minutes}, false
}

func eventDescription(issue models.Issue) string {
	return fmt.Sprintf("%s\n%s", issue.ID, issue.Description)
}

func colorFor(resolved bool) *string {
	color := ""
	if resolved {
		color = models.ResolvedColorID
	}
	return &color
}

// scheduleKind reports the shape an issue would map to, ignoring the start time.
func scheduleKind(issue models.Issue) models.EventKind {
	minutes, ok := period.Parse(issue.Duration)
	if !issue.HasDuration() || !ok || minutes == 0 {
		return models.KindAllDay
	}
	return models.KindTimed
}
