package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/issuecal/models"
)

func ptrTime(t time.Time) *time.Time { return &t }

func baseIssue() models.Issue {
	return models.Issue{
		ID:          "PROJ-12",
		Summary:     "Write release notes",
		Description: "Cover the new importer",
		Assignee:    &models.UserRef{ID: "u-alice", Login: "alice"},
		Start:       ptrTime(time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)),
	}
}

func TestBuildEventPayloadMissingStart(t *testing.T) {
	issue := baseIssue()
	issue.Start = nil

	_, err := BuildEventPayload(issue)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfiguration))
	assert.True(t, IsCode(err, CodeMissingStartTime))
}

func TestBuildEventPayloadAllDay(t *testing.T) {
	event, err := BuildEventPayload(baseIssue())
	require.NoError(t, err)

	assert.Equal(t, models.KindAllDay, event.Kind)
	assert.Equal(t, "2024-03-05", event.Date)
	assert.True(t, event.Start.IsZero())
	assert.Equal(t, "PROJ-12\nCover the new importer", event.Description)
	assert.Equal(t, "Write release notes", event.Summary)
	require.NotNil(t, event.Reminder)
	assert.True(t, event.Reminder.Disabled)
	require.NotNil(t, event.ColorID)
	assert.Equal(t, "", *event.ColorID)
}

func TestBuildEventPayloadAllDayUsesUTCDate(t *testing.T) {
	issue := baseIssue()
	tz := time.FixedZone("UTC+10", 10*3600)
	issue.Start = ptrTime(time.Date(2024, 3, 6, 8, 0, 0, 0, tz))

	event, err := BuildEventPayload(issue)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", event.Date)
}

func TestBuildEventPayloadTimed(t *testing.T) {
	issue := baseIssue()
	issue.Duration = "PT1H30M"
	issue.RemindBefore = "PT15M"
	issue.Resolved = true

	event, err := BuildEventPayload(issue)
	require.NoError(t, err)

	assert.Equal(t, models.KindTimed, event.Kind)
	assert.Equal(t, time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC), event.Start)
	assert.Equal(t, time.Date(2024, 3, 5, 16, 0, 0, 0, time.UTC), event.End)
	assert.Equal(t, "UTC", event.TimeZone)
	assert.False(t, event.LongDuration)
	assert.Equal(t, &models.Reminder{Minutes: 15}, event.Reminder)
	assert.Equal(t, models.ResolvedColorID, *event.ColorID)
}

func TestBuildEventPayloadLongDurationFlag(t *testing.T) {
	issue := baseIssue()
	issue.Duration = "P8D"

	event, err := BuildEventPayload(issue)
	require.NoError(t, err)
	assert.Equal(t, models.KindTimed, event.Kind)
	assert.True(t, event.LongDuration)
}

func TestBuildEventPayloadUnparseableDurationIsAllDay(t *testing.T) {
	issue := baseIssue()
	issue.Duration = "three hours"

	event, err := BuildEventPayload(issue)
	require.NoError(t, err)
	assert.Equal(t, models.KindAllDay, event.Kind)
}

func TestBuildEventPayloadReminderClamp(t *testing.T) {
	issue := baseIssue()
	issue.RemindBefore = "P5W"

	event, err := BuildEventPayload(issue)
	require.NoError(t, err)
	assert.Equal(t, models.MaxReminderMinutes, event.Reminder.Minutes)
	assert.True(t, event.ReminderClamped)
}

func TestBuildEventPayloadZeroReminderDisables(t *testing.T) {
	for _, remind := range []string{"", "PT0S", "P0D", "garbage"} {
		issue := baseIssue()
		issue.RemindBefore = remind

		event, err := BuildEventPayload(issue)
		require.NoError(t, err)
		assert.True(t, event.Reminder.Disabled, "remind before %q", remind)
		assert.False(t, event.ReminderClamped)
	}
}

func TestBuildEventPayloadEmptyDescription(t *testing.T) {
	issue := baseIssue()
	issue.Description = ""

	event, err := BuildEventPayload(issue)
	require.NoError(t, err)
	assert.Equal(t, "PROJ-12\n", event.Description)
}
