// ABOUTME: Tests for event references and the sync history log
// ABOUTME: Uses a temp SQLite database per test
package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/issuecal/models"
)

func TestEventRefStore(t *testing.T) {
	store := NewEventRefStore(openTestDB(t))
	ctx := context.Background()

	id, err := store.EventID(ctx, "PROJ-1")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, store.SetEventID(ctx, "PROJ-1", "evt-1"))
	require.NoError(t, store.SetEventID(ctx, "PROJ-1", "evt-2"))
	id, _ = store.EventID(ctx, "PROJ-1")
	assert.Equal(t, "evt-2", id)

	require.NoError(t, store.SetEventID(ctx, "PROJ-1", ""))
	id, _ = store.EventID(ctx, "PROJ-1")
	assert.Empty(t, id)
}

func TestSyncLogRecordAndList(t *testing.T) {
	log := NewSyncLog(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	entries := []models.SyncLogEntry{
		{RunID: "run-1", IssueID: "PROJ-1", UserID: "alice", Rule: "start_set", Operation: "create", EventID: "evt-1", Status: models.SyncStatusOK, CreatedAt: base},
		{RunID: "run-2", IssueID: "PROJ-1", UserID: "alice", Rule: "patch", Operation: "patch", EventID: "evt-1", Status: models.SyncStatusFailed, Error: "api: rejected", CreatedAt: base.Add(time.Minute)},
		{RunID: "run-3", IssueID: "PROJ-2", UserID: "bob", Rule: "start_set", Operation: "create", Status: models.SyncStatusOK, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, log.RecordSync(ctx, e))
	}

	all, err := log.List(ctx, SyncLogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "run-3", all[0].RunID)
	_, err = uuid.Parse(all[0].ID)
	assert.NoError(t, err)

	issue, err := log.List(ctx, SyncLogFilter{IssueID: "PROJ-1"})
	require.NoError(t, err)
	require.Len(t, issue, 2)
	assert.Equal(t, "api: rejected", issue[0].Error)
	assert.Equal(t, "evt-1", issue[1].EventID)

	failed, err := log.List(ctx, SyncLogFilter{Status: models.SyncStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "run-2", failed[0].RunID)

	limited, err := log.List(ctx, SyncLogFilter{UserID: "alice", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
