// ABOUTME: Full-screen dashboard command
// ABOUTME: Feeds the bubbletea model with user token states and recent sync history
package cli

import (
	"context"
	"flag"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/harperreed/issuecal/db"
	"github.com/harperreed/issuecal/tui"
)

// DashboardCommand launches the interactive dashboard.
func DashboardCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("dashboard", flag.ExitOnError)
	limit := fs.Int("limit", 200, "History entries to load")
	_ = fs.Parse(args)

	p := tea.NewProgram(tui.NewModel(app.snapshotLoader(*limit)), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return nil
}

func (a *App) snapshotLoader(limit int) tui.Loader {
	return func(ctx context.Context, issueID string) (tui.Snapshot, error) {
		users, err := a.userStatuses(ctx)
		if err != nil {
			return tui.Snapshot{}, err
		}
		history, err := a.History.List(ctx, db.SyncLogFilter{IssueID: issueID, Limit: limit})
		if err != nil {
			return tui.Snapshot{}, fmt.Errorf("failed to read sync history: %w", err)
		}
		return tui.Snapshot{Users: users, History: history}, nil
	}
}

func (a *App) userStatuses(ctx context.Context) ([]tui.UserStatus, error) {
	ids, err := a.Credentials.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	out := make([]tui.UserStatus, 0, len(ids))
	for _, id := range ids {
		creds, err := a.Credentials.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials for %s: %w", id, err)
		}
		state, err := a.Tokens.State(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, tui.UserStatus{
			UserID:     id,
			CalendarID: creds.CalendarID,
			Transport:  transportOf(creds),
			State:      string(state),
			Expiry:     creds.TokenExpiry,
		})
	}
	return out, nil
}
