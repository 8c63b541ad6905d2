// ABOUTME: Rendering for the dashboard tabs, tables and help line
// ABOUTME: Converts snapshot data into bubbles table rows
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/issuecal/models"
)

func userColumns() []table.Column {
	return []table.Column{
		{Title: "User", Width: 20},
		{Title: "Calendar", Width: 28},
		{Title: "Transport", Width: 18},
		{Title: "Token", Width: 14},
		{Title: "Expires", Width: 17},
	}
}

func historyColumns() []table.Column {
	return []table.Column{
		{Title: "Time", Width: 17},
		{Title: "Issue", Width: 12},
		{Title: "User", Width: 14},
		{Title: "Op", Width: 7},
		{Title: "Status", Width: 7},
		{Title: "Event", Width: 16},
		{Title: "Error", Width: 36},
	}
}

func (m *Model) refreshRows() {
	users := make([]table.Row, 0, len(m.snap.Users))
	for _, u := range m.snap.Users {
		expiry := "-"
		if !u.Expiry.IsZero() {
			expiry = u.Expiry.Local().Format("2006-01-02 15:04")
		}
		users = append(users, table.Row{u.UserID, dash(u.CalendarID), u.Transport, u.State, expiry})
	}
	m.users.SetRows(users)

	history := make([]table.Row, 0, len(m.snap.History))
	for _, e := range m.visibleHistory() {
		history = append(history, table.Row{
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.IssueID,
			e.UserID,
			e.Operation,
			e.Status,
			dash(e.EventID),
			strings.ReplaceAll(e.Error, "\n", " "),
		})
	}
	m.history.SetRows(history)
}

func (m Model) visibleHistory() []models.SyncLogEntry {
	if !m.failedOnly {
		return m.snap.History
	}
	var out []models.SyncLogEntry
	for _, e := range m.snap.History {
		if e.Status == models.SyncStatusFailed {
			out = append(out, e)
		}
	}
	return out
}

func (m Model) renderDashboard() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("ISSUECAL"))
	s.WriteString("\n")
	s.WriteString(m.renderSummary())
	s.WriteString("\n\n")
	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	if m.tab == TabUsers {
		s.WriteString(m.users.View())
	} else {
		if m.filtering || m.filter.Value() != "" {
			s.WriteString("Issue: " + m.filter.View() + "\n")
		}
		s.WriteString(m.history.View())
	}
	s.WriteString("\n\n")

	if m.err != nil {
		s.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		s.WriteString("\n")
	}
	s.WriteString(m.renderHelp())
	return s.String()
}

func (m Model) renderSummary() string {
	var valid, stale, unauthorized int
	for _, u := range m.snap.Users {
		switch u.State {
		case "valid":
			valid++
		case "stale":
			stale++
		default:
			unauthorized++
		}
	}
	var failed int
	for _, e := range m.snap.History {
		if e.Status == models.SyncStatusFailed {
			failed++
		}
	}

	parts := []string{
		validStyle.Render(fmt.Sprintf("%d valid", valid)),
		staleStyle.Render(fmt.Sprintf("%d stale", stale)),
		errorStyle.Render(fmt.Sprintf("%d unauthorized", unauthorized)),
		fmt.Sprintf("%d recent ops, %d failed", len(m.snap.History), failed),
	}
	line := strings.Join(parts, "  ")
	switch {
	case m.loading:
		line += helpStyle.Render("  loading...")
	case !m.loadedAt.IsZero():
		line += helpStyle.Render("  updated " + m.loadedAt.Local().Format("15:04:05"))
	}
	return line
}

func (m Model) renderTabs() string {
	tabs := []string{"Users", "History"}
	if m.failedOnly {
		tabs[1] = "History (failed)"
	}
	var rendered []string
	for i, tab := range tabs {
		if Tab(i) == m.tab {
			rendered = append(rendered, tabActiveStyle.Render(tab))
		} else {
			rendered = append(rendered, tabInactiveStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (m Model) renderHelp() string {
	if m.filtering {
		return helpStyle.Render("enter: apply  esc: clear")
	}
	return helpStyle.Render("tab: switch  ↑/↓: move  r: reload  f: failed only  /: filter issue  q: quit")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
