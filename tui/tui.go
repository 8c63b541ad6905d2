// ABOUTME: Terminal dashboard using bubbletea framework
// ABOUTME: Shows per-user authorization state and recent sync history with live reload
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/issuecal/models"
)

// Tab selects which table the dashboard shows.
type Tab int

const (
	TabUsers Tab = iota
	TabHistory
)

// UserStatus is one row of the users table.
type UserStatus struct {
	UserID     string
	CalendarID string
	Transport  string
	State      string
	Expiry     time.Time
}

// Snapshot is everything the dashboard renders.
type Snapshot struct {
	Users   []UserStatus
	History []models.SyncLogEntry
}

// Loader reads a fresh snapshot. issueID narrows the history when set.
type Loader func(ctx context.Context, issueID string) (Snapshot, error)

// snapshotMsg carries the result of a load.
type snapshotMsg struct {
	snap Snapshot
	err  error
	at   time.Time
}

// Model is the main bubbletea model
type Model struct {
	load Loader
	tab  Tab

	snap     Snapshot
	loadedAt time.Time
	loading  bool
	err      error

	failedOnly bool
	filtering  bool
	filter     textinput.Model

	users   table.Model
	history table.Model

	width  int
	height int
}

// NewModel creates a dashboard backed by load.
func NewModel(load Loader) Model {
	ti := textinput.New()
	ti.Placeholder = "issue id"
	ti.CharLimit = 64
	ti.Width = 30

	m := Model{
		load:   load,
		tab:    TabUsers,
		filter: ti,
		width:  100,
		height: 24,
	}
	m.users = table.New(table.WithColumns(userColumns()), table.WithFocused(true))
	m.history = table.New(table.WithColumns(historyColumns()), table.WithFocused(true))
	m.resize()
	return m
}

func (m Model) Init() tea.Cmd {
	return m.reload()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.filtering {
			return m.handleFilterKeys(msg)
		}
		return m.handleKeyPress(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil
	case snapshotMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.loadedAt = msg.at
			m.refreshRows()
		}
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	return m.renderDashboard()
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "tab":
		if m.tab == TabUsers {
			m.tab = TabHistory
		} else {
			m.tab = TabUsers
		}
		return m, nil
	case "r":
		m.loading = true
		return m, m.reload()
	case "f":
		m.failedOnly = !m.failedOnly
		m.refreshRows()
		return m, nil
	case "/":
		m.tab = TabHistory
		m.filtering = true
		return m, m.filter.Focus()
	}

	var cmd tea.Cmd
	if m.tab == TabUsers {
		m.users, cmd = m.users.Update(msg)
	} else {
		m.history, cmd = m.history.Update(msg)
	}
	return m, cmd
}

func (m Model) handleFilterKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.filtering = false
		m.filter.Blur()
		m.loading = true
		return m, m.reload()
	case "esc":
		m.filtering = false
		m.filter.Blur()
		m.filter.SetValue("")
		m.loading = true
		return m, m.reload()
	}

	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	return m, cmd
}

// reload runs the loader off the update loop.
func (m Model) reload() tea.Cmd {
	load := m.load
	issueID := m.filter.Value()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		snap, err := load(ctx, issueID)
		return snapshotMsg{snap: snap, err: err, at: time.Now()}
	}
}

func (m *Model) resize() {
	h := m.height - 10
	if h < 3 {
		h = 3
	}
	m.users.SetHeight(h)
	m.history.SetHeight(h)
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			MarginBottom(1)

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			Padding(0, 2).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(lipgloss.Color("170"))

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	validStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	staleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))
)
