// Package tui renders the live download table of `rgsx watch`.
package tui

import (
	"fmt"
	"strings"
	"time"

	"rgsx/internal/history"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// RefreshInterval is how often the table re-reads the history
const RefreshInterval = 500 * time.Millisecond

// Source feeds the watch view
type Source struct {
	Snapshot func() []history.Entry
	// Cancel stops a task; nil disables the cancel key
	Cancel func(taskID string) error
}

type tickMsg time.Time

// keyMap satisfies help.KeyMap
type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Cancel key.Binding
	Help   key.Binding
	Quit   key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Cancel, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down},
		{k.Cancel},
		{k.Help, k.Quit},
	}
}

var defaultKeys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Cancel: key.NewBinding(
		key.WithKeys("c", "x"),
		key.WithHelp("c", "cancel download"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "toggle help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

type watchModel struct {
	source  Source
	table   table.Model
	keys    keyMap
	help    help.Model
	entries []history.Entry
	status  string
	width   int
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")).Padding(0, 1)
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	baseStyle   = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240"))
)

func newWatchModel(src Source) watchModel {
	columns := []table.Column{
		{Title: "Game", Width: 40},
		{Title: "Platform", Width: 18},
		{Title: "Status", Width: 12},
		{Title: "Progress", Width: 9},
		{Title: "Speed", Width: 11},
		{Title: "Via", Width: 4},
		{Title: "Message", Width: 40},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	keys := defaultKeys
	if src.Cancel == nil {
		keys.Cancel.SetEnabled(false)
	}
	m := watchModel{source: src, table: t, keys: keys, help: help.New()}
	m.refresh()
	return m
}

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Init() tea.Cmd {
	return tick()
}

func (m *watchModel) refresh() {
	entries := m.source.Snapshot()
	// Newest first
	m.entries = make([]history.Entry, len(entries))
	for i, e := range entries {
		m.entries[len(entries)-1-i] = e
	}

	rows := make([]table.Row, 0, len(m.entries))
	for _, e := range m.entries {
		rows = append(rows, table.Row{
			e.GameName,
			e.Platform,
			string(e.Status),
			fmt.Sprintf("%d%%", e.Progress),
			formatSpeed(e),
			e.Provider,
			e.Message,
		})
	}
	m.table.SetRows(rows)
}

func formatSpeed(e history.Entry) string {
	if e.Status != history.StatusDownloading || e.Speed <= 0 {
		return ""
	}
	return fmt.Sprintf("%.2f MB/s", e.Speed)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		if h := msg.Height - 6; h > 3 {
			m.table.SetHeight(h)
		}

	case tickMsg:
		m.refresh()
		return m, tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Cancel):
			m.status = m.cancelSelected()
			return m, nil
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		}
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m watchModel) cancelSelected() string {
	if m.source.Cancel == nil {
		return "Cancel is not available here"
	}
	idx := m.table.Cursor()
	if idx < 0 || idx >= len(m.entries) {
		return ""
	}
	e := m.entries[idx]
	if !e.Status.Active() {
		return fmt.Sprintf("%s is not running", e.GameName)
	}
	if err := m.source.Cancel(e.TaskID); err != nil {
		return fmt.Sprintf("Cancel failed: %v", err)
	}
	return fmt.Sprintf("Cancel requested for %s", e.GameName)
}

func (m watchModel) View() string {
	active := 0
	for _, e := range m.entries {
		if e.Status.Active() {
			active++
		}
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("RGSX downloads: %d active, %d total", active, len(m.entries))))
	b.WriteString("\n")
	b.WriteString(baseStyle.Render(m.table.View()))
	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(m.status)
		b.WriteString("\n")
	}
	b.WriteString(footerStyle.Render(m.help.View(m.keys)))
	return b.String()
}

// NewWatchProgram builds the full-screen program for `rgsx watch`
func NewWatchProgram(src Source) *tea.Program {
	return tea.NewProgram(newWatchModel(src), tea.WithAltScreen())
}
