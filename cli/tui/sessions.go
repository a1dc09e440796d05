package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/sluice/ledger"
)

// SessionsModel is a Bubble Tea model for the sessions list view.
type SessionsModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewSessionsModel creates a new sessions model.
func NewSessionsModel(viewType string, data any) SessionsModel {
	return SessionsModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m SessionsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m SessionsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m SessionsModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "sessions_list":
		content = m.renderSessionsList()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m SessionsModel) renderSessionsList() string {
	data, ok := m.data.([]*ledger.SessionRecord)
	if !ok {
		return "Invalid data type for sessions_list"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Sessions"))
	b.WriteString("\n\n")

	var completed, failed, cancelled int
	for _, rec := range data {
		switch rec.State {
		case "completed":
			completed++
		case "failed":
			failed++
		case "cancelled":
			cancelled++
		}
	}

	boxes := []string{
		m.renderStatBox("Total", len(data), highlightColor),
		m.renderStatBox("Completed", completed, successColor),
		m.renderStatBox("Failed", failed, errorColor),
		m.renderStatBox("Cancelled", cancelled, warningColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n\n")

	for _, rec := range data {
		state := StateStyle(rec.State).Render(fmt.Sprintf("%-9s", rec.State))
		line := fmt.Sprintf("%s  %s  %s  %s",
			ValueStyle.Render(rec.SessionID),
			state,
			MutedStyle.Render(rec.Day),
			MutedStyle.Render(fmt.Sprintf("%dms", rec.DurationMs)))
		b.WriteString(line)
		b.WriteString("\n")
	}
	if len(data) == 0 {
		b.WriteString(MutedStyle.Render("(no sessions)"))
		b.WriteString("\n")
	}

	return b.String()
}

func (m SessionsModel) renderStatBox(label string, value int, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// RunSessionsTUI runs the sessions TUI.
func RunSessionsTUI(viewType string, data any) error {
	model := NewSessionsModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
