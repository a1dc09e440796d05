package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/sluice/capture"
)

// InspectModel is a Bubble Tea model for inspect views.
type InspectModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "inspect_capture":
		content = m.renderInspectCapture()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m InspectModel) renderInspectCapture() string {
	data, ok := m.data.(*capture.Summary)
	if !ok {
		return "Invalid data type for inspect_capture"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Capture Details"))
	b.WriteString("\n\n")

	rows := [][]string{
		{"Capture ID", data.CaptureID},
		{"Session ID", data.SessionID},
		{"Endpoint", data.Endpoint},
		{"Message", truncate(data.Message, 60)},
		{"Started At", data.StartedAt},
		{"End Reason", data.EndReason},
	}
	if data.EndError != "" {
		rows = append(rows, []string{"End Error", data.EndError})
	}
	rows = append(rows,
		[]string{"Chunks", fmt.Sprintf("%d", data.Chunks)},
		[]string{"Bytes", fmt.Sprintf("%d", data.Bytes)},
		[]string{"Duration", fmt.Sprintf("%dms", data.DurationMs)},
		[]string{"Events", fmt.Sprintf("%d", data.Events)},
		[]string{"Decode Errors", fmt.Sprintf("%d", data.DecodeErrors)},
		[]string{"Updates", fmt.Sprintf("%d", data.Updates)},
		[]string{"Boundaries", fmt.Sprintf("%d", data.Boundaries)},
	)

	for _, row := range rows {
		label := LabelStyle.Render(row[0] + ":")
		value := row[1]
		switch row[0] {
		case "End Reason":
			value = endReasonStyle(data.EndReason).Render(value)
		case "End Error":
			value = ErrorStyle.Render(value)
		case "Decode Errors":
			if data.DecodeErrors > 0 {
				value = WarningStyle.Render(value)
			} else {
				value = ValueStyle.Render(value)
			}
		default:
			value = ValueStyle.Render(value)
		}
		b.WriteString(fmt.Sprintf("%s %s\n", label, value))
	}

	if data.FinalText != "" {
		b.WriteString("\n")
		b.WriteString(LabelStyle.Render("Final Text:"))
		b.WriteString("\n")
		b.WriteString(ValueStyle.Render(truncate(data.FinalText, 500)))
		b.WriteString("\n")
	}

	if len(data.Artifacts) > 0 {
		b.WriteString("\n")
		b.WriteString(LabelStyle.Render("Artifacts:\n"))
		for _, art := range data.Artifacts {
			desc := art.Kind
			if art.Name != "" {
				desc += " " + art.Name
			}
			if art.MediaType != "" {
				desc += fmt.Sprintf(" (%s)", art.MediaType)
			}
			if art.SizeBytes > 0 {
				desc += fmt.Sprintf(" %d bytes", art.SizeBytes)
			}
			if art.URL != "" {
				desc += " " + art.URL
			}
			b.WriteString(fmt.Sprintf("  • %s\n", ValueStyle.Render(desc)))
		}
	}

	return BoxStyle.Render(b.String())
}

// endReasonStyle maps a capture end reason to a state style.
func endReasonStyle(reason string) lipgloss.Style {
	switch reason {
	case capture.EndReasonTerminal, capture.EndReasonEOF:
		return SuccessStyle
	case capture.EndReasonCancelled, capture.EndReasonTruncated:
		return WarningStyle
	case capture.EndReasonError:
		return ErrorStyle
	default:
		return ValueStyle
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for fallback).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
