package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/justapithecus/sluice/types"
)

// Messages delivered to the stream view from session callbacks via
// Program.Send. The session pump runs outside the Bubble Tea loop.

// StreamUpdateMsg carries one reconciled update.
type StreamUpdateMsg struct {
	Update types.Update
}

// StreamStateMsg carries a session state change. A terminal state ends
// the program.
type StreamStateMsg struct {
	State types.SessionState
	Err   error
}

// StreamArtifactMsg reports the running count of collected artifact
// references.
type StreamArtifactMsg struct {
	Collected int
}

// StreamModel is a Bubble Tea model for a live or replayed stream.
type StreamModel struct {
	sessionID string
	spinner   spinner.Model

	state      types.SessionState
	err        error
	text       string
	prevText   string
	boundaries int
	artifacts  int

	width    int
	height   int
	quitting bool
}

// NewStreamModel creates a stream model for one session.
func NewStreamModel(sessionID string) StreamModel {
	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(WarningStyle),
	)
	return StreamModel{
		sessionID: sessionID,
		spinner:   sp,
		state:     types.SessionStreaming,
	}
}

// Quit reports whether the user quit the view before the stream ended.
// The caller uses this to cancel the underlying session.
func (m StreamModel) Quit() bool {
	return m.quitting
}

// Init implements tea.Model.
func (m StreamModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m StreamModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
		return m, nil

	case StreamUpdateMsg:
		// Updates carry cumulative text; a non-extending update is a
		// message boundary.
		u := msg.Update
		if m.text != "" && u.Text != m.text && !strings.HasPrefix(u.Text, m.text) {
			m.boundaries++
			m.prevText = m.text
		}
		m.text = u.Text
		return m, nil

	case StreamArtifactMsg:
		m.artifacts = msg.Collected
		return m, nil

	case StreamStateMsg:
		m.state = msg.State
		m.err = msg.Err
		if m.state.IsTerminal() {
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		if m.state.IsTerminal() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m StreamModel) View() string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render("Session " + m.sessionID))
	b.WriteString("\n")

	stateLabel := StateStyle(m.state.String()).Render(m.state.String())
	if m.state.IsTerminal() {
		b.WriteString(stateLabel)
	} else {
		b.WriteString(m.spinner.View() + " " + stateLabel)
	}
	if m.err != nil {
		b.WriteString("  " + ErrorStyle.Render(m.err.Error()))
	}
	b.WriteString("\n\n")

	if m.prevText != "" {
		b.WriteString(MutedStyle.Render(m.prevText))
		b.WriteString("\n\n")
	}
	if m.text != "" {
		b.WriteString(ValueStyle.Render(m.text))
		b.WriteString("\n")
	}

	var status []string
	if m.boundaries > 0 {
		status = append(status, fmt.Sprintf("%d boundaries", m.boundaries))
	}
	if m.artifacts > 0 {
		status = append(status, fmt.Sprintf("%d artifacts", m.artifacts))
	}
	if len(status) > 0 {
		b.WriteString("\n")
		b.WriteString(MutedStyle.Render(strings.Join(status, "  ")))
		b.WriteString("\n")
	}

	help := HelpStyle.Render("Press q or Ctrl+C to cancel")
	if m.state.IsTerminal() {
		help = ""
	}
	return b.String() + help
}

// NewStreamProgram creates the Bubble Tea program for a live stream view.
// The caller feeds it with Program.Send from session callbacks and runs
// it on the main goroutine.
func NewStreamProgram(sessionID string) *tea.Program {
	return tea.NewProgram(NewStreamModel(sessionID))
}
