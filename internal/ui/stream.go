package ui

import (
	"strings"
	"time"

	"github.com/bnema/xrelay/internal/ipc"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	refreshInterval = 500 * time.Millisecond
	maxMessages     = 8
)

// StatusFunc snapshots the running stream process.
type StatusFunc func() ipc.Status

// NoticeMsg adds a line to the live view's message log.
type NoticeMsg struct {
	Text  string
	Error bool
}

type refreshMsg time.Time

// StreamModel is the Bubble Tea model behind `xrelay stream --tui`.
type StreamModel struct {
	status   StatusFunc
	spinner  spinner.Model
	current  ipc.Status
	messages []NoticeMsg
	width    int
	quitting bool
}

// NewStreamModel returns a live view polling status.
func NewStreamModel(status StatusFunc) *StreamModel {
	s := spinner.New()
	s.Spinner = spinner.Spinner{
		Frames: SpinnerDot,
		FPS:    time.Second / 10,
	}
	s.Style = SpinnerStyle

	return &StreamModel{
		status:  status,
		spinner: s,
		current: status(),
	}
}

// Init implements tea.Model
func (m *StreamModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, refresh())
}

// Update implements tea.Model
func (m *StreamModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "c":
			m.messages = nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case refreshMsg:
		m.current = m.status()
		return m, refresh()

	case NoticeMsg:
		m.messages = append(m.messages, msg)
		if len(m.messages) > maxMessages {
			m.messages = m.messages[len(m.messages)-maxMessages:]
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model
func (m *StreamModel) View() string {
	if m.quitting {
		return MutedStyle.Render("Shutting down stream...\n")
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("xrelay stream"))
	b.WriteString(" ")
	b.WriteString(m.spinner.View())
	b.WriteString("\n\n")
	b.WriteString(RenderStatus(m.current))
	b.WriteString("\n")

	if len(m.messages) > 0 {
		b.WriteString("\n")
		b.WriteString(SubheaderStyle.Render("Messages"))
		b.WriteString("\n")
		for _, n := range m.messages {
			b.WriteString("  " + formatNotice(n) + "\n")
		}
	}

	b.WriteString(CreateSeparator(40, ""))
	b.WriteString("\n")
	b.WriteString(FormatControl("q", "quit") + "   " + FormatControl("c", "clear messages"))
	b.WriteString("\n")
	return b.String()
}

func formatNotice(n NoticeMsg) string {
	if n.Error {
		return ErrorStyle.Render(IconWarning + " " + n.Text)
	}
	return InfoStyle.Render(n.Text)
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}
