package internal

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// ActivitySignals are the assistant activity flags observed from the room.
type ActivitySignals struct {
	Speaking  bool
	Listening bool
	Thinking  bool
}

// SignalsFor converts a single reported activity into signals.
func SignalsFor(a AssistantActivity) ActivitySignals {
	return ActivitySignals{
		Speaking:  a == ActivitySpeaking,
		Listening: a == ActivityListening,
		Thinking:  a == ActivityThinking,
	}
}

// Presentation is what the status line shows.
type Presentation struct {
	Connected bool
	Label     string
}

const (
	LabelSpeaking     = "Speaking…"
	LabelListening    = "Listening…"
	LabelThinking     = "Thinking…"
	LabelReady        = "Ready"
	LabelConnecting   = "Connecting…"
	LabelReconnecting = "Reconnecting…"
	LabelFailed       = "Connection lost"
	LabelDisconnected = "Disconnected"
)

// DerivePresentation picks the label shown to the cook. Activity wins over
// connection state, in the order speaking, listening, thinking.
func DerivePresentation(conn ConnectionState, s ActivitySignals) Presentation {
	p := Presentation{Connected: conn == ConnectionConnected}
	switch {
	case s.Speaking:
		p.Label = LabelSpeaking
	case s.Listening:
		p.Label = LabelListening
	case s.Thinking:
		p.Label = LabelThinking
	case p.Connected:
		p.Label = LabelReady
	default:
		p.Label = connectionLabel(conn)
	}
	return p
}

func connectionLabel(conn ConnectionState) string {
	switch conn {
	case ConnectionConnecting:
		return LabelConnecting
	case ConnectionReconnecting:
		return LabelReconnecting
	case ConnectionFailed:
		return LabelFailed
	default:
		return LabelDisconnected
	}
}

var (
	liveDotStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	waitDotStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	offDotStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusTextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
)

// Render returns the styled status line.
func (p Presentation) Render() string {
	dot := offDotStyle.Render("●")
	switch {
	case p.Connected:
		dot = liveDotStyle.Render("●")
	case p.Label == LabelConnecting || p.Label == LabelReconnecting:
		dot = waitDotStyle.Render("●")
	}
	return fmt.Sprintf("%s %s", dot, statusTextStyle.Render(p.Label))
}
