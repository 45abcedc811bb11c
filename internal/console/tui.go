// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package console

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	styleTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	styleSubtle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	styleErr    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	stylePrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Bold(true)
)

// mode distinguishes the console's command-reading state from the
// "waiting for an index" sub-state 'c' enters.
type mode int

const (
	modeCommand mode = iota
	modeCloseIndex
)

// tickMsg re-schedules itself every 500ms so the view is redrawn
// periodically without a separate polling goroutine.
type tickMsg time.Time

// actionDoneMsg reports the outcome of an async feature request so
// Update stays non-blocking.
type actionDoneMsg struct {
	label string
	err   error
}

// Model is the Bubble Tea presentation for a Console (§4.H, component
// M). It never owns correctness: every command it sends reduces to a
// Console call, so a test can drive Console directly without a TTY.
type Model struct {
	console *Console

	mode       mode
	indexInput string
	lastLine   string
	lastErr    string
	quitting   bool
}

// NewModel wraps c for TTY presentation.
func NewModel(c *Console) Model {
	return Model{console: c}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, tick()

	case actionDoneMsg:
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("%s failed: %v", msg.label, msg.err)
			m.lastLine = ""
		} else {
			m.lastLine = msg.label
			m.lastErr = ""
		}
		return m, nil

	case tea.KeyMsg:
		if m.mode == modeCloseIndex {
			return m.updateCloseIndex(msg)
		}
		return m.updateCommand(msg)
	}
	return m, nil
}

func (m Model) updateCommand(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "h":
		m.lastLine = "commands: q quit, h help, p list sockets, m/M unmute/mute, o/O monitor on/off, c close socket"
		m.lastErr = ""
		return m, nil

	case "p":
		socks := m.console.OpenSockets()
		if !m.console.MonitorEnabled() {
			m.lastLine = "open socket list disabled when traffic monitor is off"
		} else if len(socks) == 0 {
			m.lastLine = "no open sockets"
		} else {
			var b strings.Builder
			for i, s := range socks {
				fmt.Fprintf(&b, "%2d) socket 0x%x --> remote %s\n", i+1, s.Sockfd, s.Remote.IP())
			}
			m.lastLine = strings.TrimRight(b.String(), "\n")
		}
		m.lastErr = ""
		return m, nil

	case "m":
		m.console.Unmute()
		m.lastLine = "observation display un-muted"
		m.lastErr = ""
		return m, nil

	case "M":
		m.console.Mute()
		m.lastLine = "observation display muted"
		m.lastErr = ""
		return m, nil

	case "o":
		return m, runAction("monitor on", func(ctx context.Context) error { return m.console.MonitorOn(ctx) })

	case "O":
		return m, runAction("monitor off", func(ctx context.Context) error { return m.console.MonitorOff(ctx) })

	case "c":
		if len(m.console.OpenSockets()) == 0 {
			m.lastLine = "no open sockets"
			return m, nil
		}
		m.mode = modeCloseIndex
		m.indexInput = ""
		return m, nil
	}
	return m, nil
}

func (m Model) updateCloseIndex(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeCommand
		m.indexInput = ""
		return m, nil

	case "enter":
		idx, err := strconv.Atoi(m.indexInput)
		m.mode = modeCommand
		m.indexInput = ""
		if err != nil {
			m.lastErr = "invalid option, you needed to enter a valid index"
			return m, nil
		}
		console := m.console
		return m, runAction(fmt.Sprintf("close socket %d", idx), func(ctx context.Context) error {
			_, err := console.CloseSocketByIndex(ctx, idx)
			return err
		})

	case "backspace":
		if len(m.indexInput) > 0 {
			m.indexInput = m.indexInput[:len(m.indexInput)-1]
		}
		return m, nil

	default:
		if len(msg.String()) == 1 && msg.String()[0] >= '0' && msg.String()[0] <= '9' {
			m.indexInput += msg.String()
		}
		return m, nil
	}
}

func runAction(label string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return actionDoneMsg{label: label, err: fn(ctx)}
	}
}

func (m Model) View() string {
	if m.quitting {
		return styleSubtle.Render("goodbye\n")
	}

	var b strings.Builder
	b.WriteString(styleTitle.Render("netflow console") + "\n")
	b.WriteString(styleSubtle.Render("q quit  h help  p sockets  m/M mute  o/O monitor  c close") + "\n\n")

	if m.mode == modeCloseIndex {
		b.WriteString(stylePrompt.Render("index of socket to close: ") + m.indexInput + "\n")
	}

	if m.lastErr != "" {
		b.WriteString(styleErr.Render(m.lastErr) + "\n")
	} else if m.lastLine != "" {
		b.WriteString(styleOK.Render(m.lastLine) + "\n")
	}

	return b.String()
}
