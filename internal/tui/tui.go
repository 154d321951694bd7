// ABOUTME: Operator TUI showing live lobbies, connections, and downloads
// ABOUTME: Real-time status display using bubbletea
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Status holds a snapshot of server state for display.
type Status struct {
	Name        string
	Port        int
	Connections int
	Lobbies     []LobbyInfo
	Downloads   []DownloadInfo
}

// LobbyInfo is one lobby row.
type LobbyInfo struct {
	ID        string
	Name      string
	Mode      string
	UserCount int
	Playing   string
}

// DownloadInfo is one in-flight or recent download row.
type DownloadInfo struct {
	Title   string
	Status  string
	Percent float64
}

// TUI manages the operator display.
type TUI struct {
	program  *tea.Program
	updates  chan Status
	quitChan chan struct{}
}

type model struct {
	status    Status
	startTime time.Time
	quitting  bool
	quitChan  chan struct{}
}

type tickMsg time.Time
type statusMsg Status

func (m model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case tickMsg:
		return m, tickEvery()

	case statusMsg:
		m.status = Status(msg)
		return m, nil
	}

	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down server...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86"))

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("250"))

	sectionStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("220"))

	var b strings.Builder

	b.WriteString(titleStyle.Render("Chorus Server"))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Server: "))
	b.WriteString(valueStyle.Render(m.status.Name))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Port: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d", m.status.Port)))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Uptime: "))
	b.WriteString(valueStyle.Render(time.Since(m.startTime).Round(time.Second).String()))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Connections: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d", m.status.Connections)))
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Lobbies (%d)", len(m.status.Lobbies))))
	b.WriteString("\n\n")

	if len(m.status.Lobbies) == 0 {
		b.WriteString(valueStyle.Render("  No active lobbies"))
		b.WriteString("\n")
	} else {
		for _, l := range m.status.Lobbies {
			name := l.Name
			if name == "" {
				name = l.ID
			}
			b.WriteString(fmt.Sprintf("  • %s", name))
			b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s, %d listening)", l.Mode, l.UserCount)))
			if l.Playing != "" {
				b.WriteString(valueStyle.Render(" ♪ " + l.Playing))
			}
			b.WriteString("\n")
		}
	}

	if len(m.status.Downloads) > 0 {
		b.WriteString("\n")
		b.WriteString(sectionStyle.Render(fmt.Sprintf("Downloads (%d)", len(m.status.Downloads))))
		b.WriteString("\n\n")
		for _, d := range m.status.Downloads {
			b.WriteString(fmt.Sprintf("  • %s", d.Title))
			if d.Status == "downloading" {
				b.WriteString(valueStyle.Render(fmt.Sprintf(" %.0f%%", d.Percent)))
			} else {
				b.WriteString(valueStyle.Render(" " + d.Status))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

// New creates the TUI.
func New() *TUI {
	return &TUI{
		updates:  make(chan Status, 10),
		quitChan: make(chan struct{}, 1),
	}
}

// Start runs the TUI until quit. Blocks.
func (t *TUI) Start(serverName string, port int) error {
	m := model{
		status: Status{
			Name: serverName,
			Port: port,
		},
		startTime: time.Now(),
		quitChan:  t.quitChan,
	}

	t.program = tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		for status := range t.updates {
			if t.program != nil {
				t.program.Send(statusMsg(status))
			}
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update pushes a status snapshot. Never blocks.
func (t *TUI) Update(status Status) {
	select {
	case t.updates <- status:
	default:
	}
}

// Stop tears the TUI down.
func (t *TUI) Stop() {
	if t.program != nil {
		t.program.Quit()
	}
	close(t.updates)
}

// QuitChan signals when the operator asked to quit.
func (t *TUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
