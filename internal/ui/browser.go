package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amalg/bomberman-arena/internal/discovery"
)

// ServerSource lists servers seen on the network. discovery.Listener
// implements it.
type ServerSource interface {
	Servers() []discovery.ServerInfo
}

type refreshMsg struct{}

var selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff88")).Bold(true)

// BrowserModel lets the player pick a server advertised on the LAN.
type BrowserModel struct {
	src     ServerSource
	servers []discovery.ServerInfo
	cursor  int
	chosen  *discovery.ServerInfo
}

// NewBrowserModel browses src.
func NewBrowserModel(src ServerSource) BrowserModel {
	return BrowserModel{src: src}
}

// Chosen returns the selected server after the program exits.
func (m BrowserModel) Chosen() (discovery.ServerInfo, bool) {
	if m.chosen == nil {
		return discovery.ServerInfo{}, false
	}
	return *m.chosen, true
}

func (m BrowserModel) Init() tea.Cmd {
	return func() tea.Msg { return refreshMsg{} }
}

func refreshLater() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg { return refreshMsg{} })
}

func (m BrowserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case refreshMsg:
		m.servers = m.src.Servers()
		if m.cursor >= len(m.servers) {
			m.cursor = max(len(m.servers)-1, 0)
		}
		return m, refreshLater()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.servers)-1 {
				m.cursor++
			}
		case "enter":
			if len(m.servers) > 0 {
				s := m.servers[m.cursor]
				m.chosen = &s
				return m, tea.Quit
			}
		}
	}
	return m, nil
}

func (m BrowserModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("💣 BOMBERMAN - LAN servers"))
	b.WriteString("\n\n")

	if len(m.servers) == 0 {
		b.WriteString(lobbyStyle.Render("⏳ Searching..."))
		b.WriteString("\n")
	}
	for i, s := range m.servers {
		line := fmt.Sprintf("%s  %s  (%d forming, %d active)", s.Name, s.Addr, s.Forming, s.Active)
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("→ " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓: Select | Enter: Join | Q: Quit"))
	b.WriteString("\n")
	return b.String()
}
