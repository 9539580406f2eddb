package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
	"github.com/amalg/bomberman-arena/internal/protocol"
)

type frameTickMsg struct{}

// ReplayModel steps through the frames of a recorded match.
type ReplayModel struct {
	views    []*protocol.StateView
	winner   *match.ParticipantID
	frame    int
	playing  bool
	interval time.Duration
}

// NewReplayModel shows frames, translated for participants (indexed by
// internal id), advancing every interval while playing.
func NewReplayModel(frames []game.Snapshot, participants []match.ParticipantID, outcome game.Outcome, interval time.Duration) ReplayModel {
	views := make([]*protocol.StateView, len(frames))
	for i, f := range frames {
		views[i] = protocol.View(f, participants)
	}
	m := ReplayModel{views: views, playing: true, interval: interval}
	if outcome.Status == game.StatusWinner && outcome.WinnerID < len(participants) {
		w := participants[outcome.WinnerID]
		m.winner = &w
	}
	return m
}

func (m ReplayModel) Init() tea.Cmd {
	return m.nextFrame()
}

func (m ReplayModel) nextFrame() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return frameTickMsg{} })
}

func (m ReplayModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case frameTickMsg:
		if !m.playing {
			return m, nil
		}
		if m.frame < len(m.views)-1 {
			m.frame++
		}
		if m.frame == len(m.views)-1 {
			m.playing = false
			return m, nil
		}
		return m, m.nextFrame()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case " ":
			m.playing = !m.playing
			if m.playing {
				if m.frame == len(m.views)-1 {
					m.frame = 0
				}
				return m, m.nextFrame()
			}
		case "right", "l":
			m.playing = false
			if m.frame < len(m.views)-1 {
				m.frame++
			}
		case "left", "h":
			m.playing = false
			if m.frame > 0 {
				m.frame--
			}
		case "home":
			m.playing = false
			m.frame = 0
		case "end":
			m.playing = false
			m.frame = len(m.views) - 1
		}
	}
	return m, nil
}

func (m ReplayModel) View() string {
	if len(m.views) == 0 {
		return "Empty replay\n"
	}
	view := m.views[m.frame]
	hud := RenderHUD(view, HUD{
		Phase:   PhaseReplay,
		Winner:  m.winner,
		Frame:   m.frame,
		Frames:  len(m.views),
		Playing: m.playing,
	})
	return lipgloss.JoinHorizontal(lipgloss.Top, RenderBoard(view, 0), "  ", hud) + "\n"
}
