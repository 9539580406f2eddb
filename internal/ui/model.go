// Package ui is the terminal front end: the live match client, the replay
// viewer and the LAN server browser.
package ui

import (
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
	"github.com/amalg/bomberman-arena/internal/protocol"
)

// Conn is the live connection the model plays through. network.Client
// implements it.
type Conn interface {
	Messages() <-chan protocol.ServerMessage
	SendAction(action game.Action) error
	Err() error
}

// serverMsg carries a message from the server.
type serverMsg protocol.ServerMessage

// closedMsg reports the end of the connection.
type closedMsg struct{ err error }

// errMsg carries an error.
type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

var errConnectionClosed = errors.New("server connection closed")

// Model is the Bubbletea model for a live match.
type Model struct {
	conn     Conn
	lobby    match.LobbyID
	me       match.ParticipantID
	view     *protocol.StateView
	phase    Phase
	winner   *match.ParticipantID
	sent     string
	err      error
	quitting bool
}

// NewModel creates a TUI model playing lobby through conn.
func NewModel(conn Conn, lobby match.LobbyID) Model {
	return Model{conn: conn, lobby: lobby}
}

// Init starts listening for server messages.
func (m Model) Init() tea.Cmd {
	return waitForMessage(m.conn)
}

// Update handles key presses and server messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case serverMsg:
		m.apply(protocol.ServerMessage(msg))
		return m, waitForMessage(m.conn)

	case closedMsg:
		if m.phase == PhaseOver {
			return m, nil
		}
		m.err = msg.err
		if m.err == nil {
			m.err = errConnectionClosed
		}
		return m, tea.Quit

	case errMsg:
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

func (m *Model) apply(msg protocol.ServerMessage) {
	switch msg.Event {
	case protocol.EventStartGame:
		if msg.ParticipantID != nil {
			m.me = *msg.ParticipantID
		}
		m.phase = PhasePlaying
	case protocol.EventResume:
		m.phase = PhasePlaying
	case protocol.EventInitState, protocol.EventState, protocol.EventReconnectState:
		if msg.StateView != nil {
			m.view = msg.StateView
		}
		m.phase = PhasePlaying
		m.sent = ""
	case protocol.EventGameOver:
		m.winner = msg.WinnerID
		m.phase = PhaseOver
	}
}

// View renders the current game state.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye! 👋\n"
	}

	if m.err != nil {
		return errStyle.Render("Error: "+m.err.Error()) + "\n"
	}

	board := RenderBoard(m.view, m.me)
	hud := RenderHUD(m.view, HUD{
		Phase:  m.phase,
		Lobby:  m.lobby,
		Me:     m.me,
		Winner: m.winner,
		Sent:   m.sent,
	})

	// Layout: board on the left, HUD on the right
	return lipgloss.JoinHorizontal(lipgloss.Top, board, "  ", hud) + "\n"
}

// keyActions maps keys to actions.
var keyActions = map[string]game.Action{
	"up":    game.Up,
	"w":     game.Up,
	"down":  game.Down,
	"s":     game.Down,
	"left":  game.Left,
	"a":     game.Left,
	"right": game.Right,
	"d":     game.Right,
	" ":     game.PlaceBomb,
	".":     game.Stay,
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	}

	action, ok := keyActions[key]
	if !ok || m.phase != PhasePlaying {
		return m, nil
	}
	// A second key in the same tick replaces the first on the server.
	m.sent = action.String()
	return m, sendAction(m.conn, action)
}

func sendAction(conn Conn, action game.Action) tea.Cmd {
	return func() tea.Msg {
		if err := conn.SendAction(action); err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

// waitForMessage returns a Cmd that waits for the next server message.
func waitForMessage(conn Conn) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-conn.Messages()
		if !ok {
			return closedMsg{err: conn.Err()}
		}
		return serverMsg(msg)
	}
}

// Err returns the error that ended the session, if any.
func (m Model) Err() error { return m.err }
