package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/amalg/bomberman-arena/internal/match"
	"github.com/amalg/bomberman-arena/internal/protocol"
)

// Color palette
var (
	// Tile styles
	hardWallStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#3a3a3a")).
			Foreground(lipgloss.Color("#555555"))

	softWallStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#8B6914")).
			Foreground(lipgloss.Color("#A0772B"))

	emptyStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#1a1a2e")).
			Foreground(lipgloss.Color("#1a1a2e"))

	bombStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#1a1a2e")).
			Foreground(lipgloss.Color("#ff4444")).
			Bold(true)

	fireStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#ff6600")).
			Foreground(lipgloss.Color("#ffcc00")).
			Bold(true)

	// One color per spawn corner
	playerColors = []lipgloss.Color{
		lipgloss.Color("#00ff88"), // Green
		lipgloss.Color("#4488ff"), // Blue
		lipgloss.Color("#ff44ff"), // Magenta
		lipgloss.Color("#ffff44"), // Yellow
	}

	deadPlayerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			Strikethrough(true)

	// HUD styles
	hudBorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444466")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ff8844")).
			Bold(true)

	lobbyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#44aaff")).
			Bold(true)

	winnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00ff88")).
			Bold(true).
			Blink(true)

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff4444"))
)

// Phase is what the screen is showing.
type Phase int

const (
	PhaseWaiting Phase = iota // connected, lobby still forming
	PhasePlaying
	PhaseOver
	PhaseReplay
)

// HUD is the side panel's input.
type HUD struct {
	Phase  Phase
	Lobby  match.LobbyID
	Me     match.ParticipantID // zero when spectating
	Winner *match.ParticipantID
	// Sent is the action submitted for the current tick, empty if none.
	Sent string
	// Frame and Frames position a replay.
	Frame, Frames int
	Playing       bool
}

// colorOf picks a participant's color by rank among the view's players.
func colorOf(view *protocol.StateView, id match.ParticipantID) lipgloss.Color {
	for i, p := range view.ParticipantIDs() {
		if p == id {
			return playerColors[i%len(playerColors)]
		}
	}
	return playerColors[0]
}

// RenderBoard converts a state view into a styled terminal string.
func RenderBoard(view *protocol.StateView, me match.ParticipantID) string {
	if view == nil || len(view.Grid) == 0 {
		return "Waiting for game state..."
	}

	type cell struct{ x, y int }
	players := make(map[cell]match.ParticipantID)
	for _, id := range view.ParticipantIDs() {
		p := view.Players[id]
		if !p.Alive {
			continue
		}
		// The local player wins a shared cell.
		if _, taken := players[cell{p.X, p.Y}]; !taken || id == me {
			players[cell{p.X, p.Y}] = id
		}
	}

	rows := make([]string, 0, len(view.Grid))
	for y, row := range view.Grid {
		var b strings.Builder
		for x, tile := range row {
			if id, ok := players[cell{x, y}]; ok {
				b.WriteString(renderPlayer(view, id, me))
				continue
			}
			b.WriteString(renderTile(tile))
		}
		rows = append(rows, b.String())
	}
	return strings.Join(rows, "\n")
}

// renderPlayer draws a player cell. Each cell is 2 characters wide for a
// square-ish appearance.
func renderPlayer(view *protocol.StateView, id, me match.ParticipantID) string {
	color := colorOf(view, id)
	style := lipgloss.NewStyle().
		Background(lipgloss.Color("#1a1a2e")).
		Foreground(color).
		Bold(true)
	if id == me {
		return style.Background(color).Render("██")
	}
	label := fmt.Sprintf("%02d", int64(id)%100)
	return style.Render(label)
}

func renderTile(tile string) string {
	switch tile {
	case "WALL":
		return hardWallStyle.Render("██")
	case "DESTRUCTIBLE":
		return softWallStyle.Render("▒▒")
	case "BOMB":
		return bombStyle.Render("()")
	case "FIRE":
		return fireStyle.Render("░░")
	default:
		return emptyStyle.Render("  ")
	}
}

// RenderHUD renders the side panel with match status and players.
func RenderHUD(view *protocol.StateView, hud HUD) string {
	var parts []string

	parts = append(parts, titleStyle.Render("💣 BOMBERMAN"))
	if hud.Lobby != 0 {
		parts = append(parts, dimStyle.Render(fmt.Sprintf("Lobby %d", hud.Lobby)))
	}
	parts = append(parts, "")

	switch hud.Phase {
	case PhaseWaiting:
		parts = append(parts, lobbyStyle.Render("⏳ Waiting for players..."))
	case PhasePlaying:
		parts = append(parts, errStyle.Render("🔥 GAME IN PROGRESS"))
		if hud.Sent != "" {
			parts = append(parts, dimStyle.Render("Sent: "+hud.Sent))
		} else {
			parts = append(parts, dimStyle.Render("Your move"))
		}
	case PhaseOver:
		parts = append(parts, outcomeLine(hud))
	case PhaseReplay:
		state := "paused"
		if hud.Playing {
			state = "playing"
		}
		parts = append(parts, lobbyStyle.Render(fmt.Sprintf("▶ Replay %d/%d (%s)", hud.Frame+1, hud.Frames, state)))
		if hud.Frame == hud.Frames-1 {
			parts = append(parts, outcomeLine(hud))
		}
	}
	if view != nil {
		parts = append(parts, dimStyle.Render(fmt.Sprintf("Tick %d", view.Tick)))
	}
	parts = append(parts, "")

	if view != nil {
		parts = append(parts, dimStyle.Render("Players:"))
		for _, id := range view.ParticipantIDs() {
			p := view.Players[id]
			nameStyle := lipgloss.NewStyle().Foreground(colorOf(view, id))
			status := "❤️ "
			if !p.Alive {
				status = "💀"
				nameStyle = deadPlayerStyle
			}
			marker := "  "
			if id == hud.Me {
				marker = "→ "
			}
			bombs := 0
			for _, b := range view.Bombs {
				if b.OwnerID == id {
					bombs++
				}
			}
			parts = append(parts, fmt.Sprintf("%s%s %s [💣×%d]", marker, status, nameStyle.Render(fmt.Sprintf("Player %d", id)), bombs))
		}
		parts = append(parts, "")
	}

	help := "WASD/Arrows: Move | Space: Bomb | .: Stay | Q: Quit"
	if hud.Phase == PhaseReplay {
		help = "Space: Play/Pause | ←/→: Step | Home/End | Q: Quit"
	}
	parts = append(parts, helpStyle.Render(help))

	return hudBorderStyle.Render(strings.Join(parts, "\n"))
}

func outcomeLine(hud HUD) string {
	switch {
	case hud.Winner == nil:
		return dimStyle.Render("💀 DRAW - Everyone died!")
	case *hud.Winner == hud.Me:
		return winnerStyle.Render("🏆 YOU WIN!")
	default:
		return winnerStyle.Render(fmt.Sprintf("🏆 Player %d WINS!", *hud.Winner))
	}
}
