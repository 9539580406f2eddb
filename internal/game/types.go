package game

import (
	"errors"
	"fmt"
)

// TileType represents the type of a cell on the game board.
type TileType int

const (
	Empty        TileType = iota
	Wall                  // Indestructible
	Destructible          // Destroyed by the first blast that reaches it
	BombTile              // Occupied by a live bomb
	FireTile              // Burning
)

var tileNames = [...]string{
	Empty:        "EMPTY",
	Wall:         "WALL",
	Destructible: "DESTRUCTIBLE",
	BombTile:     "BOMB",
	FireTile:     "FIRE",
}

// String returns the stable wire name of the tile.
func (t TileType) String() string {
	if t < 0 || int(t) >= len(tileNames) {
		return fmt.Sprintf("TileType(%d)", int(t))
	}
	return tileNames[t]
}

// ParseTile maps a wire name back to its tile.
func ParseTile(name string) (TileType, error) {
	for i, n := range tileNames {
		if n == name {
			return TileType(i), nil
		}
	}
	return Empty, fmt.Errorf("unknown tile %q", name)
}

// Action is one player's input for a tick.
type Action int

const (
	Stay Action = iota
	Up
	Down
	Left
	Right
	PlaceBomb
)

var actionNames = [...]string{
	Stay:      "STAY",
	Up:        "UP",
	Down:      "DOWN",
	Left:      "LEFT",
	Right:     "RIGHT",
	PlaceBomb: "BOMB",
}

// ErrInvalidAction is returned for any token outside the action enumeration.
var ErrInvalidAction = errors.New("invalid action")

func (a Action) String() string {
	if a < 0 || int(a) >= len(actionNames) {
		return fmt.Sprintf("Action(%d)", int(a))
	}
	return actionNames[a]
}

// ParseAction is case-sensitive: only the exact wire names are accepted.
func ParseAction(name string) (Action, error) {
	for i, n := range actionNames {
		if n == name {
			return Action(i), nil
		}
	}
	return Stay, fmt.Errorf("%w: %q", ErrInvalidAction, name)
}

// MarshalText encodes the action by its wire name.
func (a Action) MarshalText() ([]byte, error) {
	if a < 0 || int(a) >= len(actionNames) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAction, int(a))
	}
	return []byte(actionNames[a]), nil
}

// UnmarshalText decodes a wire name.
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// delta returns the movement vector of a directional action.
func (a Action) delta() (dx, dy int, ok bool) {
	switch a {
	case Up:
		return 0, -1, true
	case Down:
		return 0, 1, true
	case Left:
		return -1, 0, true
	case Right:
		return 1, 0, true
	}
	return 0, 0, false
}

// Position represents a coordinate on the board.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Player is a participant inside the simulation, addressed by internal id.
type Player struct {
	ID    int      `json:"id"`
	Pos   Position `json:"pos"`
	Alive bool     `json:"alive"`
}

// Bomb represents an active bomb on the board.
type Bomb struct {
	OwnerID int      `json:"owner_id"`
	Pos     Position `json:"pos"`
	Timer   int      `json:"timer"` // Ticks until detonation
	Radius  int      `json:"radius"`
}

// Fire represents a burning cell left by an explosion.
type Fire struct {
	Pos Position `json:"pos"`
	TTL int      `json:"ttl"`
}

// GameState is the authoritative state of one match.
// It is owned by a single session goroutine; it carries no locking of its own.
type GameState struct {
	Tick    int
	Width   int
	Height  int
	Board   [][]TileType
	Players map[int]*Player
	Bombs   []*Bomb
	Fires   []*Fire
}

// Rules holds the fixed parameters of a match. They travel with replays so
// that a recorded match is re-simulated under the rules it was played with.
type Rules struct {
	Width               int     `json:"width"`
	Height              int     `json:"height"`
	BombTimer           int     `json:"bomb_timer"`
	BombRadius          int     `json:"radius"`
	FireTTL             int     `json:"fire_ttl"`
	DestructibleDensity float64 `json:"destructible_density"` // 0.0 to 1.0
}

// DefaultRules returns the standard match parameters.
func DefaultRules() Rules {
	return Rules{
		Width:               13,
		Height:              11,
		BombTimer:           3,
		BombRadius:          2,
		FireTTL:             2,
		DestructibleDensity: 0.2,
	}
}

// SpawnPositions returns the corner spawn positions, in internal-id order.
func SpawnPositions(width, height int) []Position {
	return []Position{
		{X: 1, Y: 1},                  // Top-left
		{X: width - 2, Y: 1},          // Top-right
		{X: 1, Y: height - 2},         // Bottom-left
		{X: width - 2, Y: height - 2}, // Bottom-right
	}
}

// MaxPlayers is the number of spawn anchors.
const MaxPlayers = 4

// Outcome is the result of Winner.
type Outcome struct {
	Status   Status
	WinnerID int // Only meaningful when Status == StatusWinner
}

// Status classifies an Outcome.
type Status int

const (
	StatusOngoing Status = iota
	StatusDraw
	StatusWinner
)

func (s Status) String() string {
	switch s {
	case StatusOngoing:
		return "ongoing"
	case StatusDraw:
		return "draw"
	case StatusWinner:
		return "win"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Finished reports whether the outcome is terminal.
func (o Outcome) Finished() bool {
	return o.Status != StatusOngoing
}
