package game

import (
	"math/rand"
	"sort"
	"strconv"
	"strings"
)

// Engine advances one match's GameState under fixed Rules.
// It performs no I/O and is not safe for concurrent use; the owning session
// serializes every call.
type Engine struct {
	State *GameState
	Rules Rules
}

// NewEngine creates an engine over a freshly generated board.
func NewEngine(rules Rules, players int, rng *rand.Rand) (*Engine, error) {
	state, err := NewGameState(rules, players, rng)
	if err != nil {
		return nil, err
	}
	return &Engine{State: state, Rules: rules}, nil
}

// Advance runs one tick with the given actions, keyed by internal id.
// Players without an entry stay in place. Actions are resolved in ascending
// internal-id order so that the result depends only on the inputs.
//
// Tick order: move/place bombs, tick bombs and explode, kill players on new
// fire, age fire.
func (e *Engine) Advance(actions map[int]Action) {
	e.State.Tick++

	for _, id := range e.playerIDs() {
		if a, ok := actions[id]; ok {
			e.applyAction(id, a)
		}
	}

	ignited := e.tickBombs()
	e.killPlayersIn(ignited)
	e.ageFires()
}

// Winner reports whether the match is still running, drawn, or won.
func (e *Engine) Winner() Outcome {
	alive := make([]int, 0, len(e.State.Players))
	for _, id := range e.playerIDs() {
		if e.State.Players[id].Alive {
			alive = append(alive, id)
		}
	}

	switch len(alive) {
	case 0:
		// Draw - everyone died simultaneously
		return Outcome{Status: StatusDraw}
	case 1:
		return Outcome{Status: StatusWinner, WinnerID: alive[0]}
	}
	return Outcome{Status: StatusOngoing}
}

// playerIDs returns the internal ids in ascending order.
func (e *Engine) playerIDs() []int {
	ids := make([]int, 0, len(e.State.Players))
	for id := range e.State.Players {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Clone returns an engine over a deep copy of the state, so a tick can be
// computed without touching the committed state.
func (e *Engine) Clone() *Engine {
	return &Engine{State: e.State.Clone(), Rules: e.Rules}
}

// Clone creates a deep copy of the game state.
func (s *GameState) Clone() *GameState {
	// Copy board
	boardCopy := make([][]TileType, s.Height)
	for y := range boardCopy {
		boardCopy[y] = make([]TileType, s.Width)
		copy(boardCopy[y], s.Board[y])
	}

	// Copy players
	playersCopy := make(map[int]*Player, len(s.Players))
	for id, p := range s.Players {
		cp := *p
		playersCopy[id] = &cp
	}

	// Copy bombs
	bombsCopy := make([]*Bomb, len(s.Bombs))
	for i, b := range s.Bombs {
		cb := *b
		bombsCopy[i] = &cb
	}

	// Copy fires
	firesCopy := make([]*Fire, len(s.Fires))
	for i, f := range s.Fires {
		cf := *f
		firesCopy[i] = &cf
	}

	return &GameState{
		Tick:    s.Tick,
		Width:   s.Width,
		Height:  s.Height,
		Board:   boardCopy,
		Players: playersCopy,
		Bombs:   bombsCopy,
		Fires:   firesCopy,
	}
}

// String renders the board as text: '#' wall, '+' destructible, 'B' bomb,
// '*' fire, '.' empty, and living players by internal id.
func (s *GameState) String() string {
	rows := make([][]byte, s.Height)
	for y := 0; y < s.Height; y++ {
		rows[y] = make([]byte, s.Width)
		for x := 0; x < s.Width; x++ {
			switch s.Board[y][x] {
			case Wall:
				rows[y][x] = '#'
			case Destructible:
				rows[y][x] = '+'
			case BombTile:
				rows[y][x] = 'B'
			case FireTile:
				rows[y][x] = '*'
			default:
				rows[y][x] = '.'
			}
		}
	}
	for _, p := range s.Players {
		if p.Alive && p.ID < 10 {
			rows[p.Pos.Y][p.Pos.X] = byte('0' + p.ID)
		}
	}

	var sb strings.Builder
	sb.WriteString("tick " + strconv.Itoa(s.Tick) + "\n")
	for _, row := range rows {
		sb.Write(row)
		sb.WriteByte('\n')
	}
	return sb.String()
}
