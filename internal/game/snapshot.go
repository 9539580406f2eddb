package game

import (
	"errors"
	"fmt"
)

// ErrSnapshotMismatch is returned when a snapshot is internally inconsistent.
var ErrSnapshotMismatch = errors.New("snapshot mismatch")

// Snapshot is the serializable form of a GameState. Tiles are stored by name
// so that stored snapshots survive reordering of the TileType constants.
type Snapshot struct {
	Tick    int                    `json:"tick"`
	Width   int                    `json:"width"`
	Height  int                    `json:"height"`
	Grid    [][]string             `json:"grid"`
	Players map[int]PlayerSnapshot `json:"players"`
	Bombs   []BombSnapshot         `json:"bombs"`
	Fire    []FireSnapshot         `json:"fire"`
}

// PlayerSnapshot is a player entry of a Snapshot.
type PlayerSnapshot struct {
	X     int  `json:"x"`
	Y     int  `json:"y"`
	Alive bool `json:"alive"`
}

// BombSnapshot is a bomb entry of a Snapshot.
type BombSnapshot struct {
	OwnerID int `json:"owner_id"`
	X       int `json:"x"`
	Y       int `json:"y"`
	Timer   int `json:"timer"`
	Radius  int `json:"radius"`
}

// FireSnapshot is a fire entry of a Snapshot.
type FireSnapshot struct {
	X   int `json:"x"`
	Y   int `json:"y"`
	TTL int `json:"ttl"`
}

// Export produces a snapshot of the engine's current state.
func (e *Engine) Export() Snapshot {
	return e.State.Export()
}

// Export produces a snapshot of the state. The snapshot shares no memory with s.
func (s *GameState) Export() Snapshot {
	grid := make([][]string, s.Height)
	for y := range grid {
		grid[y] = make([]string, s.Width)
		for x := range grid[y] {
			grid[y][x] = s.Board[y][x].String()
		}
	}

	players := make(map[int]PlayerSnapshot, len(s.Players))
	for id, p := range s.Players {
		players[id] = PlayerSnapshot{X: p.Pos.X, Y: p.Pos.Y, Alive: p.Alive}
	}

	bombs := make([]BombSnapshot, 0, len(s.Bombs))
	for _, b := range s.Bombs {
		bombs = append(bombs, BombSnapshot{
			OwnerID: b.OwnerID,
			X:       b.Pos.X,
			Y:       b.Pos.Y,
			Timer:   b.Timer,
			Radius:  b.Radius,
		})
	}

	fire := make([]FireSnapshot, 0, len(s.Fires))
	for _, f := range s.Fires {
		fire = append(fire, FireSnapshot{X: f.Pos.X, Y: f.Pos.Y, TTL: f.TTL})
	}

	return Snapshot{
		Tick:    s.Tick,
		Width:   s.Width,
		Height:  s.Height,
		Grid:    grid,
		Players: players,
		Bombs:   bombs,
		Fire:    fire,
	}
}

// Import reconstructs an engine from a snapshot. The stored grid is taken as
// is; bomb and fire entries must sit on cells that show them.
func Import(snap Snapshot, rules Rules) (*Engine, error) {
	state, err := snap.State()
	if err != nil {
		return nil, err
	}
	return &Engine{State: state, Rules: rules}, nil
}

// State rebuilds the in-memory GameState described by the snapshot.
func (snap Snapshot) State() (*GameState, error) {
	if snap.Width <= 0 || snap.Height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrSnapshotMismatch, snap.Width, snap.Height)
	}
	if len(snap.Grid) != snap.Height {
		return nil, fmt.Errorf("%w: grid has %d rows, want %d", ErrSnapshotMismatch, len(snap.Grid), snap.Height)
	}

	state := &GameState{
		Tick:    snap.Tick,
		Width:   snap.Width,
		Height:  snap.Height,
		Board:   make([][]TileType, snap.Height),
		Players: make(map[int]*Player, len(snap.Players)),
		Bombs:   make([]*Bomb, 0, len(snap.Bombs)),
		Fires:   make([]*Fire, 0, len(snap.Fire)),
	}

	for y, row := range snap.Grid {
		if len(row) != snap.Width {
			return nil, fmt.Errorf("%w: row %d has %d cells, want %d", ErrSnapshotMismatch, y, len(row), snap.Width)
		}
		state.Board[y] = make([]TileType, snap.Width)
		for x, name := range row {
			t, err := ParseTile(name)
			if err != nil {
				return nil, fmt.Errorf("%w: cell (%d,%d): %v", ErrSnapshotMismatch, x, y, err)
			}
			state.Board[y][x] = t
		}
	}

	for id, ps := range snap.Players {
		pos := Position{X: ps.X, Y: ps.Y}
		if !state.inBounds(pos) {
			return nil, fmt.Errorf("%w: player %d out of bounds at (%d,%d)", ErrSnapshotMismatch, id, ps.X, ps.Y)
		}
		state.Players[id] = &Player{ID: id, Pos: pos, Alive: ps.Alive}
	}

	for _, bs := range snap.Bombs {
		pos := Position{X: bs.X, Y: bs.Y}
		if !state.inBounds(pos) {
			return nil, fmt.Errorf("%w: bomb out of bounds at (%d,%d)", ErrSnapshotMismatch, bs.X, bs.Y)
		}
		if t := state.tile(pos); t != BombTile && t != FireTile {
			return nil, fmt.Errorf("%w: bomb at (%d,%d) on %s", ErrSnapshotMismatch, bs.X, bs.Y, t)
		}
		state.Bombs = append(state.Bombs, &Bomb{OwnerID: bs.OwnerID, Pos: pos, Timer: bs.Timer, Radius: bs.Radius})
	}

	for _, fs := range snap.Fire {
		pos := Position{X: fs.X, Y: fs.Y}
		if !state.inBounds(pos) {
			return nil, fmt.Errorf("%w: fire out of bounds at (%d,%d)", ErrSnapshotMismatch, fs.X, fs.Y)
		}
		switch t := state.tile(pos); {
		case t == FireTile:
		case t == BombTile && state.bombAt(pos) != nil:
		default:
			return nil, fmt.Errorf("%w: fire at (%d,%d) on %s", ErrSnapshotMismatch, fs.X, fs.Y, t)
		}
		state.Fires = append(state.Fires, &Fire{Pos: pos, TTL: fs.TTL})
	}

	return state, nil
}
