package game

import (
	"errors"
	"fmt"
	"math/rand"
)

var (
	// ErrBadDimensions is returned for boards too small to hold the spawn corners.
	ErrBadDimensions = errors.New("board dimensions out of range")
	// ErrTooManyPlayers is returned when there are more players than spawn anchors.
	ErrTooManyPlayers = errors.New("too many players")
)

// NewBoard generates a classic Bomberman grid layout.
//
// Layout rules:
//   - Border is all Wall
//   - Wall at every position where both X and Y are even
//   - Every other cell becomes Destructible with probability rules.DestructibleDensity
//
// The random source is consumed once per non-wall cell in row-major order, so a
// seeded source always yields the same board.
func NewBoard(rules Rules, rng *rand.Rand) [][]TileType {
	board := make([][]TileType, rules.Height)
	for y := 0; y < rules.Height; y++ {
		board[y] = make([]TileType, rules.Width)
		for x := 0; x < rules.Width; x++ {
			switch {
			case x == 0 || y == 0 || x == rules.Width-1 || y == rules.Height-1:
				// Border walls
				board[y][x] = Wall
			case x%2 == 0 && y%2 == 0:
				// Interior pillar pattern
				board[y][x] = Wall
			case rng.Float64() < rules.DestructibleDensity:
				board[y][x] = Destructible
			default:
				board[y][x] = Empty
			}
		}
	}
	return board
}

// NewGameState builds the initial state of a match: the board, then the
// players at their corner anchors in internal-id order with their spawn cell
// cleared.
func NewGameState(rules Rules, players int, rng *rand.Rand) (*GameState, error) {
	if rules.Width < 3 || rules.Height < 3 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadDimensions, rules.Width, rules.Height)
	}
	if players < 1 || players > MaxPlayers {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrTooManyPlayers, players, MaxPlayers)
	}

	state := &GameState{
		Width:   rules.Width,
		Height:  rules.Height,
		Board:   NewBoard(rules, rng),
		Players: make(map[int]*Player, players),
		Bombs:   make([]*Bomb, 0),
		Fires:   make([]*Fire, 0),
	}

	spawns := SpawnPositions(rules.Width, rules.Height)
	for id := 0; id < players; id++ {
		sp := spawns[id]
		state.Players[id] = &Player{ID: id, Pos: sp, Alive: true}
		state.Board[sp.Y][sp.X] = Empty
	}
	return state, nil
}

// inBounds reports whether pos lies on the board.
func (s *GameState) inBounds(pos Position) bool {
	return pos.X >= 0 && pos.X < s.Width && pos.Y >= 0 && pos.Y < s.Height
}

func (s *GameState) tile(pos Position) TileType {
	return s.Board[pos.Y][pos.X]
}

func (s *GameState) setTile(pos Position, t TileType) {
	s.Board[pos.Y][pos.X] = t
}

// bombAt returns the bomb occupying pos, if any.
func (s *GameState) bombAt(pos Position) *Bomb {
	for _, b := range s.Bombs {
		if b.Pos == pos {
			return b
		}
	}
	return nil
}

func (s *GameState) fireAt(pos Position) *Fire {
	for _, f := range s.Fires {
		if f.Pos == pos {
			return f
		}
	}
	return nil
}
