// Package session coordinates live matches. A Coordinator holds one Session
// per lobby; each Session is an actor goroutine that owns the lobby's
// connections, pending actions, engine and replay recorder.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
	"github.com/amalg/bomberman-arena/internal/protocol"
	"github.com/amalg/bomberman-arena/internal/replay"
)

var (
	// ErrNotInRoster is returned when a participant is not allowed in the lobby.
	ErrNotInRoster = errors.New("participant not in lobby roster")
	// ErrMatchInProgress is returned to roster members who were not connected
	// when the match started.
	ErrMatchInProgress = errors.New("match already in progress")
	// ErrSessionClosed is returned once a session has finished or shut down.
	ErrSessionClosed = errors.New("session closed")
	// ErrBadRoster is returned for lobbies whose expected count cannot be played.
	ErrBadRoster = errors.New("lobby roster cannot be played")
)

// Conn is one participant's outbound channel. Send must not block for long;
// transports are expected to buffer and drop slow peers.
type Conn interface {
	ID() string
	Send(msg protocol.ServerMessage) error
	Close() error
}

// RosterSource answers who may join a lobby.
type RosterSource interface {
	Roster(ctx context.Context, lobby match.LobbyID) (match.Roster, error)
	MarkStarted(ctx context.Context, lobby match.LobbyID) error
}

// SnapshotStore keeps the latest committed state of each active lobby.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, lobby match.LobbyID, snap game.Snapshot) error
	GetSnapshot(ctx context.Context, lobby match.LobbyID) (game.Snapshot, bool, error)
	DeleteSnapshot(ctx context.Context, lobby match.LobbyID) error
}

// MatchStore receives finished matches. RecordMatchResult computes the new
// ratings from those stored at write time, in the same transaction, and
// returns the existing match id when the lobby's result is already recorded.
type MatchStore interface {
	RecordMatchResult(ctx context.Context, res match.Result) (int64, error)
	RecordReplay(ctx context.Context, matchID int64, rec replay.Record) error
}

// Config tunes every session of a Coordinator.
type Config struct {
	Rules game.Rules
	// TickTimeout substitutes STAY for participants that have not acted
	// within this long after a tick opens. Zero waits forever.
	TickTimeout time.Duration
	// RetryAttempts and RetryBackoff bound each store call.
	RetryAttempts int
	RetryBackoff  time.Duration
	// RetryInterval spaces re-attempts of an aborted tick or finish.
	RetryInterval time.Duration
	// StoreTimeout caps a single store call.
	StoreTimeout time.Duration
	// Seed fixes board generation; each lobby derives its own source from it.
	// Zero seeds from the clock.
	Seed int64
	// ReplayDir, when set, also writes every finished replay to a file.
	ReplayDir string
	InboxSize int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Rules:         game.DefaultRules(),
		TickTimeout:   10 * time.Second,
		RetryAttempts: 3,
		RetryBackoff:  100 * time.Millisecond,
		RetryInterval: 2 * time.Second,
		StoreTimeout:  5 * time.Second,
		InboxSize:     64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Rules == (game.Rules{}) {
		c.Rules = d.Rules
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.InboxSize <= 0 {
		c.InboxSize = d.InboxSize
	}
	return c
}

// State is a session's lifecycle stage.
type State int32

const (
	StateForming State = iota
	StateActive
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateForming:
		return "forming"
	case StateActive:
		return "active"
	case StateFinished:
		return "finished"
	}
	return "unknown"
}
