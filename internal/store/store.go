// Package store persists lobbies, snapshots, ratings, match results and
// replays. Three backends share one contract: an in-memory store for tests and
// local play, SQLite and Postgres.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
	"github.com/amalg/bomberman-arena/internal/rating"
	"github.com/amalg/bomberman-arena/internal/replay"
)

// ErrNotFound is returned when a lobby, match or replay does not exist.
var ErrNotFound = errors.New("not found")

// Lobby statuses.
const (
	StatusWaiting    = "waiting"
	StatusInProgress = "in_progress"
	StatusFinished   = "finished"
)

// Store is the full persistence contract used by the server binaries.
type Store interface {
	// Roster returns the expected player count and the allowed participants.
	Roster(ctx context.Context, lobby match.LobbyID) (match.Roster, error)
	// MarkStarted flags the lobby as in progress.
	MarkStarted(ctx context.Context, lobby match.LobbyID) error
	LobbyStatus(ctx context.Context, lobby match.LobbyID) (string, error)
	// CreateLobby registers a lobby with its roster and returns its id.
	CreateLobby(ctx context.Context, expected int, players []match.ParticipantID) (match.LobbyID, error)

	PutSnapshot(ctx context.Context, lobby match.LobbyID, snap game.Snapshot) error
	// GetSnapshot reports ok=false when the lobby has no snapshot.
	GetSnapshot(ctx context.Context, lobby match.LobbyID) (game.Snapshot, bool, error)
	DeleteSnapshot(ctx context.Context, lobby match.LobbyID) error

	// Ratings returns the current rating of every id; unknown ids get
	// rating.Default.
	Ratings(ctx context.Context, ids []match.ParticipantID) (map[match.ParticipantID]rating.Rating, error)
	// RecordMatchResult stores the result, writes the participants' new
	// ratings and marks the lobby finished in one transaction.
	RecordMatchResult(ctx context.Context, res match.Result) (int64, error)
	RecordReplay(ctx context.Context, matchID int64, rec replay.Record) error
	Replay(ctx context.Context, matchID int64) (replay.Record, error)
	// MatchesByParticipant lists a participant's matches, newest first.
	MatchesByParticipant(ctx context.Context, id match.ParticipantID, offset, limit int) ([]match.Summary, error)

	Close() error
}

// Open picks a backend from dsn: "memory" (or empty) for the in-memory
// store, a postgres:// URL for Postgres, anything else is a SQLite path.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case dsn == "" || dsn == "memory":
		return NewMemory(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn)
	default:
		return OpenSQLite(dsn)
	}
}

// participantOutcome returns the participant's line of res, if any.
func participantOutcome(res match.Result, id match.ParticipantID) (match.ParticipantResult, bool) {
	for _, p := range res.Participants {
		if p.ParticipantID == id {
			return p, true
		}
	}
	return match.ParticipantResult{}, false
}
