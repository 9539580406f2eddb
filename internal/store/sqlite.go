package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
	"github.com/amalg/bomberman-arena/internal/rating"
	"github.com/amalg/bomberman-arena/internal/replay"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		username TEXT,
		rating INTEGER NOT NULL DEFAULT 1000,
		games_played INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS lobbies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		max_players INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'waiting',
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS lobby_players (
		lobby_id INTEGER NOT NULL REFERENCES lobbies(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id),
		slot INTEGER NOT NULL,
		PRIMARY KEY (lobby_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS match_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		lobby_id INTEGER NOT NULL REFERENCES lobbies(id),
		winner_id INTEGER REFERENCES users(id),
		loser_id INTEGER REFERENCES users(id),
		result TEXT NOT NULL,
		ticks INTEGER NOT NULL,
		winner_elo_change INTEGER NOT NULL DEFAULT 0,
		loser_elo_change INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS match_participants (
		match_id INTEGER NOT NULL REFERENCES match_results(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id),
		internal_id INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		rating_before INTEGER NOT NULL,
		rating_after INTEGER NOT NULL,
		PRIMARY KEY (match_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_match_participants_user ON match_participants(user_id, match_id)`,
	`CREATE TABLE IF NOT EXISTS replays (
		match_id INTEGER PRIMARY KEY REFERENCES match_results(id) ON DELETE CASCADE,
		data BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		lobby_id INTEGER PRIMARY KEY,
		tick INTEGER NOT NULL,
		data TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

// SQLite is the SQLite-backed store.
type SQLite struct {
	DB *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Pragmas are per connection; a single connection keeps them in force.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %s: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	for _, ddl := range sqliteSchema {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("create table: %w", err)
		}
	}

	return &SQLite{DB: db}, nil
}

func (s *SQLite) Close() error {
	return s.DB.Close()
}

func (s *SQLite) CreateLobby(ctx context.Context, expected int, players []match.ParticipantID) (match.LobbyID, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO lobbies (max_players, status, created_at) VALUES (?, ?, ?)`,
		expected, StatusWaiting, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("insert lobby: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("lobby id: %w", err)
	}

	for slot, p := range players {
		if _, err := tx.ExecContext(ctx, `INSERT INTO users (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, int64(p)); err != nil {
			return 0, fmt.Errorf("ensure user %d: %w", p, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lobby_players (lobby_id, user_id, slot) VALUES (?, ?, ?)`,
			id, int64(p), slot); err != nil {
			return 0, fmt.Errorf("insert lobby player %d: %w", p, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return match.LobbyID(id), nil
}

func (s *SQLite) Roster(ctx context.Context, lobby match.LobbyID) (match.Roster, error) {
	var (
		r      match.Roster
		status string
	)
	err := s.DB.QueryRowContext(ctx, `SELECT max_players, status FROM lobbies WHERE id = ?`, int64(lobby)).Scan(&r.Expected, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return match.Roster{}, fmt.Errorf("lobby %d: %w", lobby, ErrNotFound)
	}
	if err != nil {
		return match.Roster{}, fmt.Errorf("query lobby: %w", err)
	}
	r.Finished = status == StatusFinished

	rows, err := s.DB.QueryContext(ctx, `SELECT user_id FROM lobby_players WHERE lobby_id = ? ORDER BY slot`, int64(lobby))
	if err != nil {
		return match.Roster{}, fmt.Errorf("query lobby players: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return match.Roster{}, err
		}
		r.Allowed = append(r.Allowed, match.ParticipantID(id))
	}
	return r, rows.Err()
}

func (s *SQLite) MarkStarted(ctx context.Context, lobby match.LobbyID) error {
	return s.setStatus(ctx, lobby, StatusInProgress)
}

func (s *SQLite) LobbyStatus(ctx context.Context, lobby match.LobbyID) (string, error) {
	var status string
	err := s.DB.QueryRowContext(ctx, `SELECT status FROM lobbies WHERE id = ?`, int64(lobby)).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("lobby %d: %w", lobby, ErrNotFound)
	}
	return status, err
}

func (s *SQLite) setStatus(ctx context.Context, lobby match.LobbyID, status string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE lobbies SET status = ? WHERE id = ?`, status, int64(lobby))
	if err != nil {
		return fmt.Errorf("update lobby status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("lobby %d: %w", lobby, ErrNotFound)
	}
	return nil
}

func (s *SQLite) PutSnapshot(ctx context.Context, lobby match.LobbyID, snap game.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO snapshots (lobby_id, tick, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(lobby_id) DO UPDATE SET tick = excluded.tick, data = excluded.data, updated_at = excluded.updated_at`,
		int64(lobby), snap.Tick, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

func (s *SQLite) GetSnapshot(ctx context.Context, lobby match.LobbyID) (game.Snapshot, bool, error) {
	var data string
	err := s.DB.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE lobby_id = ?`, int64(lobby)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return game.Snapshot{}, false, nil
	}
	if err != nil {
		return game.Snapshot{}, false, fmt.Errorf("get snapshot: %w", err)
	}

	var snap game.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return game.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *SQLite) DeleteSnapshot(ctx context.Context, lobby match.LobbyID) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM snapshots WHERE lobby_id = ?`, int64(lobby)); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *SQLite) Ratings(ctx context.Context, ids []match.ParticipantID) (map[match.ParticipantID]rating.Rating, error) {
	return sqliteRatings(ctx, s.DB, ids)
}

// rowQuerier is satisfied by *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteRatings(ctx context.Context, q rowQuerier, ids []match.ParticipantID) (map[match.ParticipantID]rating.Rating, error) {
	out := make(map[match.ParticipantID]rating.Rating, len(ids))
	for _, id := range ids {
		r := rating.Default()
		err := q.QueryRowContext(ctx,
			`SELECT rating, games_played FROM users WHERE id = ?`, int64(id)).Scan(&r.Value, &r.Games)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("query rating of %d: %w", id, err)
		}
		out[id] = r
	}
	return out, nil
}

// RecordMatchResult rates res against the ratings stored when the
// transaction runs. A lobby that is already finished returns its recorded
// match id and writes nothing.
func (s *SQLite) RecordMatchResult(ctx context.Context, res match.Result) (int64, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM lobbies WHERE id = ?`, int64(res.LobbyID)).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lobby %d: %w", res.LobbyID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("query lobby: %w", err)
	}
	if status == StatusFinished {
		var existing int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM match_results WHERE lobby_id = ? ORDER BY id LIMIT 1`, int64(res.LobbyID)).Scan(&existing)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("query match result: %w", err)
		}
	}

	// The first write takes the database write lock, so the ratings read
	// below cannot change before the transaction commits.
	for _, id := range res.IDs() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO users (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, int64(id)); err != nil {
			return 0, fmt.Errorf("ensure user %d: %w", id, err)
		}
	}
	before, err := sqliteRatings(ctx, tx, res.IDs())
	if err != nil {
		return 0, err
	}
	res = res.Rated(before)

	for _, p := range res.Participants {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET rating = ?, games_played = ? WHERE id = ?`,
			p.RatingAfter, p.GamesPlayed, int64(p.ParticipantID)); err != nil {
			return 0, fmt.Errorf("update rating of %d: %w", p.ParticipantID, err)
		}
	}

	now := time.Now().Unix()
	r, err := tx.ExecContext(ctx,
		`INSERT INTO match_results (lobby_id, winner_id, loser_id, result, ticks, winner_elo_change, loser_elo_change, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(res.LobbyID), nullID(res.WinnerID), nullID(res.LoserID), string(res.Outcome), res.Ticks,
		res.WinnerDelta, res.LoserDelta, now)
	if err != nil {
		return 0, fmt.Errorf("insert match result: %w", err)
	}
	matchID, err := r.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("match id: %w", err)
	}

	for _, p := range res.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO match_participants (match_id, user_id, internal_id, outcome, rating_before, rating_after)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			matchID, int64(p.ParticipantID), p.InternalID, string(p.Outcome), p.RatingBefore, p.RatingAfter); err != nil {
			return 0, fmt.Errorf("insert participant %d: %w", p.ParticipantID, err)
		}
	}

	u, err := tx.ExecContext(ctx, `UPDATE lobbies SET status = ? WHERE id = ?`, StatusFinished, int64(res.LobbyID))
	if err != nil {
		return 0, fmt.Errorf("finish lobby: %w", err)
	}
	if n, _ := u.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("lobby %d: %w", res.LobbyID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return matchID, nil
}

func (s *SQLite) RecordReplay(ctx context.Context, matchID int64, rec replay.Record) error {
	data, err := replay.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO replays (match_id, data, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(match_id) DO UPDATE SET data = excluded.data`,
		matchID, data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert replay: %w", err)
	}
	return nil
}

func (s *SQLite) Replay(ctx context.Context, matchID int64) (replay.Record, error) {
	var data []byte
	err := s.DB.QueryRowContext(ctx, `SELECT data FROM replays WHERE match_id = ?`, matchID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return replay.Record{}, fmt.Errorf("replay for match %d: %w", matchID, ErrNotFound)
	}
	if err != nil {
		return replay.Record{}, fmt.Errorf("query replay: %w", err)
	}
	return replay.Unmarshal(data)
}

func (s *SQLite) MatchesByParticipant(ctx context.Context, id match.ParticipantID, offset, limit int) ([]match.Summary, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT mr.id, mr.lobby_id, mp.outcome, mr.ticks, mp.rating_after - mp.rating_before, mr.created_at
		 FROM match_participants mp JOIN match_results mr ON mr.id = mp.match_id
		 WHERE mp.user_id = ?
		 ORDER BY mr.id DESC
		 LIMIT ? OFFSET ?`, int64(id), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}

	var out []match.Summary
	for rows.Next() {
		var (
			sum      match.Summary
			lobby    int64
			outcome  string
			playedAt int64
		)
		if err := rows.Scan(&sum.MatchID, &lobby, &outcome, &sum.Ticks, &sum.RatingDelta, &playedAt); err != nil {
			rows.Close()
			return nil, err
		}
		sum.LobbyID = match.LobbyID(lobby)
		sum.Outcome = match.Outcome(outcome)
		sum.PlayedAt = time.Unix(playedAt, 0).UTC()
		out = append(out, sum)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Single connection: opponents are read after the first cursor is closed.
	for i := range out {
		opponents, err := s.opponents(ctx, out[i].MatchID, id)
		if err != nil {
			return nil, err
		}
		out[i].Opponents = opponents
	}
	return out, nil
}

func (s *SQLite) opponents(ctx context.Context, matchID int64, self match.ParticipantID) ([]match.ParticipantID, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT user_id FROM match_participants WHERE match_id = ? AND user_id <> ? ORDER BY internal_id`,
		matchID, int64(self))
	if err != nil {
		return nil, fmt.Errorf("query opponents: %w", err)
	}
	defer rows.Close()

	var out []match.ParticipantID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, match.ParticipantID(id))
	}
	return out, rows.Err()
}

func nullID(id *match.ParticipantID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}
