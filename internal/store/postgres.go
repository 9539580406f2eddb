package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
	"github.com/amalg/bomberman-arena/internal/rating"
	"github.com/amalg/bomberman-arena/internal/replay"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		username TEXT,
		rating INTEGER NOT NULL DEFAULT 1000,
		games_played INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS lobbies (
		id BIGSERIAL PRIMARY KEY,
		max_players INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'waiting',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS lobby_players (
		lobby_id BIGINT NOT NULL REFERENCES lobbies(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id),
		slot INTEGER NOT NULL,
		PRIMARY KEY (lobby_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS match_results (
		id BIGSERIAL PRIMARY KEY,
		lobby_id BIGINT NOT NULL REFERENCES lobbies(id),
		winner_id BIGINT REFERENCES users(id),
		loser_id BIGINT REFERENCES users(id),
		result TEXT NOT NULL,
		ticks INTEGER NOT NULL,
		winner_elo_change INTEGER NOT NULL DEFAULT 0,
		loser_elo_change INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS match_participants (
		match_id BIGINT NOT NULL REFERENCES match_results(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id),
		internal_id INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		rating_before INTEGER NOT NULL,
		rating_after INTEGER NOT NULL,
		PRIMARY KEY (match_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_match_participants_user ON match_participants(user_id, match_id)`,
	`CREATE TABLE IF NOT EXISTS replays (
		match_id BIGINT PRIMARY KEY REFERENCES match_results(id) ON DELETE CASCADE,
		data BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		lobby_id BIGINT PRIMARY KEY,
		tick INTEGER NOT NULL,
		data JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Postgres is the Postgres-backed store.
type Postgres struct {
	Pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	for _, ddl := range postgresSchema {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			pool.Close()
			return nil, fmt.Errorf("create table: %w", err)
		}
	}
	return &Postgres{Pool: pool}, nil
}

func (s *Postgres) Close() error {
	s.Pool.Close()
	return nil
}

func (s *Postgres) CreateLobby(ctx context.Context, expected int, players []match.ParticipantID) (match.LobbyID, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO lobbies (max_players, status) VALUES ($1, $2) RETURNING id`,
		expected, StatusWaiting).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert lobby: %w", err)
	}

	for slot, p := range players {
		if _, err := tx.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, int64(p)); err != nil {
			return 0, fmt.Errorf("ensure user %d: %w", p, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO lobby_players (lobby_id, user_id, slot) VALUES ($1, $2, $3)`,
			id, int64(p), slot); err != nil {
			return 0, fmt.Errorf("insert lobby player %d: %w", p, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return match.LobbyID(id), nil
}

func (s *Postgres) Roster(ctx context.Context, lobby match.LobbyID) (match.Roster, error) {
	var (
		r      match.Roster
		status string
	)
	err := s.Pool.QueryRow(ctx, `SELECT max_players, status FROM lobbies WHERE id = $1`, int64(lobby)).Scan(&r.Expected, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return match.Roster{}, fmt.Errorf("lobby %d: %w", lobby, ErrNotFound)
	}
	if err != nil {
		return match.Roster{}, fmt.Errorf("query lobby: %w", err)
	}
	r.Finished = status == StatusFinished

	rows, err := s.Pool.Query(ctx, `SELECT user_id FROM lobby_players WHERE lobby_id = $1 ORDER BY slot`, int64(lobby))
	if err != nil {
		return match.Roster{}, fmt.Errorf("query lobby players: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return match.Roster{}, fmt.Errorf("scan lobby players: %w", err)
	}
	for _, id := range ids {
		r.Allowed = append(r.Allowed, match.ParticipantID(id))
	}
	return r, nil
}

func (s *Postgres) MarkStarted(ctx context.Context, lobby match.LobbyID) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE lobbies SET status = $1 WHERE id = $2`, StatusInProgress, int64(lobby))
	if err != nil {
		return fmt.Errorf("update lobby status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lobby %d: %w", lobby, ErrNotFound)
	}
	return nil
}

func (s *Postgres) LobbyStatus(ctx context.Context, lobby match.LobbyID) (string, error) {
	var status string
	err := s.Pool.QueryRow(ctx, `SELECT status FROM lobbies WHERE id = $1`, int64(lobby)).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("lobby %d: %w", lobby, ErrNotFound)
	}
	return status, err
}

func (s *Postgres) PutSnapshot(ctx context.Context, lobby match.LobbyID, snap game.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.Pool.Exec(ctx,
		`INSERT INTO snapshots (lobby_id, tick, data, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (lobby_id) DO UPDATE SET tick = EXCLUDED.tick, data = EXCLUDED.data, updated_at = now()`,
		int64(lobby), snap.Tick, data)
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

func (s *Postgres) GetSnapshot(ctx context.Context, lobby match.LobbyID) (game.Snapshot, bool, error) {
	var data []byte
	err := s.Pool.QueryRow(ctx, `SELECT data FROM snapshots WHERE lobby_id = $1`, int64(lobby)).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return game.Snapshot{}, false, nil
	}
	if err != nil {
		return game.Snapshot{}, false, fmt.Errorf("get snapshot: %w", err)
	}

	var snap game.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return game.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *Postgres) DeleteSnapshot(ctx context.Context, lobby match.LobbyID) error {
	if _, err := s.Pool.Exec(ctx, `DELETE FROM snapshots WHERE lobby_id = $1`, int64(lobby)); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *Postgres) Ratings(ctx context.Context, ids []match.ParticipantID) (map[match.ParticipantID]rating.Rating, error) {
	out := make(map[match.ParticipantID]rating.Rating, len(ids))
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
		out[id] = rating.Default()
	}

	rows, err := s.Pool.Query(ctx, `SELECT id, rating, games_played FROM users WHERE id = ANY($1)`, raw)
	if err != nil {
		return nil, fmt.Errorf("query ratings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id int64
			r  rating.Rating
		)
		if err := rows.Scan(&id, &r.Value, &r.Games); err != nil {
			return nil, err
		}
		out[match.ParticipantID(id)] = r
	}
	return out, rows.Err()
}

// RecordMatchResult rates res against the participants' ratings, read with
// row locks inside the transaction. A lobby that is already finished returns
// its recorded match id and writes nothing.
func (s *Postgres) RecordMatchResult(ctx context.Context, res match.Result) (int64, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM lobbies WHERE id = $1 FOR UPDATE`, int64(res.LobbyID)).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("lobby %d: %w", res.LobbyID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("query lobby: %w", err)
	}
	if status == StatusFinished {
		var existing int64
		err := tx.QueryRow(ctx,
			`SELECT id FROM match_results WHERE lobby_id = $1 ORDER BY id LIMIT 1`, int64(res.LobbyID)).Scan(&existing)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("query match result: %w", err)
		}
	}

	ids := make([]int64, 0, len(res.Participants))
	for _, id := range res.IDs() {
		ids = append(ids, int64(id))
		if _, err := tx.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, int64(id)); err != nil {
			return 0, fmt.Errorf("ensure user %d: %w", id, err)
		}
	}

	// Locked in id order so concurrent finishes cannot deadlock.
	rows, err := tx.Query(ctx,
		`SELECT id, rating, games_played FROM users WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return 0, fmt.Errorf("lock ratings: %w", err)
	}
	before := make(map[match.ParticipantID]rating.Rating, len(ids))
	for rows.Next() {
		var (
			id int64
			r  rating.Rating
		)
		if err := rows.Scan(&id, &r.Value, &r.Games); err != nil {
			rows.Close()
			return 0, err
		}
		before[match.ParticipantID(id)] = r
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("lock ratings: %w", err)
	}
	res = res.Rated(before)

	for _, p := range res.Participants {
		if _, err := tx.Exec(ctx,
			`UPDATE users SET rating = $1, games_played = $2 WHERE id = $3`,
			p.RatingAfter, p.GamesPlayed, int64(p.ParticipantID)); err != nil {
			return 0, fmt.Errorf("update rating of %d: %w", p.ParticipantID, err)
		}
	}

	var matchID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO match_results (lobby_id, winner_id, loser_id, result, ticks, winner_elo_change, loser_elo_change)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		int64(res.LobbyID), pgID(res.WinnerID), pgID(res.LoserID), string(res.Outcome), res.Ticks,
		res.WinnerDelta, res.LoserDelta).Scan(&matchID)
	if err != nil {
		return 0, fmt.Errorf("insert match result: %w", err)
	}

	batch := &pgx.Batch{}
	for _, p := range res.Participants {
		batch.Queue(
			`INSERT INTO match_participants (match_id, user_id, internal_id, outcome, rating_before, rating_after)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			matchID, int64(p.ParticipantID), p.InternalID, string(p.Outcome), p.RatingBefore, p.RatingAfter)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("insert participants: %w", err)
	}

	tag, err := tx.Exec(ctx, `UPDATE lobbies SET status = $1 WHERE id = $2`, StatusFinished, int64(res.LobbyID))
	if err != nil {
		return 0, fmt.Errorf("finish lobby: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("lobby %d: %w", res.LobbyID, ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return matchID, nil
}

func (s *Postgres) RecordReplay(ctx context.Context, matchID int64, rec replay.Record) error {
	data, err := replay.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx,
		`INSERT INTO replays (match_id, data) VALUES ($1, $2)
		 ON CONFLICT (match_id) DO UPDATE SET data = EXCLUDED.data`,
		matchID, data)
	if err != nil {
		return fmt.Errorf("insert replay: %w", err)
	}
	return nil
}

func (s *Postgres) Replay(ctx context.Context, matchID int64) (replay.Record, error) {
	var data []byte
	err := s.Pool.QueryRow(ctx, `SELECT data FROM replays WHERE match_id = $1`, matchID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return replay.Record{}, fmt.Errorf("replay for match %d: %w", matchID, ErrNotFound)
	}
	if err != nil {
		return replay.Record{}, fmt.Errorf("query replay: %w", err)
	}
	return replay.Unmarshal(data)
}

func (s *Postgres) MatchesByParticipant(ctx context.Context, id match.ParticipantID, offset, limit int) ([]match.Summary, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT mr.id, mr.lobby_id, mp.outcome, mr.ticks, mp.rating_after - mp.rating_before, mr.created_at,
		        COALESCE(ARRAY(
		            SELECT o.user_id FROM match_participants o
		            WHERE o.match_id = mr.id AND o.user_id <> mp.user_id
		            ORDER BY o.internal_id), '{}')
		 FROM match_participants mp JOIN match_results mr ON mr.id = mp.match_id
		 WHERE mp.user_id = $1
		 ORDER BY mr.id DESC
		 LIMIT $2 OFFSET $3`, int64(id), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	var out []match.Summary
	for rows.Next() {
		var (
			sum       match.Summary
			lobby     int64
			outcome   string
			playedAt  time.Time
			opponents []int64
		)
		if err := rows.Scan(&sum.MatchID, &lobby, &outcome, &sum.Ticks, &sum.RatingDelta, &playedAt, &opponents); err != nil {
			return nil, err
		}
		sum.LobbyID = match.LobbyID(lobby)
		sum.Outcome = match.Outcome(outcome)
		sum.PlayedAt = playedAt.UTC()
		for _, o := range opponents {
			sum.Opponents = append(sum.Opponents, match.ParticipantID(o))
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func pgID(id *match.ParticipantID) *int64 {
	if id == nil {
		return nil
	}
	v := int64(*id)
	return &v
}
