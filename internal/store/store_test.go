package store

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
	"github.com/amalg/bomberman-arena/internal/rating"
	"github.com/amalg/bomberman-arena/internal/replay"
)

// backends returns every store the contract tests run against. Postgres is
// included when BOMBERMAN_TEST_POSTGRES holds a DSN.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "bomberman.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	out := map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}

	if dsn := os.Getenv("BOMBERMAN_TEST_POSTGRES"); dsn != "" {
		pg, err := OpenPostgres(context.Background(), dsn)
		require.NoError(t, err)
		t.Cleanup(func() { pg.Close() })
		out["postgres"] = pg
	}
	return out
}

func testSnapshot(t *testing.T) game.Snapshot {
	t.Helper()
	engine, err := game.NewEngine(game.DefaultRules(), 2, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	engine.Advance(map[int]game.Action{0: game.PlaceBomb, 1: game.Left})
	return engine.Export()
}

func TestRoster(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			lobby, err := s.CreateLobby(ctx, 2, []match.ParticipantID{31, 17})
			require.NoError(t, err)

			roster, err := s.Roster(ctx, lobby)
			require.NoError(t, err)
			assert.Equal(t, 2, roster.Expected)
			assert.Equal(t, []match.ParticipantID{31, 17}, roster.Allowed)
			assert.True(t, roster.Permits(17))
			assert.False(t, roster.Permits(99))

			status, err := s.LobbyStatus(ctx, lobby)
			require.NoError(t, err)
			assert.Equal(t, StatusWaiting, status)

			require.NoError(t, s.MarkStarted(ctx, lobby))
			status, err = s.LobbyStatus(ctx, lobby)
			require.NoError(t, err)
			assert.Equal(t, StatusInProgress, status)

			_, err = s.Roster(ctx, lobby+1000)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	snap := testSnapshot(t)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.GetSnapshot(ctx, 5)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.PutSnapshot(ctx, 5, snap))
			got, ok, err := s.GetSnapshot(ctx, 5)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, snap, got)

			// Put overwrites.
			next := snap
			next.Tick = snap.Tick + 1
			require.NoError(t, s.PutSnapshot(ctx, 5, next))
			got, _, err = s.GetSnapshot(ctx, 5)
			require.NoError(t, err)
			assert.Equal(t, next.Tick, got.Tick)

			require.NoError(t, s.DeleteSnapshot(ctx, 5))
			_, ok, err = s.GetSnapshot(ctx, 5)
			require.NoError(t, err)
			assert.False(t, ok)

			// Deleting a missing snapshot is not an error.
			assert.NoError(t, s.DeleteSnapshot(ctx, 5))
		})
	}
}

func TestRecordMatchResult(t *testing.T) {
	ctx := context.Background()
	snap := testSnapshot(t)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			lobby, err := s.CreateLobby(ctx, 2, []match.ParticipantID{1, 2})
			require.NoError(t, err)

			ratings, err := s.Ratings(ctx, []match.ParticipantID{1, 2})
			require.NoError(t, err)
			assert.Equal(t, rating.Default(), ratings[1])
			assert.Equal(t, rating.Default(), ratings[2])

			winner, loser := match.ParticipantID(1), match.ParticipantID(2)
			res := match.Result{
				LobbyID:     lobby,
				WinnerID:    &winner,
				LoserID:     &loser,
				Outcome:     match.OutcomeWin,
				Ticks:       42,
				WinnerDelta: 20,
				LoserDelta:  -20,
				Participants: []match.ParticipantResult{
					{ParticipantID: 1, InternalID: 0, Outcome: match.OutcomeWin, RatingBefore: 1000, RatingAfter: 1020, GamesPlayed: 1},
					{ParticipantID: 2, InternalID: 1, Outcome: match.OutcomeLoss, RatingBefore: 1000, RatingAfter: 980, GamesPlayed: 1},
				},
			}
			matchID, err := s.RecordMatchResult(ctx, res)
			require.NoError(t, err)
			assert.Positive(t, matchID)

			ratings, err = s.Ratings(ctx, []match.ParticipantID{1, 2})
			require.NoError(t, err)
			assert.Equal(t, rating.Rating{Value: 1020, Games: 1}, ratings[1])
			assert.Equal(t, rating.Rating{Value: 980, Games: 1}, ratings[2])

			status, err := s.LobbyStatus(ctx, lobby)
			require.NoError(t, err)
			assert.Equal(t, StatusFinished, status)
			roster, err := s.Roster(ctx, lobby)
			require.NoError(t, err)
			assert.True(t, roster.Finished)

			rec := replay.Record{
				Rules:        game.DefaultRules(),
				Initial:      snap,
				Participants: []match.ParticipantID{1, 2},
				Actions: []replay.Entry{
					{Tick: 0, InternalID: 0, Action: game.PlaceBomb},
					{Tick: 0, InternalID: 1, Action: game.Left},
				},
			}
			require.NoError(t, s.RecordReplay(ctx, matchID, rec))
			got, err := s.Replay(ctx, matchID)
			require.NoError(t, err)
			assert.Equal(t, rec, got)

			_, err = s.Replay(ctx, matchID+1000)
			assert.ErrorIs(t, err, ErrNotFound)

			history, err := s.MatchesByParticipant(ctx, 2, 0, 10)
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, matchID, history[0].MatchID)
			assert.Equal(t, match.OutcomeLoss, history[0].Outcome)
			assert.Equal(t, -20, history[0].RatingDelta)
			assert.Equal(t, 42, history[0].Ticks)
			assert.Equal(t, []match.ParticipantID{1}, history[0].Opponents)
		})
	}
}

func TestRecordMatchResultDraw(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			lobby, err := s.CreateLobby(ctx, 2, []match.ParticipantID{8, 9})
			require.NoError(t, err)

			_, err = s.RecordMatchResult(ctx, match.Result{
				LobbyID: lobby,
				Outcome: match.OutcomeDraw,
				Ticks:   7,
				Participants: []match.ParticipantResult{
					{ParticipantID: 8, Outcome: match.OutcomeDraw, RatingBefore: 1000, RatingAfter: 1000, GamesPlayed: 1},
					{ParticipantID: 9, InternalID: 1, Outcome: match.OutcomeDraw, RatingBefore: 1000, RatingAfter: 1000, GamesPlayed: 1},
				},
			})
			require.NoError(t, err)

			history, err := s.MatchesByParticipant(ctx, 8, 0, 10)
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, match.OutcomeDraw, history[0].Outcome)
			assert.Zero(t, history[0].RatingDelta)
		})
	}
}

func TestRecordMatchResultRatesAtWriteTime(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			winner, loser := match.ParticipantID(61), match.ParticipantID(62)

			// Both results were derived while both participants still sat at
			// the default rating; the stored ratings must still chain.
			stale := func(lobby match.LobbyID) match.Result {
				return match.Result{
					LobbyID:     lobby,
					WinnerID:    &winner,
					LoserID:     &loser,
					Outcome:     match.OutcomeWin,
					Ticks:       10,
					WinnerDelta: 20,
					LoserDelta:  -20,
					Participants: []match.ParticipantResult{
						{ParticipantID: winner, Outcome: match.OutcomeWin, RatingBefore: 1000, RatingAfter: 1020, GamesPlayed: 1},
						{ParticipantID: loser, InternalID: 1, Outcome: match.OutcomeLoss, RatingBefore: 1000, RatingAfter: 980, GamesPlayed: 1},
					},
				}
			}

			first, err := s.CreateLobby(ctx, 2, []match.ParticipantID{winner, loser})
			require.NoError(t, err)
			second, err := s.CreateLobby(ctx, 2, []match.ParticipantID{winner, loser})
			require.NoError(t, err)

			firstID, err := s.RecordMatchResult(ctx, stale(first))
			require.NoError(t, err)
			_, err = s.RecordMatchResult(ctx, stale(second))
			require.NoError(t, err)

			ratings, err := s.Ratings(ctx, []match.ParticipantID{winner, loser})
			require.NoError(t, err)
			assert.Equal(t, rating.Rating{Value: 1038, Games: 2}, ratings[winner])
			assert.Equal(t, rating.Rating{Value: 962, Games: 2}, ratings[loser])

			history, err := s.MatchesByParticipant(ctx, winner, 0, 10)
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.Equal(t, 18, history[0].RatingDelta)
			assert.Equal(t, 20, history[1].RatingDelta)

			// Writing a finished lobby again returns the recorded match.
			again, err := s.RecordMatchResult(ctx, stale(first))
			require.NoError(t, err)
			assert.Equal(t, firstID, again)

			ratings, err = s.Ratings(ctx, []match.ParticipantID{winner, loser})
			require.NoError(t, err)
			assert.Equal(t, 2, ratings[winner].Games)
			history, err = s.MatchesByParticipant(ctx, winner, 0, 10)
			require.NoError(t, err)
			assert.Len(t, history, 2)
		})
	}
}

func TestRecordMatchResultUnknownLobby(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.RecordMatchResult(ctx, match.Result{LobbyID: 4242, Outcome: match.OutcomeDraw})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMatchesByParticipantPaging(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var ids []int64
			for i := 0; i < 3; i++ {
				lobby, err := s.CreateLobby(ctx, 2, []match.ParticipantID{50, 51})
				require.NoError(t, err)
				id, err := s.RecordMatchResult(ctx, match.Result{
					LobbyID: lobby,
					Outcome: match.OutcomeDraw,
					Ticks:   i,
					Participants: []match.ParticipantResult{
						{ParticipantID: 50, Outcome: match.OutcomeDraw, RatingBefore: 1000, RatingAfter: 1000, GamesPlayed: i + 1},
						{ParticipantID: 51, InternalID: 1, Outcome: match.OutcomeDraw, RatingBefore: 1000, RatingAfter: 1000, GamesPlayed: i + 1},
					},
				})
				require.NoError(t, err)
				ids = append(ids, id)
			}

			page, err := s.MatchesByParticipant(ctx, 50, 1, 1)
			require.NoError(t, err)
			require.Len(t, page, 1)
			assert.Equal(t, ids[1], page[0].MatchID)

			none, err := s.MatchesByParticipant(ctx, 777, 0, 10)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestOpenPicksBackend(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "memory")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(ctx, filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	require.NoError(t, s.Close())
}
