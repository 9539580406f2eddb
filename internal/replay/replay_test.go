package replay

import (
	"encoding/json"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
)

// liveMatch plays random actions the way a session does and returns the
// recorder together with every frame it would have broadcast.
func liveMatch(t *testing.T, seed int64, players, maxTicks int) (*Recorder, []game.Snapshot) {
	t.Helper()

	rules := game.DefaultRules()
	engine, err := game.NewEngine(rules, players, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)

	ids := make([]match.ParticipantID, players)
	for i := range ids {
		ids[i] = match.ParticipantID(100 + i)
	}

	rec := NewRecorder(rules, engine.Export(), ids)
	frames := []game.Snapshot{engine.Export()}
	rng := rand.New(rand.NewSource(seed + 1))

	for engine.State.Tick < maxTicks && !engine.Winner().Finished() {
		buffer := make(map[int]game.Action, players)
		for id := 0; id < players; id++ {
			// Occasionally resubmit: the later action wins.
			if rng.Intn(5) == 0 {
				first := game.Action(rng.Intn(6))
				require.NoError(t, rec.Append(Entry{Tick: engine.State.Tick, InternalID: id, Action: first}))
			}
			a := game.Action(rng.Intn(6))
			buffer[id] = a
			require.NoError(t, rec.Append(Entry{
				Tick:       engine.State.Tick,
				InternalID: id,
				Action:     a,
				Params:     json.RawMessage(`{"seq":1}`),
			}))
		}
		engine.Advance(buffer)
		frames = append(frames, engine.Export())
	}
	return rec, frames
}

func TestPlayReproducesLiveFrames(t *testing.T) {
	for _, seed := range []int64{1, 2, 3} {
		rec, live := liveMatch(t, seed, 4, 200)

		frames, err := Play(rec.Seal())
		require.NoError(t, err)
		require.Len(t, frames, len(live))
		for i := range live {
			assert.Equal(t, live[i], frames[i], "seed %d frame %d", seed, i)
		}
	}
}

func TestPlayNoActions(t *testing.T) {
	rules := game.DefaultRules()
	engine, err := game.NewEngine(rules, 2, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	frames, err := Play(NewRecorder(rules, engine.Export(), nil).Seal())
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, 0, frames[0].Tick)
}

func TestPlayDetectsGap(t *testing.T) {
	rules := game.DefaultRules()
	engine, err := game.NewEngine(rules, 2, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	rec := NewRecorder(rules, engine.Export(), nil)
	require.NoError(t, rec.Append(Entry{Tick: 0, InternalID: 0, Action: game.Stay}))
	require.NoError(t, rec.Append(Entry{Tick: 2, InternalID: 0, Action: game.Stay}))

	frames, err := Play(rec.Seal())
	assert.ErrorIs(t, err, ErrGap)
	assert.Len(t, frames, 2)
}

func TestRecorderSeal(t *testing.T) {
	rec := NewRecorder(game.DefaultRules(), game.Snapshot{}, []match.ParticipantID{7, 9})
	require.NoError(t, rec.Append(Entry{Tick: 0, InternalID: 1, Action: game.PlaceBomb}))

	sealed := rec.Seal()
	assert.Len(t, sealed.Actions, 1)
	assert.Equal(t, []match.ParticipantID{7, 9}, sealed.Participants)

	assert.ErrorIs(t, rec.Append(Entry{Tick: 1}), ErrSealed)
	assert.Equal(t, sealed, rec.Seal())
}

func TestRecordCopiesAreIndependent(t *testing.T) {
	rec := NewRecorder(game.DefaultRules(), game.Snapshot{}, nil)
	require.NoError(t, rec.Append(Entry{Tick: 0, Action: game.Up}))

	snap := rec.Record()
	snap.Actions[0].Action = game.Down

	assert.Equal(t, game.Up, rec.Record().Actions[0].Action)
}

func TestOutcome(t *testing.T) {
	rec, live := liveMatch(t, 4, 2, 500)

	outcome, ticks, err := Outcome(rec.Seal())
	require.NoError(t, err)
	assert.Equal(t, live[len(live)-1].Tick, ticks)

	final, err := game.Import(live[len(live)-1], game.DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, final.Winner(), outcome)
}

func TestCodecRoundTrip(t *testing.T) {
	rec, live := liveMatch(t, 5, 3, 60)
	sealed := rec.Seal()

	blob, err := Marshal(sealed)
	require.NoError(t, err)
	decoded, err := Unmarshal(blob)
	require.NoError(t, err)
	assert.Equal(t, sealed, decoded)

	path, err := SaveFile(t.TempDir(), "match_1", sealed)
	require.NoError(t, err)
	assert.Equal(t, FileExt, filepath.Ext(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	frames, err := Play(loaded)
	require.NoError(t, err)
	assert.Equal(t, live, frames)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte("not gzip"))
	assert.Error(t, err)
}
