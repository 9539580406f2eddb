package replay

import (
	"errors"
	"fmt"
	"sort"

	"github.com/amalg/bomberman-arena/internal/game"
)

// ErrGap is returned when the action log skips a tick the match must have run.
var ErrGap = errors.New("replay action log has a gap")

// Play rebuilds the frames of a recorded match: the initial snapshot followed
// by one exported state per tick, in tick order. Actions sharing a tick are
// applied together; a later entry from the same player replaces an earlier one
// as it did in the live buffer.
func Play(rec Record) ([]game.Snapshot, error) {
	engine, err := game.Import(rec.Initial, rec.Rules)
	if err != nil {
		return nil, fmt.Errorf("import initial snapshot: %w", err)
	}

	groups := make(map[int]map[int]game.Action)
	for _, e := range rec.Actions {
		g, ok := groups[e.Tick]
		if !ok {
			g = make(map[int]game.Action)
			groups[e.Tick] = g
		}
		g[e.InternalID] = e.Action
	}

	ticks := make([]int, 0, len(groups))
	for t := range groups {
		ticks = append(ticks, t)
	}
	sort.Ints(ticks)

	frames := make([]game.Snapshot, 0, len(ticks)+1)
	frames = append(frames, engine.Export())

	for _, t := range ticks {
		if t != engine.State.Tick {
			return frames, fmt.Errorf("%w: expected tick %d, got %d", ErrGap, engine.State.Tick, t)
		}
		engine.Advance(groups[t])
		frames = append(frames, engine.Export())
	}
	return frames, nil
}

// Outcome replays the record and reports how the match ended.
func Outcome(rec Record) (game.Outcome, int, error) {
	frames, err := Play(rec)
	if err != nil {
		return game.Outcome{}, 0, err
	}
	last := frames[len(frames)-1]
	engine, err := game.Import(last, rec.Rules)
	if err != nil {
		return game.Outcome{}, 0, err
	}
	return engine.Winner(), last.Tick, nil
}
