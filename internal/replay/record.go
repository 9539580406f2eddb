// Package replay records the actions accepted during a match and rebuilds the
// frame sequence from them.
package replay

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
)

// ErrSealed is returned when appending to a recorder after the match ended.
var ErrSealed = errors.New("replay sealed")

// Entry is one accepted action.
type Entry struct {
	Tick       int             `json:"tick"`
	InternalID int             `json:"player_id"`
	Action     game.Action     `json:"action"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// Record is everything needed to reproduce a match: the rules it ran under,
// the initial snapshot and the ordered action log. Participants maps internal
// ids (the slice index) back to external identity.
type Record struct {
	Rules        game.Rules            `json:"game_params"`
	Initial      game.Snapshot         `json:"initial_map"`
	Participants []match.ParticipantID `json:"participants"`
	Actions      []Entry               `json:"actions"`
}

// Recorder is an append-only action log for a live match.
type Recorder struct {
	mu     sync.Mutex
	record Record
	sealed bool
}

// NewRecorder starts a log from the initial snapshot.
func NewRecorder(rules game.Rules, initial game.Snapshot, participants []match.ParticipantID) *Recorder {
	ps := make([]match.ParticipantID, len(participants))
	copy(ps, participants)
	return &Recorder{
		record: Record{
			Rules:        rules,
			Initial:      initial,
			Participants: ps,
			Actions:      []Entry{},
		},
	}
}

// Append adds an accepted action. Entries must arrive in non-decreasing tick
// order, which the session guarantees by recording as it accepts.
func (r *Recorder) Append(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrSealed
	}
	if len(e.Params) > 0 {
		e.Params = append(json.RawMessage(nil), e.Params...)
	}
	r.record.Actions = append(r.record.Actions, e)
	return nil
}

// Len returns the number of recorded actions.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.record.Actions)
}

// Seal freezes the log and returns the final record. Further appends fail;
// sealing twice returns the same record.
func (r *Recorder) Seal() Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sealed = true
	return r.snapshotLocked()
}

// Record returns a copy of the log so far.
func (r *Recorder) Record() Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Recorder) snapshotLocked() Record {
	out := r.record
	out.Participants = append([]match.ParticipantID(nil), r.record.Participants...)
	out.Actions = make([]Entry, len(r.record.Actions))
	copy(out.Actions, r.record.Actions)
	return out
}
