package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
	"github.com/amalg/bomberman-arena/internal/rating"
	"github.com/amalg/bomberman-arena/internal/replay"
)

type memoryLobby struct {
	roster match.Roster
	status string
}

type memoryMatch struct {
	id       int64
	result   match.Result
	playedAt time.Time
}

// Memory keeps everything in process memory. Snapshots and replays are stored
// encoded so callers never share memory with the store.
type Memory struct {
	mu        sync.Mutex
	lobbies   map[match.LobbyID]*memoryLobby
	snapshots map[match.LobbyID][]byte
	ratings   map[match.ParticipantID]rating.Rating
	matches   []memoryMatch
	replays   map[int64][]byte
	nextLobby match.LobbyID
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		lobbies:   make(map[match.LobbyID]*memoryLobby),
		snapshots: make(map[match.LobbyID][]byte),
		ratings:   make(map[match.ParticipantID]rating.Rating),
		replays:   make(map[int64][]byte),
	}
}

func (m *Memory) CreateLobby(_ context.Context, expected int, players []match.ParticipantID) (match.LobbyID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextLobby++
	id := m.nextLobby
	m.lobbies[id] = &memoryLobby{
		roster: match.Roster{Expected: expected, Allowed: append([]match.ParticipantID(nil), players...)},
		status: StatusWaiting,
	}
	return id, nil
}

func (m *Memory) Roster(_ context.Context, lobby match.LobbyID) (match.Roster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lobbies[lobby]
	if !ok {
		return match.Roster{}, fmt.Errorf("lobby %d: %w", lobby, ErrNotFound)
	}
	r := l.roster
	r.Allowed = append([]match.ParticipantID(nil), r.Allowed...)
	r.Finished = l.status == StatusFinished
	return r, nil
}

func (m *Memory) MarkStarted(_ context.Context, lobby match.LobbyID) error {
	return m.setStatus(lobby, StatusInProgress)
}

func (m *Memory) LobbyStatus(_ context.Context, lobby match.LobbyID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lobbies[lobby]
	if !ok {
		return "", fmt.Errorf("lobby %d: %w", lobby, ErrNotFound)
	}
	return l.status, nil
}

func (m *Memory) setStatus(lobby match.LobbyID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lobbies[lobby]
	if !ok {
		return fmt.Errorf("lobby %d: %w", lobby, ErrNotFound)
	}
	l.status = status
	return nil
}

func (m *Memory) PutSnapshot(_ context.Context, lobby match.LobbyID, snap game.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[lobby] = data
	return nil
}

func (m *Memory) GetSnapshot(_ context.Context, lobby match.LobbyID) (game.Snapshot, bool, error) {
	m.mu.Lock()
	data, ok := m.snapshots[lobby]
	m.mu.Unlock()
	if !ok {
		return game.Snapshot{}, false, nil
	}

	var snap game.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return game.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

func (m *Memory) DeleteSnapshot(_ context.Context, lobby match.LobbyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, lobby)
	return nil
}

func (m *Memory) Ratings(_ context.Context, ids []match.ParticipantID) (map[match.ParticipantID]rating.Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[match.ParticipantID]rating.Rating, len(ids))
	for _, id := range ids {
		r, ok := m.ratings[id]
		if !ok {
			r = rating.Default()
		}
		out[id] = r
	}
	return out, nil
}

// SetRating overrides a participant's rating.
func (m *Memory) SetRating(id match.ParticipantID, r rating.Rating) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratings[id] = r
}

func (m *Memory) RecordMatchResult(_ context.Context, res match.Result) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lobbies[res.LobbyID]
	if !ok {
		return 0, fmt.Errorf("lobby %d: %w", res.LobbyID, ErrNotFound)
	}
	if l.status == StatusFinished {
		for _, mm := range m.matches {
			if mm.result.LobbyID == res.LobbyID {
				return mm.id, nil
			}
		}
	}

	before := make(map[match.ParticipantID]rating.Rating, len(res.Participants))
	for _, id := range res.IDs() {
		if r, ok := m.ratings[id]; ok {
			before[id] = r
		}
	}
	res = res.Rated(before)

	for _, p := range res.Participants {
		m.ratings[p.ParticipantID] = rating.Rating{Value: p.RatingAfter, Games: p.GamesPlayed}
	}
	l.status = StatusFinished

	id := int64(len(m.matches) + 1)
	m.matches = append(m.matches, memoryMatch{id: id, result: res, playedAt: time.Now().UTC()})
	return id, nil
}

func (m *Memory) RecordReplay(_ context.Context, matchID int64, rec replay.Record) error {
	data, err := replay.Marshal(rec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if matchID <= 0 || matchID > int64(len(m.matches)) {
		return fmt.Errorf("match %d: %w", matchID, ErrNotFound)
	}
	m.replays[matchID] = data
	return nil
}

func (m *Memory) Replay(_ context.Context, matchID int64) (replay.Record, error) {
	m.mu.Lock()
	data, ok := m.replays[matchID]
	m.mu.Unlock()
	if !ok {
		return replay.Record{}, fmt.Errorf("replay for match %d: %w", matchID, ErrNotFound)
	}
	return replay.Unmarshal(data)
}

// Results returns every recorded result in insertion order.
func (m *Memory) Results() []match.Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]match.Result, len(m.matches))
	for i, mm := range m.matches {
		out[i] = mm.result
	}
	return out
}

func (m *Memory) MatchesByParticipant(_ context.Context, id match.ParticipantID, offset, limit int) ([]match.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []match.Summary
	skipped := 0
	for i := len(m.matches) - 1; i >= 0 && len(out) < limit; i-- {
		mm := m.matches[i]
		p, ok := participantOutcome(mm.result, id)
		if !ok {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}

		s := match.Summary{
			MatchID:     mm.id,
			LobbyID:     mm.result.LobbyID,
			Outcome:     p.Outcome,
			Ticks:       mm.result.Ticks,
			RatingDelta: p.Delta(),
			PlayedAt:    mm.playedAt,
		}
		for _, other := range mm.result.Participants {
			if other.ParticipantID != id {
				s.Opponents = append(s.Opponents, other.ParticipantID)
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
