package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
)

// Coordinator is the registry of live sessions, one per lobby.
type Coordinator struct {
	cfg       Config
	rosters   RosterSource
	snapshots SnapshotStore
	matches   MatchStore
	log       *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[match.LobbyID]*Session
}

// NewCoordinator creates an empty registry.
func NewCoordinator(cfg Config, rosters RosterSource, snapshots SnapshotStore, matches MatchStore, log *logrus.Entry) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:       cfg.withDefaults(),
		rosters:   rosters,
		snapshots: snapshots,
		matches:   matches,
		log:       log.WithField("component", "session"),
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[match.LobbyID]*Session),
	}
}

// Join attaches conn to the lobby's session, creating the session on first
// contact. The returned Handle feeds the participant's messages to the session.
func (c *Coordinator) Join(ctx context.Context, lobby match.LobbyID, participant match.ParticipantID, conn Conn) (*Handle, error) {
	// A session found in the registry may already be exiting; one more lookup
	// then finds its successor or nothing.
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var s *Session
		s, err = c.session(ctx, lobby)
		if err != nil {
			return nil, err
		}
		err = s.join(ctx, participant, conn)
		if err == nil {
			return &Handle{session: s, participant: participant, connID: conn.ID()}, nil
		}
		if !errors.Is(err, ErrSessionClosed) {
			return nil, err
		}
	}
	return nil, err
}

// session returns the lobby's live session, creating it from the roster
// when none exists. The roster is fetched without holding the registry lock.
func (c *Coordinator) session(ctx context.Context, lobby match.LobbyID) (*Session, error) {
	c.mu.Lock()
	s, ok := c.sessions[lobby]
	c.mu.Unlock()
	if ok {
		return s, nil
	}

	if err := c.ctx.Err(); err != nil {
		return nil, ErrSessionClosed
	}

	roster, err := c.rosters.Roster(ctx, lobby)
	if err != nil {
		return nil, fmt.Errorf("load roster for lobby %d: %w", lobby, err)
	}
	if roster.Finished {
		return nil, ErrSessionClosed
	}
	if roster.Expected < 1 || roster.Expected > game.MaxPlayers {
		return nil, fmt.Errorf("lobby %d expects %d players: %w", lobby, roster.Expected, ErrBadRoster)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[lobby]; ok {
		return s, nil
	}
	// Shutdown may have started while the roster was loading.
	if c.ctx.Err() != nil {
		return nil, ErrSessionClosed
	}
	s = newSession(c, lobby, roster, c.rng(lobby))
	c.sessions[lobby] = s
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		s.run(c.ctx)
	}()
	c.log.WithField("lobby_id", lobby).Infof("Session created, waiting for %d players", roster.Expected)
	return s, nil
}

func (c *Coordinator) rng(lobby match.LobbyID) *rand.Rand {
	seed := c.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed + int64(lobby)))
}

// remove drops s from the registry if it is still the lobby's session.
func (c *Coordinator) remove(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[s.lobby] == s {
		delete(c.sessions, s.lobby)
	}
}

// Stats counts live sessions by state.
func (c *Coordinator) Stats() (forming, active int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		switch s.State() {
		case StateForming:
			forming++
		case StateActive, StateFinished:
			active++
		}
	}
	return forming, active
}

// Lookup returns the lobby's live session state.
func (c *Coordinator) Lookup(lobby match.LobbyID) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[lobby]
	if !ok {
		return 0, false
	}
	return s.State(), true
}

// Shutdown stops every session and waits for them to exit or ctx to expire.
// Connections are closed; matches in progress are abandoned.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.cancel()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle is a joined connection's path into its session.
type Handle struct {
	session     *Session
	participant match.ParticipantID
	connID      string
}

// Deliver hands a raw client message to the session. It blocks while the
// session inbox is full and fails once the session has exited.
func (h *Handle) Deliver(data []byte) error {
	return h.session.send(actionEvent{participant: h.participant, connID: h.connID, data: data})
}

// Leave removes the connection from the session. Leaving twice, or after
// being replaced by a newer connection, does nothing.
func (h *Handle) Leave() {
	_ = h.session.send(leaveEvent{participant: h.participant, connID: h.connID})
}

// Lobby reports the session's lobby.
func (h *Handle) Lobby() match.LobbyID { return h.session.lobby }
