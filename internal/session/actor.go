package session

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
	"github.com/amalg/bomberman-arena/internal/protocol"
	"github.com/amalg/bomberman-arena/internal/replay"
)

var substitutedParams = json.RawMessage(`{"substituted":true}`)

type joinEvent struct {
	participant match.ParticipantID
	conn        Conn
	reply       chan error
}

type leaveEvent struct {
	participant match.ParticipantID
	connID      string
}

type actionEvent struct {
	participant match.ParticipantID
	connID      string
	data        []byte
}

// Session is one lobby's match. Everything below the channels is owned by
// the run goroutine.
type Session struct {
	c      *Coordinator
	cfg    Config
	lobby  match.LobbyID
	roster match.Roster
	rng    *rand.Rand
	log    *logrus.Entry

	inbox chan any
	done  chan struct{}
	state atomic.Int32

	conns map[match.ParticipantID]Conn
	seen  map[match.ParticipantID]bool
	order []match.ParticipantID // first connection order

	participants []match.ParticipantID // indexed by internal id
	internal     map[match.ParticipantID]int
	engine       *game.Engine
	pending      map[int]game.Action
	recorder     *replay.Recorder

	tickTimer  *time.Timer
	retryTimer *time.Timer
	finish     *finishJob
	closed     bool
}

func newSession(c *Coordinator, lobby match.LobbyID, roster match.Roster, rng *rand.Rand) *Session {
	return &Session{
		c:      c,
		cfg:    c.cfg,
		lobby:  lobby,
		roster: roster,
		rng:    rng,
		log:    c.log.WithField("lobby_id", lobby),
		inbox:  make(chan any, c.cfg.InboxSize),
		done:   make(chan struct{}),
		conns:  make(map[match.ParticipantID]Conn),
		seen:   make(map[match.ParticipantID]bool),
	}
}

// State reports the session's lifecycle stage. Safe from any goroutine.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

func (s *Session) send(ev any) error {
	select {
	case s.inbox <- ev:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) join(ctx context.Context, participant match.ParticipantID, conn Conn) error {
	reply := make(chan error, 1)
	if err := s.send(joinEvent{participant: participant, conn: conn, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (s *Session) run(ctx context.Context) {
	defer func() {
		stopTimer(&s.tickTimer)
		stopTimer(&s.retryTimer)
		s.c.remove(s)
		close(s.done)
	}()

	for !s.closed {
		select {
		case <-ctx.Done():
			s.abandon()
			return
		case ev := <-s.inbox:
			switch ev := ev.(type) {
			case joinEvent:
				s.onJoin(ctx, ev)
			case leaveEvent:
				s.onLeave(ctx, ev)
			case actionEvent:
				s.onAction(ctx, ev)
			}
		case <-timerC(s.tickTimer):
			s.tickTimer = nil
			s.onTickTimeout(ctx)
		case <-timerC(s.retryTimer):
			s.retryTimer = nil
			s.onRetry(ctx)
		}
	}
}

func (s *Session) onJoin(ctx context.Context, ev joinEvent) {
	log := s.log.WithFields(logrus.Fields{"participant_id": ev.participant, "conn_id": ev.conn.ID()})

	switch s.State() {
	case StateForming:
		if !s.roster.Permits(ev.participant) {
			ev.reply <- ErrNotInRoster
			return
		}
		s.attach(ev.participant, ev.conn)
		if !s.seen[ev.participant] {
			s.seen[ev.participant] = true
			s.order = append(s.order, ev.participant)
		}
		ev.reply <- nil
		log.Infof("Participant connected (%d/%d)", len(s.conns), s.roster.Expected)

		if len(s.conns) >= s.roster.Expected {
			s.activate(ctx)
		}

	case StateActive:
		if _, ok := s.internal[ev.participant]; !ok {
			if s.roster.Permits(ev.participant) {
				ev.reply <- ErrMatchInProgress
			} else {
				ev.reply <- ErrNotInRoster
			}
			return
		}
		s.attach(ev.participant, ev.conn)
		ev.reply <- nil
		log.Info("Participant reconnected")
		s.resync(ctx, ev.conn)

	default:
		ev.reply <- ErrSessionClosed
	}
}

// attach registers conn, closing any older connection of the participant.
func (s *Session) attach(participant match.ParticipantID, conn Conn) {
	if old, ok := s.conns[participant]; ok && old.ID() != conn.ID() {
		s.log.WithFields(logrus.Fields{
			"participant_id": participant,
			"conn_id":        old.ID(),
		}).Info("Connection replaced by a newer one")
		_ = old.Close()
	}
	s.conns[participant] = conn
}

func (s *Session) onLeave(ctx context.Context, ev leaveEvent) {
	conn, ok := s.conns[ev.participant]
	if !ok || conn.ID() != ev.connID {
		return
	}
	delete(s.conns, ev.participant)
	s.log.WithFields(logrus.Fields{
		"participant_id": ev.participant,
		"conn_id":        ev.connID,
	}).Infof("Participant disconnected (%d connected)", len(s.conns))

	if len(s.conns) > 0 {
		return
	}
	switch s.State() {
	case StateForming:
		s.log.Info("Lobby emptied before the match started")
		s.closed = true
	case StateActive:
		s.log.Warn("All participants left, abandoning match")
		stopTimer(&s.tickTimer)
		stopTimer(&s.retryTimer)
		if err := s.storeCall(ctx, func(ctx context.Context) error {
			return s.c.snapshots.DeleteSnapshot(ctx, s.lobby)
		}); err != nil {
			s.log.WithError(err).Error("Failed to delete snapshot")
		}
		s.closed = true
	case StateFinished:
		// The result still has to be written.
	}
}

// activate starts the match with everyone currently connected.
func (s *Session) activate(ctx context.Context) {
	participants := make([]match.ParticipantID, 0, len(s.conns))
	for _, p := range s.order {
		if _, ok := s.conns[p]; ok {
			participants = append(participants, p)
		}
	}

	engine, err := game.NewEngine(s.cfg.Rules, len(participants), s.rng)
	if err != nil {
		s.log.WithError(err).Error("Cannot start match")
		s.abandon()
		s.closed = true
		return
	}

	s.participants = participants
	s.internal = make(map[match.ParticipantID]int, len(participants))
	for i, p := range participants {
		s.internal[p] = i
	}
	s.engine = engine
	s.pending = make(map[int]game.Action, len(participants))
	s.setState(StateActive)

	initial := engine.Export()
	view := protocol.View(initial, participants)
	for _, p := range participants {
		conn := s.conns[p]
		s.deliver(p, conn, protocol.StartGame(p))
		s.deliver(p, conn, protocol.StateMessage(protocol.EventInitState, view))
	}

	if err := s.storeCall(ctx, func(ctx context.Context) error {
		return s.c.snapshots.PutSnapshot(ctx, s.lobby, initial)
	}); err != nil {
		s.log.WithError(err).Error("Failed to store initial snapshot")
	}
	s.recorder = replay.NewRecorder(s.cfg.Rules, initial, participants)

	if err := s.storeCall(ctx, func(ctx context.Context) error {
		return s.c.rosters.MarkStarted(ctx, s.lobby)
	}); err != nil {
		s.log.WithError(err).Error("Failed to mark lobby started")
	}

	s.log.WithField("participants", participants).Info("Match started")
	s.log.Debugf("Initial board\n%s", engine.State)
	s.armTickTimer()
}

// resync sends a returning participant the last committed state.
func (s *Session) resync(ctx context.Context, conn Conn) {
	s.deliverConn(conn, protocol.Resume())

	var (
		snap game.Snapshot
		ok   bool
	)
	err := s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		snap, ok, err = s.c.snapshots.GetSnapshot(ctx, s.lobby)
		return err
	})
	if err != nil || !ok {
		if err != nil {
			s.log.WithError(err).Warn("Snapshot unavailable, resyncing from memory")
		}
		snap = s.engine.Export()
	}
	s.deliverConn(conn, protocol.StateMessage(protocol.EventReconnectState, protocol.View(snap, s.participants)))
}

func (s *Session) onAction(ctx context.Context, ev actionEvent) {
	if s.State() != StateActive {
		return
	}
	id, ok := s.internal[ev.participant]
	if !ok {
		return
	}
	if conn, ok := s.conns[ev.participant]; !ok || conn.ID() != ev.connID {
		return
	}

	msg, err := protocol.ParseClientMessage(ev.data)
	if err != nil {
		s.log.WithField("participant_id", ev.participant).WithError(err).Warn("Dropping invalid action")
		return
	}

	s.pending[id] = msg.Action
	s.record(replay.Entry{Tick: s.engine.State.Tick, InternalID: id, Action: msg.Action, Params: msg.Params})

	// A tick waiting on a store retry resumes from its own timer.
	if s.retryTimer != nil {
		return
	}
	if len(s.pending) == len(s.participants) {
		s.tick(ctx)
	}
}

func (s *Session) onTickTimeout(ctx context.Context) {
	if s.State() != StateActive || s.retryTimer != nil {
		return
	}
	for id, p := range s.participants {
		if _, ok := s.pending[id]; ok {
			continue
		}
		s.pending[id] = game.Stay
		s.record(replay.Entry{Tick: s.engine.State.Tick, InternalID: id, Action: game.Stay, Params: substitutedParams})
		s.log.WithField("participant_id", p).Info("No action before tick timeout, substituting STAY")
	}
	s.tick(ctx)
}

func (s *Session) onRetry(ctx context.Context) {
	switch s.State() {
	case StateActive:
		s.tick(ctx)
	case StateFinished:
		s.continueFinish(ctx)
	}
}

func (s *Session) record(e replay.Entry) {
	if err := s.recorder.Append(e); err != nil {
		s.log.WithError(err).Error("Failed to record action")
	}
}

// tick advances the match once every participant has a pending action. The
// new state is committed only after the snapshot is stored.
func (s *Session) tick(ctx context.Context) {
	if len(s.pending) != len(s.participants) {
		panic("session: tick with incomplete action set")
	}
	stopTimer(&s.tickTimer)

	next := s.engine.Clone()
	next.Advance(s.pending)
	snap := next.Export()

	if err := s.storeCall(ctx, func(ctx context.Context) error {
		return s.c.snapshots.PutSnapshot(ctx, s.lobby, snap)
	}); err != nil {
		s.log.WithError(err).WithField("tick", snap.Tick).Error("Snapshot write failed, tick aborted")
		s.retryTimer = time.NewTimer(s.cfg.RetryInterval)
		return
	}

	s.engine = next
	s.pending = make(map[int]game.Action, len(s.participants))
	s.broadcast(protocol.StateMessage(protocol.EventState, protocol.View(snap, s.participants)))
	s.log.WithField("tick", snap.Tick).Debugf("Tick advanced\n%s", next.State)

	if out := next.Winner(); out.Finished() {
		s.startFinish(ctx, out)
		return
	}
	s.armTickTimer()
}

func (s *Session) armTickTimer() {
	stopTimer(&s.tickTimer)
	if s.cfg.TickTimeout > 0 {
		s.tickTimer = time.NewTimer(s.cfg.TickTimeout)
	}
}

func (s *Session) broadcast(msg protocol.ServerMessage) {
	for p, conn := range s.conns {
		s.deliver(p, conn, msg)
	}
}

func (s *Session) deliver(p match.ParticipantID, conn Conn, msg protocol.ServerMessage) {
	if err := conn.Send(msg); err != nil {
		s.log.WithFields(logrus.Fields{
			"participant_id": p,
			"conn_id":        conn.ID(),
			"event":          msg.Event,
		}).WithError(err).Debug("Send failed")
	}
}

func (s *Session) deliverConn(conn Conn, msg protocol.ServerMessage) {
	if err := conn.Send(msg); err != nil {
		s.log.WithField("conn_id", conn.ID()).WithError(err).Debug("Send failed")
	}
}

// abandon closes every connection without recording anything.
func (s *Session) abandon() {
	if s.finish != nil {
		s.log.Error("Shutting down before the match result was stored")
	}
	for p, conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, p)
	}
}

func (s *Session) storeCall(ctx context.Context, op func(context.Context) error) error {
	return retry(ctx, s.cfg.RetryAttempts, s.cfg.RetryBackoff, s.cfg.StoreTimeout, op)
}
