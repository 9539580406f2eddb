package session

import (
	"context"
	"fmt"
	"time"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
	"github.com/amalg/bomberman-arena/internal/protocol"
	"github.com/amalg/bomberman-arena/internal/replay"
)

// finishJob tracks which termination steps have been stored, so a retry
// resumes where the last attempt failed.
type finishJob struct {
	outcome      game.Outcome
	ticks        int
	record       replay.Record
	result       *match.Result
	matchID      int64
	replayStored bool
}

func (s *Session) startFinish(ctx context.Context, out game.Outcome) {
	s.setState(StateFinished)
	stopTimer(&s.tickTimer)
	s.finish = &finishJob{
		outcome: out,
		ticks:   s.engine.State.Tick,
		record:  s.recorder.Seal(),
	}
	s.log.WithField("tick", s.engine.State.Tick).Infof("Match over: %s", out.Status)
	s.continueFinish(ctx)
}

// continueFinish writes the result and replay, then closes the session.
// A failed write schedules another attempt.
func (s *Session) continueFinish(ctx context.Context) {
	f := s.finish

	if f.result == nil {
		res := BuildResult(s.lobby, s.participants, f.outcome, f.ticks)
		f.result = &res
	}

	if f.matchID == 0 {
		if err := s.storeCall(ctx, func(ctx context.Context) error {
			var err error
			f.matchID, err = s.c.matches.RecordMatchResult(ctx, *f.result)
			return err
		}); err != nil {
			s.finishFailed(fmt.Errorf("record match result: %w", err))
			return
		}
	}

	if !f.replayStored {
		if err := s.storeCall(ctx, func(ctx context.Context) error {
			return s.c.matches.RecordReplay(ctx, f.matchID, f.record)
		}); err != nil {
			s.finishFailed(fmt.Errorf("record replay: %w", err))
			return
		}
		f.replayStored = true

		if s.cfg.ReplayDir != "" {
			name := fmt.Sprintf("match_%d_lobby_%d", f.matchID, s.lobby)
			if path, err := replay.SaveFile(s.cfg.ReplayDir, name, f.record); err != nil {
				s.log.WithError(err).Error("Failed to write replay file")
			} else {
				s.log.WithField("path", path).Debug("Replay file written")
			}
		}
	}

	if err := s.storeCall(ctx, func(ctx context.Context) error {
		return s.c.snapshots.DeleteSnapshot(ctx, s.lobby)
	}); err != nil {
		s.log.WithError(err).Error("Failed to delete snapshot")
	}

	msg := protocol.GameOver(f.result.WinnerID)
	for p, conn := range s.conns {
		s.deliver(p, conn, msg)
		_ = conn.Close()
		delete(s.conns, p)
	}

	s.log.WithField("match_id", f.matchID).Infof("Match recorded: %s after %d ticks", f.result.Outcome, f.ticks)
	s.closed = true
}

func (s *Session) finishFailed(err error) {
	s.log.WithError(err).Errorf("Finishing match failed, retrying in %s", s.cfg.RetryInterval)
	s.retryTimer = time.NewTimer(s.cfg.RetryInterval)
}

// BuildResult derives the match record. participants is indexed by internal
// id. Rating columns are left for the match store, which rates the result
// against the ratings current when it is written.
func BuildResult(lobby match.LobbyID, participants []match.ParticipantID, out game.Outcome, ticks int) match.Result {
	decisive := out.Status == game.StatusWinner

	res := match.Result{
		LobbyID:      lobby,
		Outcome:      match.OutcomeDraw,
		Ticks:        ticks,
		Participants: make([]match.ParticipantResult, len(participants)),
	}
	for i, p := range participants {
		outcome := match.OutcomeDraw
		if decisive {
			outcome = match.OutcomeLoss
			if i == out.WinnerID {
				outcome = match.OutcomeWin
			}
		}
		res.Participants[i] = match.ParticipantResult{
			ParticipantID: p,
			InternalID:    i,
			Outcome:       outcome,
		}
	}

	if decisive && out.WinnerID >= 0 && out.WinnerID < len(participants) {
		res.Outcome = match.OutcomeWin
		winner := participants[out.WinnerID]
		res.WinnerID = &winner
		if len(participants) == 2 {
			loser := participants[1-out.WinnerID]
			res.LoserID = &loser
		}
	}
	return res
}
