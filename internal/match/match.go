// Package match holds the records shared between the session coordinator,
// the persistence layer and the rating updater.
package match

import (
	"strconv"
	"time"

	"github.com/amalg/bomberman-arena/internal/rating"
)

// LobbyID identifies a lobby and the session running in it.
type LobbyID int64

func (id LobbyID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParticipantID is the external identity of a player (a user id).
type ParticipantID int64

func (id ParticipantID) String() string { return strconv.FormatInt(int64(id), 10) }

// Roster is what the roster source knows about a lobby at formation time.
// Finished is set for lobbies whose match has already been recorded.
type Roster struct {
	Expected int
	Allowed  []ParticipantID
	Finished bool
}

// Permits reports whether id may join the lobby.
func (r Roster) Permits(id ParticipantID) bool {
	for _, a := range r.Allowed {
		if a == id {
			return true
		}
	}
	return false
}

// Outcome is the textual outcome stored with a match result.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

// ParticipantResult is one participant's line of a finished match.
type ParticipantResult struct {
	ParticipantID ParticipantID `json:"participant_id"`
	InternalID    int           `json:"internal_id"`
	Outcome       Outcome       `json:"outcome"`
	RatingBefore  int           `json:"rating_before"`
	RatingAfter   int           `json:"rating_after"`
	GamesPlayed   int           `json:"games_played"`
}

// Delta is the rating change of the participant.
func (p ParticipantResult) Delta() int { return p.RatingAfter - p.RatingBefore }

// Result is the record handed to the match store when a session finishes.
// WinnerID and LoserID are set for decisive two-participant matches; LoserID
// stays nil when more than one participant lost.
type Result struct {
	LobbyID      LobbyID             `json:"lobby_id"`
	WinnerID     *ParticipantID      `json:"winner_id,omitempty"`
	LoserID      *ParticipantID      `json:"loser_id,omitempty"`
	Outcome      Outcome             `json:"outcome"`
	Ticks        int                 `json:"ticks"`
	WinnerDelta  int                 `json:"winner_delta"`
	LoserDelta   int                 `json:"loser_delta"`
	Participants []ParticipantResult `json:"participants"`
}

// Summary is a row of a participant's match history.
type Summary struct {
	MatchID     int64           `json:"match_id"`
	LobbyID     LobbyID         `json:"lobby_id"`
	Outcome     Outcome         `json:"outcome"`
	Ticks       int             `json:"ticks"`
	RatingDelta int             `json:"rating_delta"`
	PlayedAt    time.Time       `json:"played_at"`
	Opponents   []ParticipantID `json:"opponents"`
}

// Rated returns a copy of r whose rating columns are computed from before,
// the participants' ratings going into the match. Participants missing from
// before start at rating.Default. Winners and drawn participants place first,
// losers tie for second.
func (r Result) Rated(before map[ParticipantID]rating.Rating) Result {
	standings := make([]rating.Standing, len(r.Participants))
	for i, p := range r.Participants {
		cur, ok := before[p.ParticipantID]
		if !ok {
			cur = rating.Default()
		}
		place := 0
		if p.Outcome == OutcomeLoss {
			place = 1
		}
		standings[i] = rating.Standing{Rating: cur, Place: place}
	}
	after := rating.Settle(standings)

	out := r
	out.Participants = make([]ParticipantResult, len(r.Participants))
	out.WinnerDelta, out.LoserDelta = 0, 0
	for i, p := range r.Participants {
		p.RatingBefore = standings[i].Rating.Value
		p.RatingAfter = after[i].Value
		p.GamesPlayed = after[i].Games
		out.Participants[i] = p

		if r.WinnerID != nil && p.ParticipantID == *r.WinnerID {
			out.WinnerDelta = p.Delta()
		}
		if r.LoserID != nil && p.ParticipantID == *r.LoserID {
			out.LoserDelta = p.Delta()
		}
	}
	return out
}

// IDs lists the participants in result order.
func (r Result) IDs() []ParticipantID {
	ids := make([]ParticipantID, len(r.Participants))
	for i, p := range r.Participants {
		ids[i] = p.ParticipantID
	}
	return ids
}
