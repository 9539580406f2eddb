// Package rating implements the Elo update applied when a match finishes.
package rating

import "math"

// DefaultValue is the rating of a participant who has never played.
const DefaultValue = 1000

// Rating is a participant's current rating and number of rated games.
type Rating struct {
	Value int `json:"rating"`
	Games int `json:"games_played"`
}

// Default returns the rating of a new participant.
func Default() Rating {
	return Rating{Value: DefaultValue}
}

// KFactor returns the K-factor for a participant with the given number of
// games played.
func KFactor(games int) int {
	switch {
	case games < 30:
		return 40
	case games < 300:
		return 20
	default:
		return 10
	}
}

// Expected returns the expected score of a player rated r against opp.
func Expected(r, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-r)/400))
}

// Update applies a two-player Elo update. With draw set both sides score 0.5,
// otherwise winner scores 1 and loser 0. Games played increments on both
// sides whatever the outcome.
func Update(winner, loser Rating, draw bool) (Rating, Rating) {
	sw, sl := 1.0, 0.0
	if draw {
		sw, sl = 0.5, 0.5
	}

	ew := Expected(winner.Value, loser.Value)
	el := Expected(loser.Value, winner.Value)

	newWinner := Rating{
		Value: round(float64(winner.Value) + float64(KFactor(winner.Games))*(sw-ew)),
		Games: winner.Games + 1,
	}
	newLoser := Rating{
		Value: round(float64(loser.Value) + float64(KFactor(loser.Games))*(sl-el)),
		Games: loser.Games + 1,
	}
	return newWinner, newLoser
}

// Standing is one participant's input to Settle. Lower Place is better;
// equal places score as a draw between the two.
type Standing struct {
	Rating Rating
	Place  int
}

// Settle rates a match of any size as pairwise Elo between every pair of
// participants, each pair weighted by K/(N-1). For two participants it gives
// the same result as Update. The returned slice is parallel to standings.
func Settle(standings []Standing) []Rating {
	out := make([]Rating, len(standings))
	n := len(standings)
	if n == 0 {
		return out
	}

	for i, si := range standings {
		if n == 1 {
			out[i] = Rating{Value: si.Rating.Value, Games: si.Rating.Games + 1}
			continue
		}

		weight := float64(KFactor(si.Rating.Games)) / float64(n-1)
		change := 0.0
		for j, sj := range standings {
			if i == j {
				continue
			}
			change += weight * (score(si.Place, sj.Place) - Expected(si.Rating.Value, sj.Rating.Value))
		}
		out[i] = Rating{
			Value: round(float64(si.Rating.Value) + change),
			Games: si.Rating.Games + 1,
		}
	}
	return out
}

func score(place, other int) float64 {
	switch {
	case place < other:
		return 1
	case place > other:
		return 0
	default:
		return 0.5
	}
}

// round rounds half to even, matching how stored ratings have always been
// rounded.
func round(v float64) int {
	return int(math.RoundToEven(v))
}
