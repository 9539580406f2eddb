package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKFactorTiers(t *testing.T) {
	assert.Equal(t, 40, KFactor(0))
	assert.Equal(t, 40, KFactor(29))
	assert.Equal(t, 20, KFactor(30))
	assert.Equal(t, 20, KFactor(299))
	assert.Equal(t, 10, KFactor(300))
	assert.Equal(t, 10, KFactor(5000))
}

func TestUpdateEqualRatingsDecisive(t *testing.T) {
	w, l := Update(Rating{Value: 1500, Games: 10}, Rating{Value: 1500, Games: 10}, false)

	assert.Equal(t, Rating{Value: 1520, Games: 11}, w)
	assert.Equal(t, Rating{Value: 1480, Games: 11}, l)
}

func TestUpdateDrawEqualRatings(t *testing.T) {
	w, l := Update(Rating{Value: 1200, Games: 3}, Rating{Value: 1200, Games: 400}, true)

	assert.Equal(t, 1200, w.Value)
	assert.Equal(t, 1200, l.Value)
	assert.Equal(t, 4, w.Games)
	assert.Equal(t, 401, l.Games)
}

func TestUpdateUsesEachSidesKFactor(t *testing.T) {
	// Veteran beats a newcomer rated the same: each moves by half their own K.
	w, l := Update(Rating{Value: 1000, Games: 300}, Rating{Value: 1000, Games: 0}, false)

	assert.Equal(t, 1005, w.Value)
	assert.Equal(t, 980, l.Value)
}

func TestUpdateUpset(t *testing.T) {
	w, l := Update(Rating{Value: 1000, Games: 0}, Rating{Value: 1400, Games: 0}, false)

	// E_w = 1/(1+10^1) = 0.0909..., so the underdog gains about 36.
	assert.Equal(t, 1036, w.Value)
	assert.Equal(t, 1364, l.Value)
}

func TestDrawFavoursLowerRated(t *testing.T) {
	a, b := Update(Rating{Value: 1000}, Rating{Value: 1400}, true)

	assert.Greater(t, a.Value, 1000)
	assert.Less(t, b.Value, 1400)
}

func TestSettleMatchesUpdateForTwo(t *testing.T) {
	winner := Rating{Value: 1320, Games: 12}
	loser := Rating{Value: 1410, Games: 150}

	w, l := Update(winner, loser, false)
	got := Settle([]Standing{{Rating: winner, Place: 0}, {Rating: loser, Place: 1}})

	assert.Equal(t, []Rating{w, l}, got)
}

func TestSettleFourPlayers(t *testing.T) {
	got := Settle([]Standing{
		{Rating: Rating{Value: 1000}, Place: 0},
		{Rating: Rating{Value: 1000}, Place: 1},
		{Rating: Rating{Value: 1000}, Place: 1},
		{Rating: Rating{Value: 1000}, Place: 1},
	})

	// Winner: 3 pairs * 40/3 * 0.5 = +20. Each loser: -40/3*0.5 once, draws twice.
	assert.Equal(t, 1020, got[0].Value)
	for _, r := range got[1:] {
		assert.Equal(t, 993, r.Value)
		assert.Equal(t, 1, r.Games)
	}
}

func TestSettleEmptyAndSingle(t *testing.T) {
	assert.Empty(t, Settle(nil))

	got := Settle([]Standing{{Rating: Rating{Value: 1100, Games: 2}}})
	assert.Equal(t, []Rating{{Value: 1100, Games: 3}}, got)
}
