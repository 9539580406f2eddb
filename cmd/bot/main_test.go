package main

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
)

func TestPickFollowsWeights(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	counts := make(map[game.Action]int)
	for i := 0; i < 44000; i++ {
		counts[pick(rng)]++
	}
	// 10/44 per direction, 3/44 stay, 1/44 bomb.
	assert.InDelta(t, 10000, counts[game.Up], 500)
	assert.InDelta(t, 3000, counts[game.Stay], 300)
	assert.InDelta(t, 1000, counts[game.PlaceBomb], 200)
}

func TestParseUsers(t *testing.T) {
	ids, err := parseUsers("1, 2,3")
	require.NoError(t, err)
	assert.Equal(t, []match.ParticipantID{1, 2, 3}, ids)

	_, err = parseUsers("")
	assert.Error(t, err)
	_, err = parseUsers("1,-2")
	assert.Error(t, err)
}
