package protocol

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
)

func TestParseClientMessage(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"action":"BOMB"}`))
	require.NoError(t, err)
	assert.Equal(t, game.PlaceBomb, msg.Action)
	assert.Nil(t, msg.Params)

	msg, err = ParseClientMessage([]byte(`{"action":"LEFT","note":"dodge","seq":4}`))
	require.NoError(t, err)
	assert.Equal(t, game.Left, msg.Action)
	assert.JSONEq(t, `{"note":"dodge","seq":4}`, string(msg.Params))
}

func TestParseClientMessageRejects(t *testing.T) {
	cases := map[string]error{
		`{"action":"JUMP"}`: game.ErrInvalidAction,
		`{"action":"bomb"}`: game.ErrInvalidAction,
		`{"action":3}`:      ErrMalformed,
		`{"move":"UP"}`:     ErrMalformed,
		`["UP"]`:            ErrMalformed,
		`not json`:          ErrMalformed,
	}
	for payload, want := range cases {
		_, err := ParseClientMessage([]byte(payload))
		assert.ErrorIs(t, err, want, payload)
	}
}

func TestEncodeActionRoundTrip(t *testing.T) {
	data, err := EncodeAction(game.Up, map[string]any{"action": "ignored", "bot": true})
	require.NoError(t, err)

	msg, err := ParseClientMessage(data)
	require.NoError(t, err)
	assert.Equal(t, game.Up, msg.Action)
	assert.JSONEq(t, `{"bot":true}`, string(msg.Params))
}

func TestViewTranslatesIdentity(t *testing.T) {
	rules := game.DefaultRules()
	rules.DestructibleDensity = 0
	engine, err := game.NewEngine(rules, 2, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	engine.Advance(map[int]game.Action{0: game.Stay, 1: game.PlaceBomb})

	view := View(engine.Export(), []match.ParticipantID{42, 7})

	require.Len(t, view.Players, 2)
	assert.Equal(t, PlayerView{X: 1, Y: 1, Alive: true}, view.Players[42])
	assert.Equal(t, PlayerView{X: rules.Width - 2, Y: 1, Alive: true}, view.Players[7])
	require.Len(t, view.Bombs, 1)
	assert.Equal(t, match.ParticipantID(7), view.Bombs[0].OwnerID)
	assert.Equal(t, "BOMB", view.Grid[1][rules.Width-2])
	assert.Equal(t, []match.ParticipantID{7, 42}, view.ParticipantIDs())
}

func TestServerMessageJSON(t *testing.T) {
	data, err := json.Marshal(StartGame(12))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"start_game","participantId":12}`, string(data))

	data, err = json.Marshal(Resume())
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"resume"}`, string(data))

	data, err = json.Marshal(GameOver(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"game_over","outcome":"draw"}`, string(data))

	winner := match.ParticipantID(5)
	data, err = json.Marshal(GameOver(&winner))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"game_over","winnerId":5,"outcome":"win"}`, string(data))
}

func TestStateMessageFlattensView(t *testing.T) {
	view := &StateView{
		Tick:    3,
		Width:   3,
		Height:  1,
		Grid:    [][]string{{"WALL", "FIRE", "WALL"}},
		Players: map[match.ParticipantID]PlayerView{9: {X: 1, Y: 0, Alive: false}},
		Bombs:   []BombView{},
		Fire:    []game.FireSnapshot{{X: 1, Y: 0, TTL: 1}},
	}
	data, err := json.Marshal(StateMessage(EventState, view))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"event": "state",
		"tick": 3, "width": 3, "height": 1,
		"grid": [["WALL","FIRE","WALL"]],
		"players": {"9": {"x":1,"y":0,"alive":false}},
		"bombs": [],
		"fire": [{"x":1,"y":0,"ttl":1}]
	}`, string(data))

	var decoded ServerMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.StateView)
	assert.Equal(t, view, decoded.StateView)
}

func TestSchema(t *testing.T) {
	s := Schema()
	require.NotNil(t, s.Server)
	require.NotNil(t, s.Client)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), "start_game")
	assert.Contains(t, string(data), "BOMB")
}
