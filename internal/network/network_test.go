package network

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
	"github.com/amalg/bomberman-arena/internal/protocol"
	"github.com/amalg/bomberman-arena/internal/replay"
	"github.com/amalg/bomberman-arena/internal/session"
	"github.com/amalg/bomberman-arena/internal/store"
)

type fixture struct {
	srv   *httptest.Server
	lobby match.LobbyID
	mem   *store.Memory
}

func newFixture(t *testing.T, players ...match.ParticipantID) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	entry := logrus.NewEntry(log)

	mem := store.NewMemory()
	lobby, err := mem.CreateLobby(context.Background(), len(players), players)
	require.NoError(t, err)

	cfg := session.DefaultConfig()
	cfg.Rules = game.Rules{Width: 7, Height: 5, BombTimer: 3, BombRadius: 2, FireTTL: 2}
	cfg.TickTimeout = 0
	cfg.Seed = 1
	coord := session.NewCoordinator(cfg, mem, mem, mem, entry)

	server := NewServer("127.0.0.1:0", coord, QueryAuthenticator{}, entry)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
		srv.Close()
	})
	return &fixture{srv: srv, lobby: lobby, mem: mem}
}

func (f *fixture) dial(t *testing.T, user match.ParticipantID) *Client {
	t.Helper()
	c, err := Dial(context.Background(), LobbyURL(f.srv.URL, f.lobby, user))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func next(t *testing.T, c *Client) protocol.ServerMessage {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		require.True(t, ok, "connection closed: %v", c.Err())
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a server message")
	}
	return protocol.ServerMessage{}
}

func TestLobbyURL(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:8080/ws/3?user=9", LobbyURL("http://127.0.0.1:8080", 3, 9))
	assert.Equal(t, "wss://example.com/ws/3?user=9", LobbyURL("https://example.com/", 3, 9))
	assert.Equal(t, "ws://10.0.0.2:8080/ws/1?user=2", LobbyURL("10.0.0.2:8080", 1, 2))
	assert.Equal(t, "ws://h:1/ws/1?user=2", LobbyURL("ws://h:1", 1, 2))
}

func TestMatchOverWebsocket(t *testing.T) {
	f := newFixture(t, 1, 2)
	a := f.dial(t, 1)
	b := f.dial(t, 2)

	for _, c := range []*Client{a, b} {
		start := next(t, c)
		require.Equal(t, protocol.EventStartGame, start.Event)
		init := next(t, c)
		require.Equal(t, protocol.EventInitState, init.Event)
		require.NotNil(t, init.StateView)
		assert.Equal(t, 0, init.Tick)
		assert.Len(t, init.Players, 2)
	}
	assert.Equal(t, match.ParticipantID(1), a.Participant())
	assert.Equal(t, match.ParticipantID(2), b.Participant())

	// Malformed input is ignored and does not cost the connection.
	require.NoError(t, a.writeRaw([]byte("garbage")))

	require.NoError(t, a.SendActionParams(game.PlaceBomb, map[string]any{"note": "hi"}))
	require.NoError(t, b.SendAction(game.Stay))
	assert.Equal(t, 1, next(t, a).Tick)
	assert.Equal(t, 1, next(t, b).Tick)

	for tick := 2; tick <= 3; tick++ {
		require.NoError(t, a.SendAction(game.Stay))
		require.NoError(t, b.SendAction(game.Stay))
		assert.Equal(t, tick, next(t, a).Tick)
	}

	over := next(t, a)
	require.Equal(t, protocol.EventGameOver, over.Event)
	require.NotNil(t, over.WinnerID)
	assert.Equal(t, match.ParticipantID(2), *over.WinnerID)

	// The server hangs up normally after game_over.
	select {
	case _, ok := <-a.Messages():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed after game_over")
	}
	assert.NoError(t, a.Err())

	rec, err := f.mem.Replay(context.Background(), 1)
	require.NoError(t, err)
	var bomb *replay.Entry
	for i, e := range rec.Actions {
		if e.Tick == 0 && e.InternalID == 0 {
			bomb = &rec.Actions[i]
		}
	}
	require.NotNil(t, bomb)
	assert.Equal(t, game.PlaceBomb, bomb.Action)
	assert.JSONEq(t, `{"note":"hi"}`, string(bomb.Params))
}

func TestJoinRefusedWithReason(t *testing.T) {
	f := newFixture(t, 1, 2)
	c := f.dial(t, 99)

	select {
	case _, ok := <-c.Messages():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("refused connection stayed open")
	}
	require.Error(t, c.Err())
	assert.Contains(t, c.Err().Error(), "not in roster")
}

func TestUpgradeRejections(t *testing.T) {
	f := newFixture(t, 1, 2)

	_, resp, err := websocket.DefaultDialer.Dial(
		"ws"+f.srv.URL[len("http"):]+"/ws/1", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(
		"ws"+f.srv.URL[len("http"):]+"/ws/abc?user=1", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = Dial(context.Background(), LobbyURL(f.srv.URL, f.lobby, 0))
	assert.Error(t, err)
}

func TestReconnectOverWebsocket(t *testing.T) {
	f := newFixture(t, 1, 2)
	a := f.dial(t, 1)
	b := f.dial(t, 2)
	next(t, a)
	next(t, a)
	next(t, b)
	next(t, b)

	require.NoError(t, a.SendAction(game.Down))
	require.NoError(t, b.SendAction(game.Stay))
	state := next(t, a)
	next(t, b)
	require.NoError(t, a.Close())

	a2 := f.dial(t, 1)
	assert.Equal(t, protocol.EventResume, next(t, a2).Event)
	resumed := next(t, a2)
	assert.Equal(t, protocol.EventReconnectState, resumed.Event)
	assert.Equal(t, state.StateView, resumed.StateView)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 1, 2)
	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestQueryAuthenticator(t *testing.T) {
	var auth QueryAuthenticator
	for raw, ok := range map[string]bool{"7": true, "": false, "x": false, "-3": false, "0": false} {
		r := httptest.NewRequest(http.MethodGet, "/ws/1?user="+raw, nil)
		id, err := auth.Authenticate(r)
		if ok {
			require.NoError(t, err)
			assert.Equal(t, match.ParticipantID(7), id)
		} else {
			assert.ErrorIs(t, err, ErrUnauthenticated, "user=%q", raw)
		}
	}
}
