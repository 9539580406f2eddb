package network

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amalg/bomberman-arena/internal/match"
	"github.com/amalg/bomberman-arena/internal/session"
)

// WebSocket timings shared by the server pumps and the dial client.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// UserParam is the query parameter QueryAuthenticator reads.
const UserParam = "user"

// LobbyURL builds the websocket URL for joining lobby as user. base may be a
// ws(s):// or http(s):// URL or a bare host:port.
func LobbyURL(base string, lobby match.LobbyID, user match.ParticipantID) string {
	switch {
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case !strings.Contains(base, "://"):
		base = "ws://" + base
	}
	return fmt.Sprintf("%s/ws/%d?%s=%d", strings.TrimRight(base, "/"), lobby, UserParam, user)
}

// closeFor maps a join failure to the close frame sent before hanging up.
func closeFor(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNotInRoster):
		return websocket.ClosePolicyViolation, "not in roster"
	case errors.Is(err, session.ErrMatchInProgress):
		return websocket.ClosePolicyViolation, "match in progress"
	case errors.Is(err, session.ErrSessionClosed):
		return websocket.ClosePolicyViolation, "lobby closed"
	case errors.Is(err, session.ErrBadRoster):
		return websocket.ClosePolicyViolation, "lobby cannot be played"
	}
	return websocket.CloseInternalServerErr, "join failed"
}
