// Package network carries the lobby protocol over websockets: the HTTP
// server that upgrades player connections and a dial client for the TUI and
// bots.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/amalg/bomberman-arena/internal/match"
	"github.com/amalg/bomberman-arena/internal/session"
)

// ErrUnauthenticated is returned by authenticators that cannot identify the
// caller.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the participant behind an upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (match.ParticipantID, error)
}

// QueryAuthenticator trusts the "user" query parameter. It is meant for
// development and LAN play.
type QueryAuthenticator struct{}

func (QueryAuthenticator) Authenticate(r *http.Request) (match.ParticipantID, error) {
	raw := r.URL.Query().Get(UserParam)
	if raw == "" {
		return 0, fmt.Errorf("missing %s parameter: %w", UserParam, ErrUnauthenticated)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad %s parameter %q: %w", UserParam, raw, ErrUnauthenticated)
	}
	return match.ParticipantID(id), nil
}

// Lobbies admits connections into lobby sessions.
type Lobbies interface {
	Join(ctx context.Context, lobby match.LobbyID, participant match.ParticipantID, conn session.Conn) (*session.Handle, error)
}

// Server hosts the websocket endpoint.
type Server struct {
	lobbies  Lobbies
	auth     Authenticator
	log      *logrus.Entry
	upgrader websocket.Upgrader
	http     *http.Server
}

// NewServer creates a server for addr. Call ListenAndServe or mount Handler.
func NewServer(addr string, lobbies Lobbies, auth Authenticator, log *logrus.Entry) *Server {
	s := &Server{
		lobbies: lobbies,
		auth:    auth,
		log:     log.WithField("component", "network"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler routes /ws/{lobby} and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{lobby}", s.handleWS)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// ListenAndServe blocks until the server stops. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Infof("Listening on %s", ln.Addr())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting upgrades. Established websockets are closed by
// their sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	rawLobby := r.PathValue("lobby")
	lobbyID, err := strconv.ParseInt(rawLobby, 10, 64)
	if err != nil {
		http.Error(w, "bad lobby id", http.StatusBadRequest)
		return
	}
	lobby := match.LobbyID(lobbyID)

	participant, err := s.auth.Authenticate(r)
	if err != nil {
		s.log.WithError(err).WithField("lobby_id", lobby).Warn("Rejected connection")
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("Upgrade failed")
		return
	}

	c := newConn(ws, s.log.WithFields(logrus.Fields{
		"lobby_id":       lobby,
		"participant_id": participant,
	}))
	go c.writePump()

	handle, err := s.lobbies.Join(r.Context(), lobby, participant, c)
	if err != nil {
		code, reason := closeFor(err)
		c.log.WithError(err).Info("Join refused")
		c.closeWith(code, reason)
		return
	}

	go c.readPump(handle)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
