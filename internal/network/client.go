package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
	"github.com/amalg/bomberman-arena/internal/protocol"
)

// Client is a player's connection to a lobby.
type Client struct {
	ws       *websocket.Conn
	messages chan protocol.ServerMessage
	done     chan struct{}

	writeMu sync.Mutex

	mu          sync.Mutex
	participant match.ParticipantID
	err         error
}

// Dial connects to a lobby URL (see LobbyURL).
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("connect to %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("connect to %s: %w", url, err)
	}

	c := &Client{
		ws:       ws,
		messages: make(chan protocol.ServerMessage, sendBuffer),
		done:     make(chan struct{}),
	}

	// Start receiving server messages
	go c.receiveLoop()

	return c, nil
}

// Participant returns the identity announced by start_game, or zero before it.
func (c *Client) Participant() match.ParticipantID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participant
}

// Messages yields server messages in order and closes when the connection
// ends. A consumer that stops reading stalls the connection until the server
// drops it.
func (c *Client) Messages() <-chan protocol.ServerMessage {
	return c.messages
}

// Err reports why the connection ended, once Messages is closed. A normal
// close after game_over yields nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SendAction sends a player action to the server.
func (c *Client) SendAction(action game.Action) error {
	return c.SendActionParams(action, nil)
}

// SendActionParams sends an action with extra fields kept in the replay log.
func (c *Client) SendActionParams(action game.Action, params map[string]any) error {
	data, err := protocol.EncodeAction(action, params)
	if err != nil {
		return err
	}
	return c.writeRaw(data)
}

func (c *Client) writeRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close disconnects from the server.
func (c *Client) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}

	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *Client) receiveLoop() {
	defer close(c.messages)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}

		var msg protocol.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Event == protocol.EventStartGame && msg.ParticipantID != nil {
			c.mu.Lock()
			c.participant = *msg.ParticipantID
			c.mu.Unlock()
		}

		if !c.deliver(msg) {
			return
		}
	}
}

func (c *Client) deliver(msg protocol.ServerMessage) bool {
	select {
	case c.messages <- msg:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) finish(err error) {
	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure:
		err = nil
	case errors.As(err, &closeErr) && closeErr.Text != "":
		err = fmt.Errorf("server closed connection: %s", closeErr.Text)
	}
	select {
	case <-c.done:
		// Closed locally.
		err = nil
	default:
	}

	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}
