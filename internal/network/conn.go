package network

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/amalg/bomberman-arena/internal/protocol"
	"github.com/amalg/bomberman-arena/internal/session"
)

var (
	// ErrConnClosed is returned by Send after the connection closed.
	ErrConnClosed = errors.New("connection closed")
	// ErrSlowConsumer is returned when a peer falls a full buffer behind.
	ErrSlowConsumer = errors.New("send buffer full")
)

// wsConn is one player's websocket. The session writes through Send; the
// write pump owns the socket's write side.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	send chan protocol.ServerMessage
	log  *logrus.Entry

	closeOnce sync.Once
	done      chan struct{}
	closeCode int
	closeText string
}

func newConn(ws *websocket.Conn, log *logrus.Entry) *wsConn {
	id := uuid.NewString()
	return &wsConn{
		id:   id,
		ws:   ws,
		send: make(chan protocol.ServerMessage, sendBuffer),
		log:  log.WithField("conn_id", id),
		done: make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send queues msg. A peer that lets the buffer fill is disconnected.
func (c *wsConn) Send(msg protocol.ServerMessage) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		c.log.Warn("Send buffer full, dropping connection")
		c.closeWith(websocket.ClosePolicyViolation, "too slow")
		return ErrSlowConsumer
	}
}

// Close asks the write pump to flush queued messages and hang up.
func (c *wsConn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *wsConn) closeWith(code int, text string) error {
	c.closeOnce.Do(func() {
		c.closeCode, c.closeText = code, text
		close(c.done)
	})
	return nil
}

// readPump forwards client messages to the session until the socket fails.
func (c *wsConn) readPump(handle *session.Handle) {
	defer func() {
		handle.Leave()
		c.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.WithError(err).Warn("Failed to set read deadline")
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Info("Connection lost")
			}
			return
		}
		if err := handle.Deliver(data); err != nil {
			return
		}
	}
}

// writePump drains the send queue and keeps the peer alive with pings.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.ws.Close(); err != nil {
			c.log.WithError(err).Debug("Close failed")
		}
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.log.WithError(err).Debug("Write failed")
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.WithError(err).Debug("Ping failed")
				c.Close()
				return
			}

		case <-c.done:
			c.flush()
			c.hangUp(c.closeCode, c.closeText)
			return
		}
	}
}

// flush writes whatever was queued before Close.
func (c *wsConn) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(msg protocol.ServerMessage) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) hangUp(code int, reason string) {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason)); err != nil {
		c.log.WithError(err).Debug("Close frame failed")
	}
}
