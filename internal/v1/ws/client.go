package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/logging"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/metrics"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// wsConnection is the subset of *websocket.Conn a Client needs, kept as
// an interface so tests can drive readPump/writePump without a real
// socket.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is the exported name for wsConnection, letting other packages'
// tests supply a fake connection when constructing a Client via NewClient.
type Conn = wsConnection

// Router dispatches one parsed inbound verb to its handler. Implemented
// by the handlers package; kept as an interface here so ws never imports
// handlers (handlers imports ws for Client/Hub instead).
type Router interface {
	Route(ctx context.Context, client *Client, verb string, data json.RawMessage)
}

// Client is one connection attached to the hub. Its roomId is the
// connection's mutable room attachment (§3 "Connections are ephemeral").
type Client struct {
	conn       wsConnection
	send       chan []byte
	hub        *Hub
	router     Router
	remoteAddr string

	mu     sync.RWMutex
	roomID string
}

func newClient(conn wsConnection, hub *Hub, router Router, remoteAddr string) *Client {
	return &Client{
		conn:       conn,
		send:       make(chan []byte, 64),
		hub:        hub,
		router:     router,
		remoteAddr: remoteAddr,
	}
}

// NewClient is the exported form of newClient, letting other packages'
// tests build a *Client around a fake Conn without going through
// Hub.ServeWS's real HTTP upgrade.
func NewClient(conn Conn, hub *Hub, router Router, remoteAddr string) *Client {
	return newClient(conn, hub, router, remoteAddr)
}

// SendCh exposes the outbound send buffer so tests in other packages can
// assert on what a handler sent without a real socket on the other end.
func (c *Client) SendCh() <-chan []byte { return c.send }

// RemoteAddr returns the address this connection originated from, the
// key used by the rate limiter and the "source" in §4.I.
func (c *Client) RemoteAddr() string { return c.remoteAddr }

// RoomID returns the connection's current room attachment, or "" if none.
func (c *Client) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

// SetRoomID updates the connection's room attachment after a successful
// join/resync, or clears it with "".
func (c *Client) SetRoomID(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
}

// Send queues one outbound envelope, non-blocking: a full send buffer
// drops the message rather than stalling the room's critical section.
func (c *Client) Send(env OutboundEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal outbound envelope", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "client send buffer full, dropping message", zap.String("verb", env.T))
	}
}

// SendError is a convenience wrapper for the common "error" envelope.
func (c *Client) SendError(code, message string, retryAfterMs int64) {
	c.Send(OutboundEnvelope{
		V:  1,
		T:  VerbError,
		Ts: nowMs(),
		Data: ErrorPayload{
			Code:         code,
			Message:      message,
			RetryAfterMs: retryAfterMs,
		},
	})
}

func nowMs() int64 { return time.Now().UnixMilli() }

// readPump reads inbound frames until the connection closes, parsing
// each as an InboundEnvelope and handing it to the router. Malformed
// JSON is silently dropped per §4.F.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
		metrics.DecConnection()
	}()

	c.conn.SetReadLimit(MaxInboundMessageBytes)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env InboundEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			metrics.MessagesTotal.WithLabelValues("", "malformed").Inc()
			continue
		}

		c.router.Route(context.Background(), c, env.T, env.Data)
	}
}

// writePump drains the send channel to the underlying connection.
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
