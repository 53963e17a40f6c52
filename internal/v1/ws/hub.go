package ws

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/bus"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/logging"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub is the process-wide connection registry. It upgrades requests at
// /ws, tracks every live Client, and fans broadcasts out to whichever
// connections are attached to a given room (§9 "broadcast fan-out": a
// linear scan is acceptable at the expected ≤60-per-room fan-out).
type Hub struct {
	router Router
	bus    *bus.Service

	mu      sync.RWMutex
	clients map[*Client]struct{}

	subMu      sync.Mutex
	subscribed map[string]struct{}

	upgrader websocket.Upgrader
}

// NewHub constructs a Hub that dispatches every parsed inbound message to
// router. allowedOrigins restricts which browser "Origin" header a /ws
// upgrade will accept, the same allowlist used for CORS (§4.F); a
// request with no Origin header (non-browser clients) is always allowed.
func NewHub(router Router, allowedOrigins []string) *Hub {
	return &Hub{
		router:     router,
		clients:    make(map[*Client]struct{}),
		subscribed: make(map[string]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin(allowedOrigins),
		},
	}
}

// checkOrigin implements the same scheme+host allowlist check the
// teacher's session hub used for its /ws upgrade.
func checkOrigin(allowedOrigins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, allowed := range allowedOrigins {
			allowedURL, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
				return true
			}
		}
		return false
	}
}

// SetBus assigns the hub's cross-process bus after construction, for
// callers that build the hub before the bus (or that run with no bus at
// all, leaving it nil).
func (h *Hub) SetBus(b *bus.Service) { h.bus = b }

// ServeWS upgrades the request and starts the connection's pumps. The
// caller is responsible for only routing the exact path "/ws" here;
// anything else must never reach this handler (§4.F).
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, h, h.router, c.ClientIP())
	h.register(client)
	metrics.IncConnection()

	go client.writePump()
	go client.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Attach registers c with the hub so Broadcast can reach it, without
// starting real connection pumps. Used by tests building a Client around
// a fake Conn.
func (h *Hub) Attach(c *Client) { h.register(c) }

// SetRouter assigns the hub's router after construction, for callers
// that must build the hub before the router that depends on it exists.
func (h *Hub) SetRouter(router Router) { h.router = router }

// Detach removes c from the hub's registry.
func (h *Hub) Detach(c *Client) { h.unregister(c) }

// ClientCount returns the number of currently registered connections,
// used by the /health snapshot.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends env to every connection currently attached to roomID.
func (h *Hub) Broadcast(roomID string, env OutboundEnvelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.RoomID() == roomID {
			c.Send(env)
		}
	}
}

// EnsureSubscribed starts this process's cross-process bus subscription
// for roomID the first time any connection attaches to it, so a
// frame_committed/start_playback published by another process sharing
// the same DATA_DIR is rebroadcast to connections attached here too
// (§4.C). Idempotent and a no-op when no bus is configured. Called from
// the connection endpoint's room-attach path (join/resync handlers).
func (h *Hub) EnsureSubscribed(roomID string) {
	if h.bus == nil {
		return
	}

	h.subMu.Lock()
	if _, ok := h.subscribed[roomID]; ok {
		h.subMu.Unlock()
		return
	}
	h.subscribed[roomID] = struct{}{}
	h.subMu.Unlock()

	h.bus.Subscribe(context.Background(), roomID, nil, func(evt bus.Event) {
		if evt.Origin == h.bus.Origin() {
			return // this process published it; already broadcast locally
		}
		var verb string
		switch evt.Type {
		case "frame_committed":
			verb = VerbFrameCommitted
		case "start_playback":
			verb = VerbStartPlayback
		default:
			return
		}
		h.Broadcast(roomID, OutboundEnvelope{V: 1, T: verb, Ts: nowMs(), Data: evt.Data})
	})
}
