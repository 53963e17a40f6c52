package ws

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub(&recordingRouter{}, nil)
	c := newClient(newFakeConn(), hub, hub.router, "1.2.3.4")

	hub.register(c)
	assert.Equal(t, 1, hub.ClientCount())

	hub.unregister(c)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_BroadcastOnlyReachesAttachedClients(t *testing.T) {
	hub := NewHub(&recordingRouter{}, nil)

	inRoom := newClient(newFakeConn(), hub, hub.router, "1.2.3.4")
	inRoom.SetRoomID("ROOM0001")
	otherRoom := newClient(newFakeConn(), hub, hub.router, "5.6.7.8")
	otherRoom.SetRoomID("ROOM0002")
	noRoom := newClient(newFakeConn(), hub, hub.router, "9.9.9.9")

	hub.register(inRoom)
	hub.register(otherRoom)
	hub.register(noRoom)

	hub.Broadcast("ROOM0001", OutboundEnvelope{V: 1, T: VerbFrameCommitted, Ts: 1000})

	require.Len(t, inRoom.send, 1)
	assert.Empty(t, otherRoom.send)
	assert.Empty(t, noRoom.send)
}

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin([]string{"https://example.com"})

	noOrigin := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(noOrigin), "missing Origin header should be allowed")

	allowed := httptest.NewRequest(http.MethodGet, "/ws", nil)
	allowed.Header.Set("Origin", "https://example.com")
	assert.True(t, check(allowed))

	disallowed := httptest.NewRequest(http.MethodGet, "/ws", nil)
	disallowed.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(disallowed))
}

func TestHub_EnsureSubscribedNoopWithoutBus(t *testing.T) {
	hub := NewHub(&recordingRouter{}, nil)
	hub.EnsureSubscribed("ROOM0001") // must not panic with a nil bus
}
