package handlers

import (
	"context"
	"testing"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleResync_ExplicitRoomID(t *testing.T) {
	h := newHarness(t)
	roomID := createRoom(t, h)

	client := h.newClient("10.0.0.5")
	h.rt.Route(context.Background(), client, ws.VerbResync, mustJSON(t, map[string]string{"roomId": roomID}))

	env := recv(t, client)
	assert.Equal(t, ws.VerbRoomState, env.T)
	assert.Equal(t, roomID, client.RoomID())
}

func TestHandleResync_FallsBackToExistingAttachment(t *testing.T) {
	h := newHarness(t)
	roomID := createRoom(t, h)

	client := h.newClient("10.0.0.5")
	client.SetRoomID(roomID)
	h.rt.Route(context.Background(), client, ws.VerbResync, nil)

	env := recv(t, client)
	assert.Equal(t, ws.VerbRoomState, env.T)
}

func TestHandleResync_NoAttachmentAndNoRoomIDReportsNotFound(t *testing.T) {
	h := newHarness(t)
	client := h.newClient("10.0.0.5")

	h.rt.Route(context.Background(), client, ws.VerbResync, nil)

	env := recv(t, client)
	require.Equal(t, ws.VerbError, env.T)
}
