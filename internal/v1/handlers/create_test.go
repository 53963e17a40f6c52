package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/room"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDataURL = "data:image/png;base64,AAAA"

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestHandleCreatePublicAndSubmit_HappyPath(t *testing.T) {
	h := newHarness(t)
	client := h.newClient("1.2.3.4")

	req := createPublicAndSubmitRequest{Theme: "a tiny dragon", DataURL: validDataURL}
	h.rt.Route(context.Background(), client, ws.VerbCreatePublicAndSubmit, mustJSON(t, req))

	env := recv(t, client)
	assert.Equal(t, ws.VerbCreatedPublic, env.T)

	var state room.StatePayload
	decodeData(t, env, &state)
	assert.NotEmpty(t, state.RoomID)
	assert.Equal(t, "a tiny dragon", state.Theme)
	assert.True(t, state.Filled[0])
	assert.Equal(t, room.PhaseDrawing, state.Phase)
	assert.Equal(t, state.RoomID, client.RoomID())

	// second envelope: the frame_committed broadcast to the room.
	env2 := recv(t, client)
	assert.Equal(t, ws.VerbFrameCommitted, env2.T)
}

func TestHandleCreatePublicAndSubmit_RejectsBadDataURL(t *testing.T) {
	h := newHarness(t)
	client := h.newClient("1.2.3.4")

	req := createPublicAndSubmitRequest{Theme: "x", DataURL: "not-a-data-url"}
	h.rt.Route(context.Background(), client, ws.VerbCreatePublicAndSubmit, mustJSON(t, req))

	env := recv(t, client)
	assert.Equal(t, ws.VerbError, env.T)
}
