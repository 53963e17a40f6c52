package handlers

import (
	"context"
	"encoding/json"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/idgen"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/room"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/roomerr"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/ws"
)

// handleResync implements §4.G resync: re-establish view after a
// reconnection. Falls back to the connection's current room attachment
// when roomId is absent.
func (rt *Router) handleResync(_ context.Context, client *ws.Client, data json.RawMessage) {
	var req struct {
		RoomID string `json:"roomId"`
	}
	_ = json.Unmarshal(data, &req)

	roomID := req.RoomID
	if roomID == "" {
		roomID = client.RoomID()
	} else {
		var ok bool
		roomID, ok = idgen.ValidateRoomID(roomID)
		if !ok {
			sendErr(client, roomerr.NotFound("room not found"))
			return
		}
	}
	if roomID == "" {
		sendErr(client, roomerr.NotFound("room not found"))
		return
	}

	if rt.deps.Quarantine.Contains(roomID) {
		sendErr(client, roomerr.NotFound("room not found"))
		return
	}

	now := room.NowMs()
	r, exists, err := rt.deps.Cache.Get(roomID, now)
	if err != nil {
		sendErr(client, roomerr.Internal("failed to load room", err))
		return
	}
	if !exists {
		sendErr(client, roomerr.NotFound("room not found"))
		return
	}

	client.SetRoomID(roomID)
	rt.deps.Hub.EnsureSubscribed(roomID)
	client.Send(ws.OutboundEnvelope{V: 1, T: ws.VerbRoomState, Ts: now, Data: roomStatePayload(r)})
}
