package handlers

import (
	"context"
	"encoding/json"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/idgen"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/room"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/roomerr"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/ws"
	"go.uber.org/zap"
)

type createPublicAndSubmitRequest struct {
	Theme   string `json:"theme"`
	DataURL string `json:"dataUrl"`
}

// maxRoomIDMintAttempts bounds the rare case of a freshly-minted roomId
// already existing on disk (§4.A "collisions... must be detected and retried").
const maxRoomIDMintAttempts = 5

// handleCreatePublicAndSubmit implements §4.G's create_public_and_submit:
// a fresh room is born from its first committed frame, never from a bare
// "create".
func (rt *Router) handleCreatePublicAndSubmit(ctx context.Context, client *ws.Client, data json.RawMessage) {
	var req createPublicAndSubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		sendErr(client, roomerr.Validation("malformed request"))
		return
	}
	if !validateDataURL(req.DataURL) {
		sendErr(client, roomerr.Validation("dataUrl が不正/大きすぎる"))
		return
	}

	now := room.NowMs()
	var roomID string
	for i := 0; i < maxRoomIDMintAttempts; i++ {
		candidate, err := idgen.NewRoomID()
		if err != nil {
			sendErr(client, roomerr.Internal("mint room id", err))
			return
		}
		if _, exists, _ := rt.deps.Cache.Get(candidate, now); !exists {
			roomID = candidate
			break
		}
	}
	if roomID == "" {
		sendErr(client, roomerr.Internal("failed to mint unique room id", nil))
		return
	}

	r := room.New(roomID, req.Theme, now)
	r.Lock()
	r.Frames[0] = req.DataURL
	r.Committed[0] = true
	r.UpdatedAt = now
	r.NormalizePhaseLocked()
	saveErr := rt.deps.saveLocked(r)
	r.Unlock()
	if saveErr != nil {
		rt.deps.Log.Error("failed to persist new room", zap.String("room_id", roomID), zap.Error(saveErr))
		sendErr(client, roomerr.Internal("failed to create room", saveErr))
		return
	}

	rt.deps.Cache.Put(roomID, r, now)
	rt.deps.afterPersist(roomID, r, now)

	client.SetRoomID(roomID)
	rt.deps.Hub.EnsureSubscribed(roomID)
	client.Send(ws.OutboundEnvelope{V: 1, T: ws.VerbCreatedPublic, Ts: now, Data: roomStatePayload(r)})
	rt.deps.publishFrameCommitted(ctx, roomID, 0)
}
