package handlers

import (
	"context"
	"encoding/json"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/idgen"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/metrics"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/room"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/roomerr"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/ws"
	"go.uber.org/zap"
)

type frameDataPayload struct {
	RoomID     string `json:"roomId"`
	FrameIndex int    `json:"frameIndex"`
	DataURL    string `json:"dataUrl"`
}

// handleGetFrame implements §4.G get_frame. An uncommitted frame is
// silently dropped (no response) per §9's documented open question;
// clients poll after frame_committed broadcasts.
func (rt *Router) handleGetFrame(_ context.Context, client *ws.Client, data json.RawMessage) {
	var req struct {
		RoomID     string `json:"roomId"`
		FrameIndex int    `json:"frameIndex"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	if req.FrameIndex < 0 || req.FrameIndex >= room.FrameCount {
		sendErr(client, roomerr.Validation("frame index out of range"))
		return
	}
	roomID, ok := idgen.ValidateRoomID(req.RoomID)
	if !ok {
		return
	}

	r, exists, err := rt.deps.Cache.Get(roomID, room.NowMs())
	if err != nil || !exists {
		return
	}

	dataURL, committed := r.FrameData(req.FrameIndex)
	if !committed {
		return
	}

	client.Send(ws.OutboundEnvelope{
		V: 1, T: ws.VerbFrameData, Ts: room.NowMs(),
		Data: frameDataPayload{RoomID: roomID, FrameIndex: req.FrameIndex, DataURL: dataURL},
	})
}

type submittedPayload struct {
	RoomID     string `json:"roomId"`
	FrameIndex int    `json:"frameIndex"`
}

// handleSubmitFrame implements the critical write path of §4.G
// submit_frame, steps 1-15.
func (rt *Router) handleSubmitFrame(ctx context.Context, client *ws.Client, data json.RawMessage) {
	var req struct {
		RoomID           string `json:"roomId"`
		FrameIndex       int    `json:"frameIndex"`
		ReservationToken string `json:"reservationToken"`
		DataURL          string `json:"dataUrl"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		sendErr(client, roomerr.Validation("malformed request"))
		return
	}

	roomID, ok := idgen.ValidateRoomID(req.RoomID)
	if !ok || rt.deps.Quarantine.Contains(roomID) {
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

	r.Lock()
	if r.NormalizePhaseLocked() == room.PhasePlayback {
		r.Unlock()
		sendErr(client, roomerr.Phase("not accepting submissions"))
		return
	}
	r.SweepLocked(now)

	if req.FrameIndex < 0 || req.FrameIndex >= room.FrameCount {
		r.Unlock()
		sendErr(client, roomerr.Validation("frame index out of range"))
		return
	}
	if req.ReservationToken == "" {
		r.Unlock()
		sendErr(client, roomerr.Reservation("invalid or expired reservation (予約)"))
		return
	}
	if err := r.ConsumeLocked(req.ReservationToken, req.FrameIndex, now); err != nil {
		r.Unlock()
		sendErr(client, err)
		return
	}
	if r.Committed[req.FrameIndex] {
		r.Unlock()
		sendErr(client, roomerr.Conflict("already submitted"))
		return
	}
	if !validateDataURL(req.DataURL) {
		r.Unlock()
		sendErr(client, roomerr.Validation("dataUrl が不正/大きすぎる"))
		return
	}

	r.Frames[req.FrameIndex] = req.DataURL
	r.Committed[req.FrameIndex] = true
	r.UpdatedAt = now
	completed := r.NormalizePhaseLocked() == room.PhasePlayback
	saveErr := rt.deps.saveLocked(r)
	r.Unlock()

	if saveErr != nil {
		rt.deps.Log.Error("failed to persist submission", zap.String("room_id", roomID), zap.Error(saveErr))
		sendErr(client, roomerr.Internal("failed to persist submission", saveErr))
		return
	}

	rt.deps.afterPersist(roomID, r, now)
	metrics.FramesCommittedTotal.Inc()

	rt.deps.publishFrameCommitted(ctx, roomID, req.FrameIndex)
	client.Send(ws.OutboundEnvelope{
		V: 1, T: ws.VerbSubmitted, Ts: now,
		Data: submittedPayload{RoomID: roomID, FrameIndex: req.FrameIndex},
	})

	if completed {
		metrics.RoomsCompletedTotal.Inc()
		rt.deps.publishStartPlayback(ctx, r)
	}
}
