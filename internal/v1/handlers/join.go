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

type roomJoinedPayload struct {
	RoomID               string `json:"roomId"`
	Theme                string `json:"theme"`
	AssignedFrame        int    `json:"assignedFrame"`
	ReservationToken     string `json:"reservationToken"`
	ReservationExpiresAt int64  `json:"reservationExpiresAt"`
	Filled               []bool `json:"filled"`
}

// eligibleRoomIDs returns index entries open to join_random: not
// quarantined, not completed, not full.
func (rt *Router) eligibleRoomIDs() []string {
	snapshot := rt.deps.Index.Snapshot()
	ids := make([]string, 0, len(snapshot))
	for id, e := range snapshot {
		if rt.deps.Quarantine.Contains(id) {
			continue
		}
		if e.Completed || e.FilledCount >= room.FrameCount {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// handleJoinRandom implements §4.G join_random.
func (rt *Router) handleJoinRandom(ctx context.Context, client *ws.Client, _ json.RawMessage) {
	candidates := rt.eligibleRoomIDs()
	if len(candidates) == 0 {
		sendErr(client, roomerr.NotFound("no rooms available"))
		return
	}

	roomID := candidates[randIntn(len(candidates))]
	rt.assignAndRespond(ctx, client, roomID, true)
}

// handleJoinByID implements §4.G join_by_id. Quarantined, non-existent,
// and completed rooms all report the same "room not found" message to
// avoid leaking which case applies.
func (rt *Router) handleJoinByID(ctx context.Context, client *ws.Client, data json.RawMessage) {
	var req struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		sendErr(client, roomerr.Validation("malformed request"))
		return
	}
	roomID, ok := idgen.ValidateRoomID(req.RoomID)
	if !ok {
		sendErr(client, roomerr.NotFound("room not found"))
		return
	}
	rt.assignAndRespond(ctx, client, roomID, false)
}

// assignAndRespond loads roomID, reserves its first empty frame, and
// responds with room_joined. allowStaleRetry controls whether a missing
// backing file (a stale index entry) is treated as a retryable error
// (join_random) as opposed to a plain not-found (join_by_id).
func (rt *Router) assignAndRespond(ctx context.Context, client *ws.Client, roomID string, allowStaleRetry bool) {
	if rt.deps.Quarantine.Contains(roomID) {
		sendErr(client, roomerr.NotFound("room not found"))
		return
	}

	now := room.NowMs()
	r, exists, err := rt.deps.Cache.Get(roomID, now)
	if err != nil {
		rt.deps.Log.Error("failed to load room", zap.String("room_id", roomID), zap.Error(err))
		sendErr(client, roomerr.Internal("failed to load room", err))
		return
	}
	if !exists {
		if allowStaleRetry {
			_ = rt.deps.Index.Delete(roomID)
			sendErr(client, roomerr.NotFound("room no longer exists, please retry"))
			return
		}
		sendErr(client, roomerr.NotFound("room not found"))
		return
	}

	r.Lock()
	r.SweepLocked(now)
	phase := r.NormalizePhaseLocked()
	if phase != room.PhaseDrawing {
		r.Unlock()
		sendErr(client, roomerr.NotFound("room not found"))
		return
	}

	frameIndex, ok := r.FirstYoungestEmptyLocked()
	if !ok {
		r.Unlock()
		sendErr(client, roomerr.Conflict("no empty frame available"))
		return
	}

	token, err := r.ReserveLocked(frameIndex, rt.deps.ReservationMs, now)
	if err != nil {
		r.Unlock()
		sendErr(client, err)
		return
	}
	expiresAt := now + rt.deps.ReservationMs
	saveErr := rt.deps.saveLocked(r)
	filled := make([]bool, room.FrameCount)
	copy(filled, r.Committed[:])
	theme := r.Theme
	r.Unlock()

	if saveErr != nil {
		rt.deps.Log.Error("failed to persist reservation", zap.String("room_id", roomID), zap.Error(saveErr))
		sendErr(client, roomerr.Internal("failed to persist reservation", saveErr))
		return
	}

	rt.deps.afterPersist(roomID, r, now)
	client.SetRoomID(roomID)
	rt.deps.Hub.EnsureSubscribed(roomID)
	client.Send(ws.OutboundEnvelope{
		V: 1, T: ws.VerbRoomJoined, Ts: now,
		Data: roomJoinedPayload{
			RoomID:               roomID,
			Theme:                theme,
			AssignedFrame:        frameIndex,
			ReservationToken:     token,
			ReservationExpiresAt: expiresAt,
			Filled:               filled,
		},
	})
}

// handleJoinRoom implements §4.G join_room: attach for streaming/view
// without necessarily reserving a frame.
func (rt *Router) handleJoinRoom(ctx context.Context, client *ws.Client, data json.RawMessage) {
	var req struct {
		RoomID           string `json:"roomId"`
		View             bool   `json:"view"`
		ReservationToken string `json:"reservationToken"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		sendErr(client, roomerr.Validation("malformed request"))
		return
	}
	roomID, ok := idgen.ValidateRoomID(req.RoomID)
	if !ok {
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

	if !req.View {
		r.Lock()
		r.SweepLocked(now)
		phase := r.NormalizePhaseLocked()
		if req.ReservationToken == "" {
			r.Unlock()
			sendErr(client, roomerr.Validation("reservationToken required"))
			return
		}
		if phase != room.PhaseDrawing {
			r.Unlock()
			sendErr(client, roomerr.Phase("room not accepting submissions"))
			return
		}
		_, live := r.LiveReservationLocked(req.ReservationToken, now)
		r.Unlock()
		if !live {
			sendErr(client, roomerr.Reservation("invalid or expired reservation (予約)"))
			return
		}
	}

	client.SetRoomID(roomID)
	rt.deps.Hub.EnsureSubscribed(roomID)
	client.Send(ws.OutboundEnvelope{V: 1, T: ws.VerbRoomState, Ts: now, Data: roomStatePayload(r)})
}
