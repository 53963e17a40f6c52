// Package handlers implements one handler per inbound message verb
// (§4.G), sharing the "resolve room, check phase, act, persist,
// broadcast" skeleton described in §9.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/bus"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/cache"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/logging"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/metrics"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/ratelimit"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/room"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/roomerr"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/store"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/ws"
	"go.uber.org/zap"
)

// Deps collects every process-wide singleton a handler may need (§9
// "Global mutable state... pass it explicitly to handlers").
type Deps struct {
	Store         *store.FileStore
	Cache         *cache.Cache
	Index         *store.Index
	Quarantine    *store.Quarantine
	Backup        *store.BackupScheduler
	Hub           *ws.Hub
	Bus           *bus.Service
	Limiter       *ratelimit.RateLimiter
	OpStats       *metrics.OpStats
	ReservationMs int64
	Log           *zap.Logger
}

// saveLocked persists r while the caller already holds r.Lock(), keeping
// mutate-then-persist inside one per-room critical section (§5).
func (d *Deps) saveLocked(r *room.Room) error {
	return d.Store.SaveRoomLocked(r)
}

// Router implements ws.Router, dispatching one parsed inbound verb to
// its handler function.
type Router struct {
	deps *Deps
}

// NewRouter constructs a Router over deps.
func NewRouter(deps *Deps) *Router {
	return &Router{deps: deps}
}

// Route implements ws.Router. Every verb shares the rate-limit preamble
// from §4.G before dispatching.
func (rt *Router) Route(ctx context.Context, client *ws.Client, verb string, data json.RawMessage) {
	start := time.Now()
	defer func() {
		if rt.deps.OpStats != nil {
			rt.deps.OpStats.Record(verb, time.Since(start))
		}
	}()

	allowed, retryAfterMs, _ := rt.deps.Limiter.Allow(ctx, client.RemoteAddr(), verb)
	if !allowed {
		client.SendError("RATE_LIMIT", "rate limit exceeded", retryAfterMs)
		return
	}

	switch verb {
	case ws.VerbHello:
		rt.handleHello(ctx, client, data)
	case ws.VerbResync:
		rt.handleResync(ctx, client, data)
	case ws.VerbGetFrame:
		rt.handleGetFrame(ctx, client, data)
	case ws.VerbCreatePublicAndSubmit:
		rt.handleCreatePublicAndSubmit(ctx, client, data)
	case ws.VerbJoinRandom:
		rt.handleJoinRandom(ctx, client, data)
	case ws.VerbJoinByID:
		rt.handleJoinByID(ctx, client, data)
	case ws.VerbJoinRoom:
		rt.handleJoinRoom(ctx, client, data)
	case ws.VerbSubmitFrame:
		rt.handleSubmitFrame(ctx, client, data)
	default:
		client.SendError("", fmt.Sprintf("unknown message type: %s", verb), 0)
	}
}

// validateDataURL implements the bit-exact rule from §6: prefix
// "data:image/", length at most 1,500,000 bytes.
func validateDataURL(s string) bool {
	return strings.HasPrefix(s, "data:image/") && len(s) <= 1_500_000
}

// sendErr wraps client.SendError with a *roomerr.Error, mapping its
// Kind to the outbound error code and surfacing its bare Message rather
// than Error()'s "KIND: message" form.
func sendErr(client *ws.Client, err error) {
	kind := roomerr.KindOf(err)
	client.SendError(string(kind), messageOf(err), retryAfterOf(err))
}

func messageOf(err error) string {
	if re, ok := err.(*roomerr.Error); ok {
		return re.Message
	}
	return err.Error()
}

func retryAfterOf(err error) int64 {
	if re, ok := err.(*roomerr.Error); ok {
		return re.RetryAfterMs
	}
	return 0
}

// roomStatePayload builds the outbound room_state data object from r,
// taking the read lock itself.
func roomStatePayload(r *room.Room) room.StatePayload {
	return r.State()
}

// publishFrameCommitted fans a frame_committed broadcast out to every
// local connection attached to roomID, and to other processes via the
// optional bus.
func (d *Deps) publishFrameCommitted(ctx context.Context, roomID string, frameIndex int) {
	d.Hub.Broadcast(roomID, ws.OutboundEnvelope{
		V: 1, T: ws.VerbFrameCommitted, Ts: room.NowMs(),
		Data: map[string]any{"roomId": roomID, "frameIndex": frameIndex},
	})
	if d.Bus != nil {
		payload := map[string]any{"roomId": roomID, "frameIndex": frameIndex}
		if err := d.Bus.Publish(ctx, roomID, "frame_committed", payload); err != nil {
			logging.Warn(ctx, "bus publish failed", zap.Error(err))
		}
	}
}

func (d *Deps) publishStartPlayback(ctx context.Context, r *room.Room) {
	d.Hub.Broadcast(r.RoomID, ws.OutboundEnvelope{
		V: 1, T: ws.VerbStartPlayback, Ts: room.NowMs(),
		Data: map[string]any{"roomId": r.RoomID},
	})
	d.Hub.Broadcast(r.RoomID, ws.OutboundEnvelope{
		V: 1, T: ws.VerbRoomState, Ts: room.NowMs(),
		Data: roomStatePayload(r),
	})
	if d.Bus != nil {
		payload := map[string]any{"roomId": r.RoomID}
		if err := d.Bus.Publish(ctx, r.RoomID, "start_playback", payload); err != nil {
			logging.Warn(ctx, "bus publish failed", zap.Error(err))
		}
	}
}

// afterPersist runs the post-critical-section bookkeeping every mutating
// handler needs once its room lock has been released: refresh the
// index, touch the cache, and mark the room dirty for backup.
func (d *Deps) afterPersist(roomID string, r *room.Room, now int64) {
	if err := d.Index.Put(roomID, r); err != nil {
		d.Log.Error("failed to update index", zap.String("room_id", roomID), zap.Error(err))
	}
	d.Cache.Touch(roomID, now)
	d.Backup.MarkDirty(roomID)
	metrics.RoomsIndexed.Set(float64(d.Index.Len()))
}

func randIntn(n int) int {
	if n <= 0 {
		return 0
	}
	return rand.Intn(n)
}
