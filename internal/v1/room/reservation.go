package room

import (
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/idgen"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/roomerr"
)

// ReserveLocked mints a reservation for frameIndex. Caller must hold Lock().
// Precondition: frameIndex is not committed and has no live reservation.
func (r *Room) ReserveLocked(frameIndex int, reservationMs int64, now int64) (string, error) {
	if frameIndex < 0 || frameIndex >= FrameCount {
		return "", roomerr.Validation("frame index out of range")
	}
	if r.Committed[frameIndex] {
		return "", roomerr.Conflict("frame already committed")
	}
	if _, taken := r.ReservedByFrame[frameIndex]; taken {
		return "", roomerr.Conflict("frame already reserved")
	}

	token, err := idgen.NewReservationToken()
	if err != nil {
		return "", roomerr.Internal("mint reservation token", err)
	}

	r.Reservations[token] = Reservation{FrameIndex: frameIndex, ExpiresAt: now + reservationMs}
	r.ReservedByFrame[frameIndex] = token
	return token, nil
}

// ConsumeLocked validates and removes the reservation for token/frameIndex.
// Caller must hold Lock(). Returns a *roomerr.Error on any validation
// failure; callers should treat any non-nil error as "reservation
// invalid/expired or mismatched".
func (r *Room) ConsumeLocked(token string, frameIndex int, now int64) error {
	res, ok := r.Reservations[token]
	if !ok {
		return roomerr.Reservation("invalid or expired reservation (予約)")
	}
	if res.ExpiresAt <= now {
		delete(r.Reservations, token)
		if r.ReservedByFrame[res.FrameIndex] == token {
			delete(r.ReservedByFrame, res.FrameIndex)
		}
		return roomerr.Reservation("invalid or expired reservation (予約)")
	}
	if res.FrameIndex != frameIndex {
		return roomerr.Reservation("frame mismatch (予約)")
	}

	delete(r.Reservations, token)
	if r.ReservedByFrame[res.FrameIndex] == token {
		delete(r.ReservedByFrame, res.FrameIndex)
	}
	return nil
}

// SweepLocked removes any reservation that is expired, whose frame is
// already committed, whose frameIndex is out of range, or whose
// reservedByFrame entry has been superseded by a different token (the
// orphan case described in §4.D). Idempotent. Caller must hold Lock().
func (r *Room) SweepLocked(now int64) {
	for token, res := range r.Reservations {
		expired := res.ExpiresAt <= now
		outOfRange := res.FrameIndex < 0 || res.FrameIndex >= FrameCount
		committed := !outOfRange && r.Committed[res.FrameIndex]
		orphaned := !outOfRange && r.ReservedByFrame[res.FrameIndex] != token

		if expired || outOfRange || committed || orphaned {
			delete(r.Reservations, token)
		}
	}

	for frameIndex, token := range r.ReservedByFrame {
		res, ok := r.Reservations[token]
		if !ok || res.FrameIndex != frameIndex {
			delete(r.ReservedByFrame, frameIndex)
		}
	}
}

// LiveReservationLocked reports whether token exists and is unexpired,
// returning its reservation. Caller must hold Lock()/RLock().
func (r *Room) LiveReservationLocked(token string, now int64) (Reservation, bool) {
	res, ok := r.Reservations[token]
	if !ok || res.ExpiresAt <= now {
		return Reservation{}, false
	}
	return res, true
}
