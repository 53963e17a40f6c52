// Package idgen mints room identifiers and reservation tokens and validates
// roomId syntax on the way in. Both alphabets are deliberately narrow
// (uppercase alphanumeric) so identifiers are easy to read aloud and to
// type back in by hand.
package idgen

import (
	"crypto/rand"
	"regexp"
	"strings"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RoomIDLength is the fixed length of a minted room ID (§4.A).
const RoomIDLength = 7

// TokenLength is the length of a minted reservation token. At 24 characters
// drawn from a 36-symbol alphabet the collision probability is negligible
// for any concurrency this server will see.
const TokenLength = 24

var roomIDPattern = regexp.MustCompile(`^[A-Z0-9]{6,12}$`)

// NewRoomID mints a fresh 7-character room ID. Callers that persist the
// room must detect collisions against their own index and retry; this
// function does not consult any store.
func NewRoomID() (string, error) {
	return randomString(RoomIDLength)
}

// NewReservationToken mints an opaque reservation token unique within the
// scope of the caller's room.
func NewReservationToken() (string, error) {
	return randomString(TokenLength)
}

func randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}

// NormalizeRoomID trims whitespace and upper-cases the input, the
// canonical form a roomId must take before validation or lookup.
func NormalizeRoomID(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidateRoomID normalizes raw and checks it against the roomId syntax
// `^[A-Z0-9]{6,12}$`. Returns the normalized ID and true on success, or
// an empty string and false on failure.
func ValidateRoomID(raw string) (string, bool) {
	id := NormalizeRoomID(raw)
	if !roomIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}
