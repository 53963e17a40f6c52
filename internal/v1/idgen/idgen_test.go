package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRoomID_LengthAndAlphabet(t *testing.T) {
	id, err := NewRoomID()
	assert.NoError(t, err)
	assert.Len(t, id, RoomIDLength)
	_, ok := ValidateRoomID(id)
	assert.True(t, ok)
}

func TestNewReservationToken_Length(t *testing.T) {
	tok, err := NewReservationToken()
	assert.NoError(t, err)
	assert.Len(t, tok, TokenLength)
}

func TestNewRoomID_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id, err := NewRoomID()
		assert.NoError(t, err)
		assert.False(t, seen[id], "unexpected collision in small sample")
		seen[id] = true
	}
}

func TestValidateRoomID(t *testing.T) {
	cases := []struct {
		raw   string
		valid bool
	}{
		{"abc123", true},
		{"  ABC123  ", true},
		{"ABCDEFGHIJKL", true},
		{"ABCDEFGHIJKLM", false}, // too long
		{"ABC1", false},         // too short
		{"ABC-123", false},      // invalid char
		{"", false},
	}
	for _, c := range cases {
		got, ok := ValidateRoomID(c.raw)
		assert.Equal(t, c.valid, ok, "input %q", c.raw)
		if c.valid {
			assert.Equal(t, NormalizeRoomID(c.raw), got)
		}
	}
}

func TestNormalizeRoomID(t *testing.T) {
	assert.Equal(t, "ABC123", NormalizeRoomID("  abc123  "))
}
