// Package ws implements the connection endpoint (§4.F): upgrading /ws
// requests to a persistent bidirectional JSON channel, and the
// per-connection read/write pumps that feed it.
package ws

import "encoding/json"

// InboundEnvelope is the wire shape of every inbound frame: {t, data}.
type InboundEnvelope struct {
	T    string          `json:"t"`
	Data json.RawMessage `json:"data"`
}

// OutboundEnvelope is the wire shape of every outbound frame:
// {v, t, ts, data}. V is always 1.
type OutboundEnvelope struct {
	V    int    `json:"v"`
	T    string `json:"t"`
	Ts   int64  `json:"ts"`
	Data any    `json:"data"`
}

// Inbound verbs (§6).
const (
	VerbHello                  = "hello"
	VerbResync                 = "resync"
	VerbGetFrame               = "get_frame"
	VerbCreatePublicAndSubmit  = "create_public_and_submit"
	VerbJoinRandom             = "join_random"
	VerbJoinByID               = "join_by_id"
	VerbJoinRoom               = "join_room"
	VerbSubmitFrame            = "submit_frame"
)

// Outbound verbs (§6).
const (
	VerbWelcome        = "welcome"
	VerbCreatedPublic  = "created_public"
	VerbRoomJoined     = "room_joined"
	VerbRoomState      = "room_state"
	VerbFrameData      = "frame_data"
	VerbFrameCommitted = "frame_committed"
	VerbSubmitted      = "submitted"
	VerbStartPlayback  = "start_playback"
	VerbError          = "error"
)

// ErrorPayload is the data object of an outbound "error" envelope.
type ErrorPayload struct {
	Code         string `json:"code,omitempty"`
	Message      string `json:"message"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

// MaxInboundMessageBytes is the hard limit on one inbound frame (§4.F).
const MaxInboundMessageBytes = 2_000_000
