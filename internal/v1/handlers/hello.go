package handlers

import (
	"context"
	"encoding/json"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/room"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/ws"
)

type welcomePayload struct {
	Protocol   int   `json:"protocol"`
	ServerTime int64 `json:"serverTime"`
}

// handleHello is idempotent and never changes connection state (§4.G).
func (rt *Router) handleHello(_ context.Context, client *ws.Client, _ json.RawMessage) {
	client.Send(ws.OutboundEnvelope{
		V: 1, T: ws.VerbWelcome, Ts: room.NowMs(),
		Data: welcomePayload{Protocol: 1, ServerTime: room.NowMs()},
	})
}
