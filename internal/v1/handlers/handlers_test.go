package handlers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/cache"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/config"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/metrics"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/ratelimit"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/store"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/ws"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeConn is a no-op ws.Conn: handlers never read from or write to it
// directly, they go through Client.Send, so only Close needs to work.
type fakeConn struct{}

func (fakeConn) ReadMessage() (int, []byte, error) { return 0, nil, nil }
func (fakeConn) WriteMessage(int, []byte) error    { return nil }
func (fakeConn) SetReadLimit(int64)                {}
func (fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (fakeConn) Close() error                      { return nil }

// testHarness bundles everything a handler needs, all backed by a temp
// directory FileStore, high rate limits so tests don't trip them
// incidentally, and no distributed bus.
type testHarness struct {
	t    *testing.T
	rt   *Router
	deps *Deps
	hub  *ws.Hub
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	dir := t.TempDir()

	fs, err := store.New(dir)
	require.NoError(t, err)
	log := zaptest.NewLogger(t)

	idx, err := store.NewIndex(fs, log)
	require.NoError(t, err)
	q, err := store.NewQuarantine(fs)
	require.NoError(t, err)
	backup := store.NewBackupScheduler(fs, idx, log, 1_800_000, 24)
	c := cache.New(fs, idx, log, 80, 300_000)

	cfg := &config.Config{
		RateLimits: map[string]config.RateRule{
			"default": {WindowMs: 10_000, Max: 100_000},
		},
	}
	limiter, err := ratelimit.NewRateLimiter(cfg, nil)
	require.NoError(t, err)

	hub := ws.NewHub(nil, nil)

	deps := &Deps{
		Store:         fs,
		Cache:         c,
		Index:         idx,
		Quarantine:    q,
		Backup:        backup,
		Hub:           hub,
		Bus:           nil,
		Limiter:       limiter,
		OpStats:       metrics.NewOpStats(),
		ReservationMs: 180_000,
		Log:           log,
	}
	rt := NewRouter(deps)
	hub.SetRouter(rt)

	return &testHarness{t: t, rt: rt, deps: deps, hub: hub}
}

// newClient builds a *ws.Client backed by fakeConn and attaches it to the
// hub so broadcasts reach it. Use recv to decode the next queued
// outbound envelope.
func (h *testHarness) newClient(remoteAddr string) *ws.Client {
	h.t.Helper()
	c := ws.NewClient(fakeConn{}, h.hub, h.rt, remoteAddr)
	h.hub.Attach(c)
	return c
}

// recv decodes the next envelope sent to client, failing the test if none
// arrives within a short timeout.
func recv(t *testing.T, client *ws.Client) ws.OutboundEnvelope {
	t.Helper()
	select {
	case raw := <-client.SendCh():
		var env ws.OutboundEnvelope
		require.NoError(t, json.Unmarshal(raw, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound envelope")
		return ws.OutboundEnvelope{}
	}
}

func decodeData(t *testing.T, env ws.OutboundEnvelope, out any) {
	t.Helper()
	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}
