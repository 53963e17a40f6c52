package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/cache"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/config"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/metrics"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/store"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/ws"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestHandler(t *testing.T, adminKey string) (*Handler, *store.Quarantine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
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
	hub := ws.NewHub(nil, nil)
	opstats := metrics.NewOpStats()

	h := NewHandler(fs, c, idx, q, backup, hub, nil, opstats, &config.Config{AdminKey: adminKey})
	return h, q
}

func TestHealth_ReturnsJSONSnapshot(t *testing.T) {
	h, _ := newTestHandler(t, "")
	r := gin.New()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, rec.Body.String(), "\"roomsInIndex\"")
}

func TestHealth_RendersHTMLOnFormatQuery(t *testing.T) {
	h, _ := newTestHandler(t, "")
	r := gin.New()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/health?format=html", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<html>")
}

func TestHealthz_SameSnapshotAsHealth(t *testing.T) {
	h, _ := newTestHandler(t, "")
	r := gin.New()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, rec.Body.String(), "\"roomsInIndex\"")
}

func TestMetrics_ServesPrometheusExposition(t *testing.T) {
	h, _ := newTestHandler(t, "")
	r := gin.New()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "anim5s_room_indexed")
}

func TestAdminStatus_RejectsWithoutAuthorization(t *testing.T) {
	h, _ := newTestHandler(t, "s3cret")
	r := gin.New()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.RemoteAddr = "203.0.113.5:12345"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminStatus_AcceptsAdminKeyHeader(t *testing.T) {
	h, _ := newTestHandler(t, "s3cret")
	r := gin.New()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.RemoteAddr = "203.0.113.5:12345"
	req.Header.Set(HeaderXAdminKey, "s3cret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "\"quarantine\"")
}

func TestAdminStatus_AllowsLocalhostWithoutKey(t *testing.T) {
	h, _ := newTestHandler(t, "")
	r := gin.New()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQuarantine_TogglesRoomAndPersists(t *testing.T) {
	h, q := newTestHandler(t, "")
	r := gin.New()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/admin/quarantine?roomId=ABCDEF1&mode=on", nil)
	req.RemoteAddr = "127.0.0.1:1"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, q.Contains("ABCDEF1"))

	req2 := httptest.NewRequest(http.MethodGet, "/admin/quarantine?roomId=ABCDEF1&mode=toggle", nil)
	req2.RemoteAddr = "127.0.0.1:1"
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req2)

	assert.Equal(t, http.StatusOK, rec2.Code)
	assert.False(t, q.Contains("ABCDEF1"))
}

func TestQuarantine_RejectsMissingParams(t *testing.T) {
	h, _ := newTestHandler(t, "")
	r := gin.New()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/admin/quarantine?roomId=ABCDEF1", nil)
	req.RemoteAddr = "127.0.0.1:1"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUndefinedPath_Returns404SameAsUnauthorizedAdmin(t *testing.T) {
	h, _ := newTestHandler(t, "s3cret")
	r := gin.New()
	h.RegisterRoutes(r)

	undefined := httptest.NewRequest(http.MethodGet, "/no-such-route", nil)
	recUndefined := httptest.NewRecorder()
	r.ServeHTTP(recUndefined, undefined)

	unauthorized := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	unauthorized.RemoteAddr = "203.0.113.5:1"
	recUnauthorized := httptest.NewRecorder()
	r.ServeHTTP(recUnauthorized, unauthorized)

	assert.Equal(t, recUndefined.Code, recUnauthorized.Code)
	assert.Equal(t, http.StatusNotFound, recUnauthorized.Code)
}
