// Package admin implements §4.H: health snapshots, text-format metrics,
// and the authorized quarantine toggle. It is adapted from the teacher's
// health.Handler (liveness/readiness probes, gin content negotiation) but
// answers this server's domain — room counts, cache occupancy, backup
// state — rather than SFU/gRPC dependency checks, which have no analogue
// here.
package admin

import (
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/bus"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/cache"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/config"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/logging"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/metrics"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/store"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/ws"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// LastError is the error most recently passed to Handler.RecordError,
// surfaced on /health. No handler in this server calls RecordError, so
// lastError stays null; InternalErrors are only logged.
type LastError struct {
	Ts      int64  `json:"ts"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler serves /health, /healthz, /metrics, and the authorized
// /admin/* routes.
type Handler struct {
	store      *store.FileStore
	cache      *cache.Cache
	index      *store.Index
	quarantine *store.Quarantine
	backup     *store.BackupScheduler
	hub        *ws.Hub
	bus        *bus.Service
	opstats    *metrics.OpStats
	adminKey   string
	startedAt  time.Time

	mu        sync.Mutex
	lastError *LastError
}

// NewHandler wires a Handler over the process-wide singletons it reports
// on. bus may be nil (single-instance deployments, §9).
func NewHandler(fs *store.FileStore, c *cache.Cache, idx *store.Index, q *store.Quarantine, backup *store.BackupScheduler, hub *ws.Hub, busSvc *bus.Service, opstats *metrics.OpStats, cfg *config.Config) *Handler {
	return &Handler{
		store:      fs,
		cache:      c,
		index:      idx,
		quarantine: q,
		backup:     backup,
		hub:        hub,
		bus:        busSvc,
		opstats:    opstats,
		adminKey:   cfg.AdminKey,
		startedAt:  time.Now(),
	}
}

// RecordError remembers err as the most recent InternalError, read back
// by /health's lastError field.
func (h *Handler) RecordError(code, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastError = &LastError{Ts: time.Now().UnixMilli(), Code: code, Message: message}
}

func (h *Handler) lastErrorSnapshot() *LastError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastError
}

// snapshot is the /health payload shape (§4.H). admin/status embeds this
// plus the fields unauthenticated callers never see.
type snapshot struct {
	Status          string         `json:"status"`
	UptimeSeconds   float64        `json:"uptimeSeconds"`
	Connections     int            `json:"connections"`
	RoomsInIndex    int            `json:"roomsInIndex"`
	RoomsOnDisk     int            `json:"roomsOnDisk"`
	RoomsCached     int            `json:"roomsCached"`
	BackupCount     int            `json:"backupCount"`
	QuarantineCount int            `json:"quarantineCount"`
	DirtyRooms      int            `json:"dirtyRooms"`
	DataDir         string         `json:"dataDir"`
	LastError       *LastError     `json:"lastError"`
	MemoryBytes     uint64         `json:"memoryBytes"`
	Counters        map[string]any `json:"counters"`
}

func (h *Handler) buildSnapshot() snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	roomsOnDisk := 0
	if ids, err := h.store.ListRoomFiles(); err == nil {
		roomsOnDisk = len(ids)
	}

	return snapshot{
		Status:          "ok",
		UptimeSeconds:   time.Since(h.startedAt).Seconds(),
		Connections:     h.hub.ClientCount(),
		RoomsInIndex:    h.index.Len(),
		RoomsOnDisk:     roomsOnDisk,
		RoomsCached:     h.cache.Len(),
		BackupCount:     h.backup.Count(),
		QuarantineCount: h.quarantine.Len(),
		DirtyRooms:      h.backup.DirtyCount(),
		DataDir:         h.store.DataDir,
		LastError:       h.lastErrorSnapshot(),
		MemoryBytes:     mem.Alloc,
		Counters:        h.counters(),
	}
}

func (h *Handler) counters() map[string]any {
	counters := map[string]any{}
	for _, s := range h.opstats.Snapshots() {
		counters[s.Verb] = map[string]float64{"count": float64(s.Count), "sumMs": s.SumMs, "maxMs": s.MaxMs}
	}
	return counters
}

// wantsHTML implements the /health content negotiation rule: an explicit
// ?format=html query wins, otherwise fall back to Accept sniffing.
func wantsHTML(c *gin.Context) bool {
	if f := c.Query("format"); f != "" {
		return f == "html"
	}
	return strings.Contains(c.GetHeader("Accept"), "text/html")
}

// Health serves both /health and /healthz with the same snapshot.
func (h *Handler) Health(c *gin.Context) {
	snap := h.buildSnapshot()
	if wantsHTML(c) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(renderHTML(snap)))
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Metrics serves the prometheus exposition format from promhttp, with the
// hand-rolled per-verb op-duration lines appended (opstats.go explains
// why those aren't promauto metrics).
func (h *Handler) Metrics(c *gin.Context) {
	metrics.RoomsIndexed.Set(float64(h.index.Len()))
	metrics.QuarantinedRooms.Set(float64(h.quarantine.Len()))
	promhttp.Handler().ServeHTTP(c.Writer, c.Request)
	var b strings.Builder
	h.opstats.WriteText(&b)
	if b.Len() > 0 {
		_, _ = c.Writer.Write([]byte(b.String()))
	}
}

// Status serves /admin/status: the same snapshot plus the quarantine
// list itself, never exposed on the unauthenticated /health.
func (h *Handler) Status(c *gin.Context) {
	snap := h.buildSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"health":     snap,
		"quarantine": h.quarantine.List(),
	})
}

// Quarantine implements /admin/quarantine?roomId=&mode=on|off|toggle.
func (h *Handler) Quarantine(c *gin.Context) {
	roomID := c.Query("roomId")
	mode := c.Query("mode")
	if roomID == "" || (mode != "on" && mode != "off" && mode != "toggle") {
		c.Status(http.StatusBadRequest)
		return
	}

	var on bool
	var err error
	switch mode {
	case "on":
		on, err = true, h.quarantine.Set(roomID, true)
	case "off":
		on, err = false, h.quarantine.Set(roomID, false)
	case "toggle":
		on, err = h.quarantine.Toggle(roomID)
	}
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	logging.Info(c.Request.Context(), "admin.quarantine",
		zap.String("room_id", roomID), zap.String("mode", mode), zap.Bool("quarantined", on),
		zap.String("remote_addr", c.ClientIP()))

	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "quarantined": on})
}

func renderHTML(s snapshot) string {
	var b strings.Builder
	b.WriteString("<!doctype html><html><head><title>anim5s-server health</title></head><body>")
	b.WriteString("<h1>anim5s-server</h1><table>")
	row := func(k string, v any) {
		b.WriteString("<tr><td>" + k + "</td><td>")
		switch val := v.(type) {
		case string:
			b.WriteString(val)
		default:
			b.WriteString(toString(val))
		}
		b.WriteString("</td></tr>")
	}
	row("status", s.Status)
	row("uptimeSeconds", s.UptimeSeconds)
	row("connections", s.Connections)
	row("roomsInIndex", s.RoomsInIndex)
	row("roomsOnDisk", s.RoomsOnDisk)
	row("roomsCached", s.RoomsCached)
	row("backupCount", s.BackupCount)
	row("quarantineCount", s.QuarantineCount)
	row("dirtyRooms", s.DirtyRooms)
	row("dataDir", s.DataDir)
	row("memoryBytes", s.MemoryBytes)
	b.WriteString("</table></body></html>")
	return b.String()
}

func toString(v any) string {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n)
	case uint64:
		return strconv.FormatUint(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	default:
		return ""
	}
}
