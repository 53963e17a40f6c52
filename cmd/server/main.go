package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/admin"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/bus"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/cache"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/config"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/handlers"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/logging"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/metrics"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/middleware"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/ratelimit"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/store"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/ws"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	cacheEvictionInterval = 30 * time.Second
	backupTickInterval    = 30 * time.Second
	shutdownTimeout       = 5 * time.Second
)

func main() {
	// Try multiple paths so `go run ./cmd/server` works both from the
	// module root and from a subdirectory during local development.
	for _, path := range []string{".env", "../../.env", "../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		panic(err)
	}
	log := logging.GetLogger()
	defer func() { _ = log.Sync() }()

	fs, err := store.New(cfg.DataDir)
	if err != nil {
		log.Fatal("failed to initialize file store", zap.Error(err))
	}
	idx, err := store.NewIndex(fs, log)
	if err != nil {
		log.Fatal("failed to rebuild room index", zap.Error(err))
	}
	quarantine, err := store.NewQuarantine(fs)
	if err != nil {
		log.Fatal("failed to load quarantine set", zap.Error(err))
	}
	backup := store.NewBackupScheduler(fs, idx, log, cfg.BackupIntervalMs, cfg.BackupKeep)
	roomCache := cache.New(fs, idx, log, cfg.RoomCacheMax, cfg.RoomCacheIdleMs)

	var busSvc *bus.Service
	if cfg.RedisEnabled {
		busSvc, err = bus.NewService(cfg.RedisAddr)
		if err != nil {
			log.Error("failed to connect to redis, continuing single-process", zap.Error(err))
			busSvc = nil
		}
	}

	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	limiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		log.Fatal("failed to initialize rate limiter", zap.Error(err))
	}

	opstats := metrics.NewOpStats()

	allowedOrigins := allowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	hub := ws.NewHub(nil, allowedOrigins)
	hub.SetBus(busSvc)
	deps := &handlers.Deps{
		Store:         fs,
		Cache:         roomCache,
		Index:         idx,
		Quarantine:    quarantine,
		Backup:        backup,
		Hub:           hub,
		Bus:           busSvc,
		Limiter:       limiter,
		OpStats:       opstats,
		ReservationMs: cfg.ReservationMs,
		Log:           log,
	}
	router := handlers.NewRouter(deps)
	hub.SetRouter(router)

	adminHandler := admin.NewHandler(fs, roomCache, idx, quarantine, backup, hub, busSvc, opstats, cfg)

	engine := gin.Default()
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = allowedOrigins
	engine.Use(cors.New(corsCfg))
	engine.Use(gin.Recovery())
	engine.Use(middleware.CorrelationID())

	engine.GET("/ws", hub.ServeWS)
	adminHandler.RegisterRoutes(engine)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: engine}

	evictStop := roomCache.StartEviction(cacheEvictionInterval)
	backupStop := backup.Start(backupTickInterval)

	go func() {
		log.Info("anim5s-server starting", zap.String("port", cfg.Port), zap.String("data_dir", cfg.DataDir))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server stopped unexpectedly", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	close(evictStop)
	close(backupStop)
	if busSvc != nil {
		_ = busSvc.Close()
	}

	log.Info("shutdown complete")
}

// allowedOriginsFromEnv reads a comma-separated origin list from envVar,
// falling back to defaultOrigins when unset.
func allowedOriginsFromEnv(envVar string, defaultOrigins []string) []string {
	v := os.Getenv(envVar)
	if v == "" {
		return defaultOrigins
	}
	return strings.Split(v, ",")
}
