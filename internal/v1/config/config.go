package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration for the room coordination server.
type Config struct {
	// Required / defaulted core settings
	Port    string
	DataDir string

	// Admin
	AdminKey string

	// Room cache (§4.B)
	RoomCacheMax    int
	RoomCacheIdleMs int64

	// Reservation engine (§4.D)
	ReservationMs int64

	// Backup rotation (§4.C)
	BackupIntervalMs int64
	BackupKeep       int

	// Ambient
	GoEnv    string
	LogLevel string

	// Domain-stack: optional distributed broadcast bus
	RedisEnabled bool
	RedisAddr    string

	// Rate limiting: per-verb window (ms) and max requests (§4.I)
	RateLimits map[string]RateRule
}

// RateRule is a token-bucket window/max pair for one message verb.
type RateRule struct {
	WindowMs int64
	Max      int64
}

// ValidateEnv validates all environment variables and returns a Config.
// Required variables produce an aggregated error; everything else falls
// back to the defaults from the specification.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = getEnvOrDefault("PORT", "3000")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.DataDir = getEnvOrDefault("DATA_DIR", "./data")
	cfg.AdminKey = os.Getenv("ADMIN_KEY")

	cfg.RoomCacheMax = getEnvIntOrDefault("ROOM_CACHE_MAX", 80, &errs)
	cfg.RoomCacheIdleMs = getEnvInt64OrDefault("ROOM_CACHE_IDLE_MS", 300000, &errs)
	cfg.ReservationMs = getEnvInt64OrDefault("RESERVATION_MS", 180000, &errs)
	cfg.BackupIntervalMs = getEnvInt64OrDefault("BACKUP_INTERVAL_MS", 1800000, &errs)
	cfg.BackupKeep = getEnvIntOrDefault("BACKUP_KEEP", 24, &errs)

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
	}

	cfg.RateLimits = map[string]RateRule{
		"hello":                     rateRule("HELLO", 10000, 120, &errs),
		"get_frame":                 rateRule("GET_FRAME", 10000, 90, &errs),
		"join_room":                 rateRule("JOIN_ROOM", 10000, 40, &errs),
		"resync":                    rateRule("RESYNC", 10000, 30, &errs),
		"join_random":               rateRule("JOIN_RANDOM", 10000, 18, &errs),
		"join_by_id":                rateRule("JOIN_BY_ID", 10000, 18, &errs),
		"create_public_and_submit":  rateRule("CREATE_PUBLIC_AND_SUBMIT", 60000, 12, &errs),
		"submit_frame":              rateRule("SUBMIT_FRAME", 60000, 10, &errs),
		"default":                   rateRule("DEFAULT", 10000, 50, &errs),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int, errs *[]string) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer (got '%s')", key, v))
		return defaultValue
	}
	return n
}

func getEnvInt64OrDefault(key string, defaultValue int64, errs *[]string) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer (got '%s')", key, v))
		return defaultValue
	}
	return n
}

func rateRule(envPrefix string, defaultWindowMs, defaultMax int64, errs *[]string) RateRule {
	return RateRule{
		WindowMs: getEnvInt64OrDefault("RATE_LIMIT_"+envPrefix+"_WINDOW_MS", defaultWindowMs, errs),
		Max:      getEnvInt64OrDefault("RATE_LIMIT_"+envPrefix+"_MAX", defaultMax, errs),
	}
}

func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"data_dir", cfg.DataDir,
		"admin_key_set", cfg.AdminKey != "",
		"room_cache_max", cfg.RoomCacheMax,
		"room_cache_idle_ms", cfg.RoomCacheIdleMs,
		"reservation_ms", cfg.ReservationMs,
		"backup_interval_ms", cfg.BackupIntervalMs,
		"backup_keep", cfg.BackupKeep,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"redis_enabled", cfg.RedisEnabled,
	)
}
