package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	// LogFile, when set, receives a copy of every log line with size-based rotation.
	LogFile  string
	HTTPAddr string

	// StoreDriver selects the reading store: "sqlite" or "memory".
	StoreDriver string

	SQLiteDriver          string
	SQLiteDSN             string
	SQLitePath            string
	SQLiteMaxOpenConns    int
	SQLiteMaxIdleConns    int
	SQLiteConnMaxLifetime time.Duration
	SQLiteLogStatements   bool

	MQTTEnabled  bool
	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	IngestTopic  string

	BroadcastInterval    time.Duration
	BroadcastTopic       string
	BroadcastTickTimeout time.Duration

	HistoryMaxBound     int
	HistoryDefaultLimit int
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(envString("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	storeDriver := strings.ToLower(envString("STORE_DRIVER", "sqlite"))
	switch storeDriver {
	case "sqlite", "memory":
	default:
		return Config{}, fmt.Errorf("invalid STORE_DRIVER %q (allowed: sqlite, memory)", storeDriver)
	}

	cfg := Config{
		AppEnv:       appEnv,
		LogLevel:     level,
		LogFile:      envString("LOG_FILE", ""),
		HTTPAddr:     envString("HTTP_ADDR", ":8080"),
		StoreDriver:  storeDriver,
		SQLiteDriver: envString("DB_DRIVER", "sqlite3"),
		SQLiteDSN:    envString("DB_DSN", ""),
		SQLitePath:   envString("SQLITE_PATH", "data/environment.db"),
		MQTTBroker:   envString("MQTT_BROKER", "localhost"),
		MQTTClientID: envString("MQTT_CLIENT_ID", "environment-server"),
		IngestTopic:  envString("INGEST_TOPIC", "sensors/+/environment"),
	}

	if cfg.SQLiteMaxOpenConns, err = envInt("DB_MAX_OPEN_CONNS", 1); err != nil {
		return Config{}, err
	}
	if cfg.SQLiteMaxIdleConns, err = envInt("DB_MAX_IDLE_CONNS", 1); err != nil {
		return Config{}, err
	}
	if cfg.SQLiteConnMaxLifetime, err = envDuration("DB_CONN_MAX_LIFETIME", 0); err != nil {
		return Config{}, err
	}
	if cfg.SQLiteLogStatements, err = envBool("DB_LOG_SQL", false); err != nil {
		return Config{}, err
	}

	if cfg.MQTTEnabled, err = envBool("MQTT_ENABLED", true); err != nil {
		return Config{}, err
	}
	if cfg.MQTTPort, err = envInt("MQTT_PORT", 1883); err != nil {
		return Config{}, err
	}
	if cfg.MQTTPort <= 0 || cfg.MQTTPort > 65535 {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %d (must be 1-65535)", cfg.MQTTPort)
	}

	if cfg.BroadcastInterval, err = envDuration("BROADCAST_INTERVAL", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.BroadcastInterval <= 0 {
		return Config{}, fmt.Errorf("BROADCAST_INTERVAL must be positive, got %v", cfg.BroadcastInterval)
	}
	cfg.BroadcastTopic = envString("BROADCAST_TOPIC", "/topic/environment")
	if cfg.BroadcastTickTimeout, err = envDuration("BROADCAST_TICK_TIMEOUT", cfg.BroadcastInterval); err != nil {
		return Config{}, err
	}
	if cfg.BroadcastTickTimeout <= 0 {
		return Config{}, fmt.Errorf("BROADCAST_TICK_TIMEOUT must be positive, got %v", cfg.BroadcastTickTimeout)
	}

	if cfg.HistoryMaxBound, err = envInt("HISTORY_MAX_BOUND", 100); err != nil {
		return Config{}, err
	}
	if cfg.HistoryMaxBound <= 0 {
		return Config{}, fmt.Errorf("HISTORY_MAX_BOUND must be positive, got %d", cfg.HistoryMaxBound)
	}
	if cfg.HistoryDefaultLimit, err = envInt("HISTORY_DEFAULT_LIMIT", 50); err != nil {
		return Config{}, err
	}
	if cfg.HistoryDefaultLimit <= 0 {
		return Config{}, fmt.Errorf("HISTORY_DEFAULT_LIMIT must be positive, got %d", cfg.HistoryDefaultLimit)
	}

	return cfg, nil
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
