package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Logging
	LogLevel string

	// Storage
	StorePath string

	// Cache
	CacheSize    int
	ListCacheTTL time.Duration

	// Session limits
	MaxSessions        int // global cap across all users
	MaxSessionsPerUser int // default per-user cap, overridable per user

	// Webhook delivery
	WebhookTimeout    time.Duration
	WebhookMaxRetries int
	WebhookQueueSize  int
	WebhookInterval   time.Duration

	// Backups
	BackupPath     string
	BackupInterval time.Duration
	BackupKeep     int

	// Health sampling
	HealthInterval time.Duration
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultStore := filepath.Join(homeDir, ".wahub", "store")

	return &Config{
		LogLevel:           "INFO",
		StorePath:          defaultStore,
		CacheSize:          1000,
		ListCacheTTL:       60 * time.Second,
		MaxSessions:        100,
		MaxSessionsPerUser: 5,
		WebhookTimeout:     30 * time.Second,
		WebhookMaxRetries:  3,
		WebhookQueueSize:   1000,
		WebhookInterval:    5 * time.Second,
		BackupPath:         filepath.Join(defaultStore, "backups"),
		BackupInterval:     6 * time.Hour,
		BackupKeep:         5,
		HealthInterval:     30 * time.Second,
	}
}

// Load loads configuration from a .env file (if present) and environment
// variables layered over the defaults.
func Load() *Config {
	_ = godotenv.Load()

	cfg := Default()

	if v := os.Getenv("WAHUB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WAHUB_STORE_PATH"); v != "" {
		cfg.StorePath = v
		cfg.BackupPath = filepath.Join(v, "backups")
	}
	if v := os.Getenv("WAHUB_BACKUP_PATH"); v != "" {
		cfg.BackupPath = v
	}
	if v := envInt("WAHUB_CACHE_SIZE"); v > 0 {
		cfg.CacheSize = v
	}
	if v := envInt("WAHUB_MAX_SESSIONS"); v > 0 {
		cfg.MaxSessions = v
	}
	if v := envInt("WAHUB_MAX_SESSIONS_PER_USER"); v > 0 {
		cfg.MaxSessionsPerUser = v
	}
	if v := envInt("WAHUB_WEBHOOK_TIMEOUT_SECS"); v > 0 {
		cfg.WebhookTimeout = time.Duration(v) * time.Second
	}
	if v := envInt("WAHUB_WEBHOOK_MAX_RETRIES"); v > 0 {
		cfg.WebhookMaxRetries = v
	}
	if v := envInt("WAHUB_WEBHOOK_QUEUE_SIZE"); v > 0 {
		cfg.WebhookQueueSize = v
	}
	if v := envInt("WAHUB_BACKUP_INTERVAL_MINS"); v > 0 {
		cfg.BackupInterval = time.Duration(v) * time.Minute
	}
	if v := envInt("WAHUB_BACKUP_KEEP"); v > 0 {
		cfg.BackupKeep = v
	}
	if v := envInt("WAHUB_HEALTH_INTERVAL_SECS"); v > 0 {
		cfg.HealthInterval = time.Duration(v) * time.Second
	}

	return cfg
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// EnsureStorePath creates the store and backup directories if missing.
func (c *Config) EnsureStorePath() error {
	if err := os.MkdirAll(c.StorePath, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.BackupPath, 0755)
}
