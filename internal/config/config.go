// Package config provides application configuration loading from environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for the conversational engine. These mirror the operational
// values the bookkeeping flow was tuned with; override via environment.
const (
	DefaultSessionTTL     = 15 * time.Minute
	DefaultDedupTTL       = 5 * time.Minute
	DefaultNameCacheTTL   = 5 * time.Minute
	DefaultBackupMaxBytes = 96 * 1024
	DefaultSnapshotPath   = "data/state_snapshot.json"
)

// Config holds all configuration for the application.
type Config struct {
	TelegramBotToken string
	GeminiAPIKey     string
	RedisURL         string
	SnapshotPath     string
	LogLevel         string
	LogJSON          bool

	AllowedChatIDs []string

	SessionTTL     time.Duration
	DedupTTL       time.Duration
	NameCacheTTL   time.Duration
	BackupMaxBytes int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		RedisURL:         os.Getenv("REDIS_URL"),
		SnapshotPath:     os.Getenv("SNAPSHOT_PATH"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		LogJSON:          os.Getenv("LOG_JSON") == "true",
		SessionTTL:       DefaultSessionTTL,
		DedupTTL:         DefaultDedupTTL,
		NameCacheTTL:     DefaultNameCacheTTL,
		BackupMaxBytes:   DefaultBackupMaxBytes,
	}

	if cfg.SnapshotPath == "" {
		cfg.SnapshotPath = DefaultSnapshotPath
	}

	if raw := os.Getenv("SESSION_TTL_MINUTES"); raw != "" {
		if m, err := strconv.Atoi(raw); err == nil && m > 0 {
			cfg.SessionTTL = time.Duration(m) * time.Minute
		}
	}

	if raw := os.Getenv("BACKUP_MAX_BYTES"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.BackupMaxBytes = n
		}
	}

	allowed := os.Getenv("ALLOWED_CHAT_IDS")
	if allowed != "" {
		for id := range strings.SplitSeq(allowed, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			cfg.AllowedChatIDs = append(cfg.AllowedChatIDs, id)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks that all required configuration is present.
func (c *Config) validate() error {
	var errs []string

	if c.TelegramBotToken == "" {
		errs = append(errs, "TELEGRAM_BOT_TOKEN is required")
	}

	if len(c.AllowedChatIDs) == 0 {
		errs = append(errs, "at least one allowed chat (ALLOWED_CHAT_IDS) is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// IsChatAllowed checks whether a chat id is in the allowlist.
func (c *Config) IsChatAllowed(chatID string) bool {
	for _, id := range c.AllowedChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}
