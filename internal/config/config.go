// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aristath/slimwatch/internal/modules/settings"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir       string // Base directory for database, logs and backup staging (always absolute)
	DatabasePath  string // SQLite database file (defaults to <DataDir>/slimwatch.db)
	Port          int    // HTTP read API port
	LogLevel      string
	LogPretty     bool
	IPCSocketPath string // UNIX socket for the supervisor control surface

	IBKR       IBKRConfig
	MarketData MarketDataConfig
	Sentiment  SentimentConfig
	Discord    DiscordConfig
	Backup     BackupConfig
}

// IBKRConfig holds the realtime quote gateway connection settings
type IBKRConfig struct {
	Host     string
	Port     int
	ClientID int
}

// MarketDataConfig holds the historical bars provider settings
type MarketDataConfig struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	PacingDelay time.Duration // Minimum spacing between provider calls
}

// SentimentConfig holds the fear-and-greed feed settings
type SentimentConfig struct {
	BaseURL string
}

// DiscordConfig holds notification webhook URLs
type DiscordConfig struct {
	AlertsWebhook string // Position and breakout alerts
	MarketWebhook string // Market regime updates
}

// BackupConfig holds S3-compatible backup storage settings
type BackupConfig struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	RetentionDays int
}

// Enabled reports whether backups are configured.
func (b BackupConfig) Enabled() bool {
	return b.Bucket != "" && b.AccessKey != "" && b.SecretKey != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("SLIMWATCH_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := getEnv("DATABASE_PATH", "")
	if dbPath == "" {
		dbPath = filepath.Join(absDataDir, "slimwatch.db")
	}

	cfg := &Config{
		DataDir:       absDataDir,
		DatabasePath:  dbPath,
		Port:          getEnvAsInt("PORT", 8010),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogPretty:     getEnvAsBool("LOG_PRETTY", false),
		IPCSocketPath: getEnv("IPC_SOCKET_PATH", filepath.Join(absDataDir, "slimwatch.sock")),
		IBKR: IBKRConfig{
			Host:     getEnv("IBKR_HOST", "127.0.0.1"),
			Port:     getEnvAsInt("IBKR_PORT", 7497),
			ClientID: getEnvAsInt("IBKR_CLIENT_ID", 17),
		},
		MarketData: MarketDataConfig{
			APIKey:      getEnv("MARKET_DATA_API_KEY", ""),
			BaseURL:     getEnv("MARKET_DATA_BASE_URL", "https://api.marketdata.test"),
			Timeout:     time.Duration(getEnvAsInt("MARKET_DATA_TIMEOUT_SECONDS", 30)) * time.Second,
			PacingDelay: time.Duration(getEnvAsInt("MARKET_DATA_PACING_SECONDS", 25)) * time.Second,
		},
		Sentiment: SentimentConfig{
			BaseURL: getEnv("SENTIMENT_FEED_URL", "https://api.feargreed.test"),
		},
		Discord: DiscordConfig{
			AlertsWebhook: getEnv("DISCORD_WEBHOOK_ALERTS", ""),
			MarketWebhook: getEnv("DISCORD_WEBHOOK_MARKET", ""),
		},
		Backup: BackupConfig{
			Endpoint:      getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:        getEnv("BACKUP_S3_REGION", "auto"),
			Bucket:        getEnv("BACKUP_S3_BUCKET", ""),
			AccessKey:     getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey:     getEnv("BACKUP_S3_SECRET_KEY", ""),
			RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// UpdateFromSettings overlays configuration from the settings database.
// Called after the database is initialized; non-empty settings values take
// precedence over environment variables so runtime edits survive restarts.
func (c *Config) UpdateFromSettings(settingsRepo *settings.Repository) error {
	apiKey, err := settingsRepo.GetString("market_data_api_key", "")
	if err != nil {
		return fmt.Errorf("failed to get market_data_api_key from settings: %w", err)
	}
	if apiKey != "" {
		c.MarketData.APIKey = apiKey
	}

	alertsHook, err := settingsRepo.GetString("discord_webhook_alerts", "")
	if err != nil {
		return fmt.Errorf("failed to get discord_webhook_alerts from settings: %w", err)
	}
	if alertsHook != "" {
		c.Discord.AlertsWebhook = alertsHook
	}

	marketHook, err := settingsRepo.GetString("discord_webhook_market", "")
	if err != nil {
		return fmt.Errorf("failed to get discord_webhook_market from settings: %w", err)
	}
	if marketHook != "" {
		c.Discord.MarketWebhook = marketHook
	}

	return nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.MarketData.PacingDelay < time.Second {
		return fmt.Errorf("market data pacing delay below 1s would violate provider rate limits")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
