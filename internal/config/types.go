// Package config manages application configuration from environment variables,
// config files, and default values.
package config

import "time"

// Config defines the application configuration. Values can be set via
// environment variables prefixed with TELECONVO_ (e.g. TELECONVO_TELEGRAM_TOKEN)
// or through a YAML config file.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Collector CollectorConfig `mapstructure:"collector"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LoggerConfig controls log level and output format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// ServerConfig holds the WebSocket query server settings.
type ServerConfig struct {
	Host string `mapstructure:"host" validate:"required"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
}

// TelegramConfig holds the Bot API credentials for the collector.
// Token is only required when running in a collecting mode; that check
// happens at startup, not here, so the query server can run without it.
type TelegramConfig struct {
	Token string `mapstructure:"token"`
	// ChatID restricts ingestion to a single chat when non-zero.
	ChatID int64 `mapstructure:"chat_id"`
}

// CollectorConfig bounds the collector's write batches so no single
// transaction holds the connection for an unbounded duration.
type CollectorConfig struct {
	BatchSize     int           `mapstructure:"batch_size"     validate:"min=1,max=1000"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"min=100ms,max=5m"`
}

// SchedulerConfig configures the scheduled maintenance tasks.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig enables a named task and sets its cron schedule.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}
