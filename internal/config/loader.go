package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrConfiguration wraps all configuration loading and validation failures.
var ErrConfiguration = errors.New("configuration error")

// LoadConfig loads and validates configuration from:
// 1. Default values
// 2. The YAML file at path (missing file is tolerated)
// 3. TELECONVO_* environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("TELECONVO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: failed to read config file %q: %v", ErrConfiguration, path, err)
		}
		// Config file not found is okay, defaults and env apply.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", true)

	v.SetDefault("database.path", "data/messages.db")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8765)

	v.SetDefault("collector.batch_size", 100)
	v.SetDefault("collector.flush_interval", 5*time.Second)

	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", "0 4 * * *")
	v.SetDefault("scheduler.tasks.fts_rebuild.enabled", false)
	v.SetDefault("scheduler.tasks.fts_rebuild.schedule", "30 4 * * 0")
}
