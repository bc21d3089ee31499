// Package config loads application configuration from file and environment
// and owns the global logger setup.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Online      OnlineConfig      `yaml:"online" mapstructure:"online"`
	Materialize MaterializeConfig `yaml:"materialize" mapstructure:"materialize"`
	Stream      StreamConfig      `yaml:"stream" mapstructure:"stream"`
	Sync        SyncConfig        `yaml:"sync" mapstructure:"sync"`
	Drift       DriftConfig       `yaml:"drift" mapstructure:"drift"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the offline database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// OnlineConfig configures the online store backend.
type OnlineConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"`
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
}

// MaterializeConfig configures the batch materialization engine.
type MaterializeConfig struct {
	LockTimeoutSecs int `yaml:"lock_timeout_secs" mapstructure:"lock_timeout_secs"`
}

// StreamConfig configures the change-feed consumer.
type StreamConfig struct {
	ConsumerName string  `yaml:"consumer_name" mapstructure:"consumer_name"`
	BatchSize    int     `yaml:"batch_size" mapstructure:"batch_size"`
	ReadRate     float64 `yaml:"read_rate" mapstructure:"read_rate"`
	IntervalSecs int     `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// SyncConfig configures the online sync worker.
type SyncConfig struct {
	BatchSize    int `yaml:"batch_size" mapstructure:"batch_size"`
	Shards       int `yaml:"shards" mapstructure:"shards"`
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// DriftConfig configures the drift monitor.
type DriftConfig struct {
	WebhookURL         string `yaml:"webhook_url" mapstructure:"webhook_url"`
	RecentWindowDays   int    `yaml:"recent_window_days" mapstructure:"recent_window_days"`
	BaselineWindowDays int    `yaml:"baseline_window_days" mapstructure:"baseline_window_days"`
	MinDays            int    `yaml:"min_days" mapstructure:"min_days"`
	CheckIntervalSecs  int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// ServerConfig configures the HTTP serving API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FEATURESTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "feature-store.db")
	v.SetDefault("online.driver", "postgres")
	v.SetDefault("online.redis_addr", "localhost:6379")
	v.SetDefault("online.redis_db", 0)
	v.SetDefault("materialize.lock_timeout_secs", 3600)
	v.SetDefault("stream.consumer_name", "stream-materializer")
	v.SetDefault("stream.batch_size", 500)
	v.SetDefault("stream.read_rate", 10)
	v.SetDefault("stream.interval_secs", 5)
	v.SetDefault("sync.batch_size", 1000)
	v.SetDefault("sync.shards", 4)
	v.SetDefault("sync.interval_secs", 30)
	v.SetDefault("drift.recent_window_days", 7)
	v.SetDefault("drift.baseline_window_days", 7)
	v.SetDefault("drift.min_days", 3)
	v.SetDefault("drift.check_interval_secs", 3600)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields the given run mode depends on. Modes are
// "serve", "worker" (materialize, stream, sync, drift loops), and "migrate".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		problems = append(problems, "store.driver must be postgres or sqlite")
	}

	switch c.Online.Driver {
	case "postgres":
	case "redis":
		if c.Online.RedisAddr == "" {
			problems = append(problems, "online.redis_addr is required for the redis driver")
		}
	default:
		problems = append(problems, "online.driver must be postgres or redis")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "worker":
		if c.Stream.BatchSize < 1 || c.Stream.BatchSize > 10000 {
			problems = append(problems, "stream.batch_size must be between 1 and 10000")
		}
		if c.Sync.Shards < 1 || c.Sync.Shards > 64 {
			problems = append(problems, "sync.shards must be between 1 and 64")
		}
	case "migrate":
		// Only the store settings checked above.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
