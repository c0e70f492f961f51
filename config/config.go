// Package config loads service configuration from YAML and TIMELINE_* env vars.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Timeline TimelineConfig `mapstructure:"timeline"`
	Mute     MuteConfig     `mapstructure:"mute"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// 每个客户端 IP 每秒请求数，0 表示不限流
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
	// FeedLink RSS 条目链接的前缀
	FeedLink string `mapstructure:"feed_link"`
}

// DatabaseConfig driver 取值 sqlite | postgres
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// PipelineConfig controls the inbox/broadcaster workers.
type PipelineConfig struct {
	RetryTries       uint          `mapstructure:"retry_tries"`
	RetryInitial     time.Duration `mapstructure:"retry_initial"`
	UserCacheSize    int           `mapstructure:"user_cache_size"`
	InteractionQueue int           `mapstructure:"interaction_queue"`
	FailureHistory   int           `mapstructure:"failure_history"`
	FailureRate      float64       `mapstructure:"failure_rate"`
}

// TimelineConfig is the default window policy for new timelines.
type TimelineConfig struct {
	PageSize      int           `mapstructure:"page_size"`
	ChunkSize     int           `mapstructure:"chunk_size"`
	BounceMargin  int           `mapstructure:"bounce_margin"`
	DebounceDelay time.Duration `mapstructure:"debounce_delay"`
	AutoTrim      bool          `mapstructure:"auto_trim"`
}

type MuteConfig struct {
	Keywords []string `mapstructure:"keywords"`
	UserIDs  []int64  `mapstructure:"user_ids"`
	Sources  []string `mapstructure:"sources"`
	// 同时屏蔽被静音用户的转推
	MuteRetweets bool `mapstructure:"mute_retweets"`
}

type PollerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load 读取默认位置的配置；TIMELINE_CONFIG 可指定文件路径
func Load() (*Config, error) {
	return LoadFrom(os.Getenv("TIMELINE_CONFIG"))
}

// LoadFrom reads the given file (or config.yaml from . and ./config when path is empty)
// and applies TIMELINE_* environment overrides, e.g. TIMELINE_DATABASE_DSN.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("TIMELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return errors.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Timeline.ChunkSize <= 0 || c.Timeline.PageSize <= 0 {
		return errors.New("timeline page_size and chunk_size must be positive")
	}
	if c.Pipeline.RetryTries == 0 {
		return errors.New("pipeline retry_tries must be at least 1")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.rate_limit", 50.0)
	v.SetDefault("server.rate_burst", 100)
	v.SetDefault("server.feed_link", "http://localhost:8080")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "timeline.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.ttl", 10*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("pipeline.retry_tries", 3)
	v.SetDefault("pipeline.retry_initial", 50*time.Millisecond)
	v.SetDefault("pipeline.user_cache_size", 4096)
	v.SetDefault("pipeline.interaction_queue", 10000)
	v.SetDefault("pipeline.failure_history", 200)
	v.SetDefault("pipeline.failure_rate", 5.0)

	v.SetDefault("timeline.page_size", 50)
	v.SetDefault("timeline.chunk_size", 200)
	v.SetDefault("timeline.bounce_margin", 50)
	v.SetDefault("timeline.debounce_delay", 2*time.Second)
	v.SetDefault("timeline.auto_trim", true)

	v.SetDefault("mute.mute_retweets", true)

	v.SetDefault("poller.interval", 60*time.Second)

	v.SetDefault("sentry.environment", "development")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.sample_ratio", 1.0)
}
