// Package config provides configuration management for ggcsub using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8000
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultStatusCacheTTL    = 5 * time.Second
	defaultStatusTimeout     = 10 * time.Second
	defaultStatusQueueSize   = 50
	defaultSegmentPoll       = 2 * time.Second
	defaultKeepaliveInterval = 8 * time.Second
	defaultStallTimeout      = 60 * time.Second
	defaultReconnectInitial  = 1 * time.Second
	defaultReconnectMax      = 30 * time.Second
	defaultSegmentTimeout    = 10 * time.Second
	defaultPlaylistTimeout   = 10 * time.Second
	defaultHistorySize       = 200
	defaultRefinerBatchSize  = 8
	defaultRefinerInterval   = 2 * time.Second
	defaultRefinerTimeout    = 30 * time.Second
	defaultVODConnectTimeout = 60 * time.Second
	defaultVODWriteTimeout   = 30 * time.Minute
	defaultVODReadTimeout    = 60 * time.Minute
	defaultTaskRetention     = 24 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	ASR        ASRConfig        `mapstructure:"asr"`
	LiveStatus LiveStatusConfig `mapstructure:"live_status"`
	STT        STTConfig        `mapstructure:"stt"`
	Hub        HubConfig        `mapstructure:"hub"`
	Refiner    RefinerConfig    `mapstructure:"refiner"`
	VOD        VODConfig        `mapstructure:"vod"`
	Kospacing  KospacingConfig  `mapstructure:"kospacing"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// ASRConfig holds the speech-to-text provider configuration.
type ASRConfig struct {
	// APIKey authenticates against the provider. Live STT is disabled when empty.
	APIKey string `mapstructure:"api_key"`
	// StreamURL is the realtime websocket endpoint.
	StreamURL string `mapstructure:"stream_url"`
	// BatchURL is the pre-recorded HTTP endpoint.
	BatchURL string `mapstructure:"batch_url"`
	// Model is the provider model identifier.
	Model string `mapstructure:"model"`
	// Language is the BCP-47 recognition language.
	Language string `mapstructure:"language"`
	// EndpointingMS is the end-of-utterance detection window in milliseconds.
	EndpointingMS int `mapstructure:"endpointing_ms"`

	SegmentPollInterval time.Duration `mapstructure:"segment_poll_interval"`
	KeepaliveInterval   time.Duration `mapstructure:"keepalive_interval"`
	StallTimeout        time.Duration `mapstructure:"stall_timeout"`
	ReconnectInitial    time.Duration `mapstructure:"reconnect_initial"`
	ReconnectMax        time.Duration `mapstructure:"reconnect_max"`
	SegmentTimeout      time.Duration `mapstructure:"segment_timeout"`
	PlaylistTimeout     time.Duration `mapstructure:"playlist_timeout"`
}

// LiveStatusConfig holds the upstream on-air listing configuration.
type LiveStatusConfig struct {
	// Endpoint is the broadcaster's on-air listing URL.
	Endpoint string `mapstructure:"endpoint"`
	// Referer is the origin-mandated Referer header.
	Referer string `mapstructure:"referer"`
	// CacheTTL is how long a fetched snapshot stays fresh.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// FetchTimeout bounds a single upstream request.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	// QueueSize is the per-subscriber change queue capacity.
	QueueSize int `mapstructure:"queue_size"`
}

// STTConfig holds live STT behaviour flags.
type STTConfig struct {
	// AutoStart enables the supervisor that reconciles workers with
	// broadcasting channels.
	AutoStart bool `mapstructure:"auto_start"`
	// PersistCaptions writes live captions to the durable store.
	PersistCaptions bool `mapstructure:"persist_captions"`
}

// HubConfig holds subscriber hub configuration.
type HubConfig struct {
	// HistorySize is the per-room caption ring buffer capacity.
	HistorySize int `mapstructure:"history_size"`
}

// RefinerConfig holds the LLM caption rewriter configuration.
type RefinerConfig struct {
	// APIKey enables the refiner when non-empty.
	APIKey string `mapstructure:"api_key"`
	// BaseURL is the chat-completions endpoint base.
	BaseURL string `mapstructure:"base_url"`
	// Model is the rewriter model identifier.
	Model     string        `mapstructure:"model"`
	BatchSize int           `mapstructure:"batch_size"`
	Interval  time.Duration `mapstructure:"interval"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// Roster is the list of real councilor names the rewriter may fix
	// speaker references against.
	Roster []string `mapstructure:"roster"`
}

// VODConfig holds the VOD batch pipeline configuration.
type VODConfig struct {
	// OriginReferer is the Referer header the video origin requires.
	OriginReferer  string        `mapstructure:"origin_referer"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	// TaskRetention is how long terminal task states stay queryable.
	TaskRetention time.Duration `mapstructure:"task_retention"`
	// JanitorSchedule is the cron expression for task-state pruning.
	JanitorSchedule string `mapstructure:"janitor_schedule"`
}

// KospacingConfig holds the Korean word-spacing model configuration.
type KospacingConfig struct {
	// ModelDir is the directory holding the spacing model data.
	ModelDir string `mapstructure:"model_dir"`
}

// SetDefaults registers default values on the given Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "ggcsub.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("asr.stream_url", "wss://api.deepgram.com/v1/listen")
	v.SetDefault("asr.batch_url", "https://api.deepgram.com/v1/listen")
	v.SetDefault("asr.model", "nova-3")
	v.SetDefault("asr.language", "ko")
	v.SetDefault("asr.endpointing_ms", 300)
	v.SetDefault("asr.segment_poll_interval", defaultSegmentPoll)
	v.SetDefault("asr.keepalive_interval", defaultKeepaliveInterval)
	v.SetDefault("asr.stall_timeout", defaultStallTimeout)
	v.SetDefault("asr.reconnect_initial", defaultReconnectInitial)
	v.SetDefault("asr.reconnect_max", defaultReconnectMax)
	v.SetDefault("asr.segment_timeout", defaultSegmentTimeout)
	v.SetDefault("asr.playlist_timeout", defaultPlaylistTimeout)

	v.SetDefault("live_status.endpoint", "https://live.ggc.go.kr/getOnairListTodayData.do")
	v.SetDefault("live_status.referer", "https://live.ggc.go.kr/")
	v.SetDefault("live_status.cache_ttl", defaultStatusCacheTTL)
	v.SetDefault("live_status.fetch_timeout", defaultStatusTimeout)
	v.SetDefault("live_status.queue_size", defaultStatusQueueSize)

	v.SetDefault("stt.auto_start", true)
	v.SetDefault("stt.persist_captions", true)

	v.SetDefault("hub.history_size", defaultHistorySize)

	v.SetDefault("refiner.base_url", "https://api.openai.com/v1")
	v.SetDefault("refiner.model", "gpt-4o-mini")
	v.SetDefault("refiner.batch_size", defaultRefinerBatchSize)
	v.SetDefault("refiner.interval", defaultRefinerInterval)
	v.SetDefault("refiner.timeout", defaultRefinerTimeout)
	v.SetDefault("refiner.roster", []string{})

	v.SetDefault("vod.origin_referer", "https://kms.ggc.go.kr/")
	v.SetDefault("vod.connect_timeout", defaultVODConnectTimeout)
	v.SetDefault("vod.write_timeout", defaultVODWriteTimeout)
	v.SetDefault("vod.read_timeout", defaultVODReadTimeout)
	v.SetDefault("vod.task_retention", defaultTaskRetention)
	v.SetDefault("vod.janitor_schedule", "0 4 * * *")

	v.SetDefault("kospacing.model_dir", "")
}

// Load reads configuration from the given Viper instance into a Config.
// Environment variables with the GGCSUB_ prefix override file values,
// e.g. GGCSUB_ASR_API_KEY maps to asr.api_key.
func Load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("GGCSUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database DSN must not be empty")
	}
	if c.ASR.SegmentPollInterval <= 0 {
		return errors.New("asr segment poll interval must be positive")
	}
	if c.ASR.StallTimeout <= 0 {
		return errors.New("asr stall timeout must be positive")
	}
	if c.LiveStatus.QueueSize <= 0 {
		return errors.New("live status queue size must be positive")
	}
	if c.Hub.HistorySize <= 0 {
		return errors.New("hub history size must be positive")
	}
	if c.Refiner.BatchSize <= 0 {
		return errors.New("refiner batch size must be positive")
	}
	return nil
}

// LiveSTTEnabled reports whether live STT can run at all.
func (c *Config) LiveSTTEnabled() bool {
	return c.ASR.APIKey != ""
}

// AutoSTTEnabled reports whether the auto-start supervisor should run.
func (c *Config) AutoSTTEnabled() bool {
	return c.LiveSTTEnabled() && c.STT.AutoStart
}

// RefinerEnabled reports whether the caption refiner should run.
func (c *Config) RefinerEnabled() bool {
	return c.Refiner.APIKey != ""
}
