// Package config loads and validates extractor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Render mode values accepted by render.mode.
const (
	RenderModeAuto     = "auto"
	RenderModeHeadless = "headless"
	RenderModeStatic   = "static"
)

// Backend values accepted by archive.backend and events.backend.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Graph   GraphConfig   `mapstructure:"graph"`
	Render  RenderConfig  `mapstructure:"render"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Events  EventsConfig  `mapstructure:"events"`
	DB      DBConfig      `mapstructure:"db"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// GraphConfig points at the external knowledge-graph service.
type GraphConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RenderConfig governs page rendering: the static fetcher, the headless
// browser, and the heuristic that promotes between them.
type RenderConfig struct {
	Mode              string `mapstructure:"mode"`
	UserAgent         string `mapstructure:"user_agent"`
	HTTPTimeoutSec    int    `mapstructure:"http_timeout_seconds"`
	NavTimeoutSec     int    `mapstructure:"nav_timeout_seconds"`
	MaxParallel       int    `mapstructure:"max_parallel"`
	NoSandbox         bool   `mapstructure:"no_sandbox"`
	DisableDevShm     bool   `mapstructure:"disable_dev_shm"`
	MinHTMLBytes      int    `mapstructure:"min_html_bytes"`
	RequiredSelectors string `mapstructure:"required_selectors"`
}

// JobsConfig bounds extraction job admission and request defaults.
type JobsConfig struct {
	MaxConcurrent   int `mapstructure:"max_concurrent"`
	DefaultMaxDepth int `mapstructure:"default_max_depth"`
	MaxSelectors    int `mapstructure:"max_selectors"`
}

// ArchiveConfig selects where rendered HTML is archived.
type ArchiveConfig struct {
	Backend     string `mapstructure:"backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// EventsConfig selects the lifecycle event publisher.
type EventsConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// DBConfig controls the finished-job archive database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXTRACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindLegacyEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindLegacyEnv honors the env names the service shipped with before the
// EXTRACTOR_ prefix existed.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("graph.base_url", "EXTRACTOR_GRAPH_BASE_URL", "KG_SERVICE_URL")
	_ = v.BindEnv("server.port", "EXTRACTOR_SERVER_PORT", "SERVICE_PORT")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8001)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("graph.enabled", true)
	v.SetDefault("graph.base_url", "http://localhost:8000")
	v.SetDefault("graph.timeout_seconds", 10)
	v.SetDefault("render.mode", RenderModeAuto)
	v.SetDefault("render.user_agent", "uda-doc-extractor/1.0")
	v.SetDefault("render.http_timeout_seconds", 15)
	v.SetDefault("render.nav_timeout_seconds", 60)
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.no_sandbox", true)
	v.SetDefault("render.disable_dev_shm", true)
	v.SetDefault("render.min_html_bytes", 2048)
	v.SetDefault("render.required_selectors", "")
	v.SetDefault("jobs.max_concurrent", 0)
	v.SetDefault("jobs.default_max_depth", 1)
	v.SetDefault("jobs.max_selectors", 20)
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("events.backend", BackendNone)
	v.SetDefault("events.topic", "extraction-events")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Graph.Enabled && c.Graph.BaseURL == "" {
		return fmt.Errorf("graph.base_url must be set when graph publishing is enabled")
	}
	if c.Graph.TimeoutSeconds <= 0 {
		return fmt.Errorf("graph.timeout_seconds must be > 0")
	}
	switch c.Render.Mode {
	case RenderModeAuto, RenderModeHeadless, RenderModeStatic:
	default:
		return fmt.Errorf("render.mode must be one of auto, headless, static")
	}
	if c.Render.Mode != RenderModeStatic && c.Render.MaxParallel <= 0 {
		return fmt.Errorf("render.max_parallel must be > 0 when headless rendering is possible")
	}
	if c.Render.NavTimeoutSec <= 0 {
		return fmt.Errorf("render.nav_timeout_seconds must be > 0")
	}
	if c.Render.HTTPTimeoutSec <= 0 {
		return fmt.Errorf("render.http_timeout_seconds must be > 0")
	}
	if c.Jobs.DefaultMaxDepth < 1 {
		return fmt.Errorf("jobs.default_max_depth must be >= 1")
	}
	if c.Jobs.MaxConcurrent < 0 {
		return fmt.Errorf("jobs.max_concurrent must be >= 0")
	}
	switch c.Archive.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend must be one of none, memory, local, gcs")
	}
	switch c.Events.Backend {
	case BackendNone, BackendMemory:
	case BackendPubSub:
		if c.Events.ProjectID == "" {
			return fmt.Errorf("events.project_id must be set for the pubsub backend")
		}
		if c.Events.Topic == "" {
			return fmt.Errorf("events.topic must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("events.backend must be one of none, memory, pubsub")
	}
	return nil
}

// GraphTimeout returns the knowledge-graph client timeout.
func (c Config) GraphTimeout() time.Duration {
	return time.Duration(c.Graph.TimeoutSeconds) * time.Second
}

// NavTimeout returns the per-page navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Render.NavTimeoutSec) * time.Second
}

// HTTPTimeout returns the static fetch timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Render.HTTPTimeoutSec) * time.Second
}

// ServerTimeout returns the per-request handler timeout.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}
