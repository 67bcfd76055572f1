// Package config loads service configuration from files and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Render backends accepted by render.backend.
const (
	BackendChromedp = "chromedp"
	BackendFPDF     = "fpdf"
)

// Config is the root configuration for the service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Output    OutputConfig    `mapstructure:"output"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Render    RenderConfig    `mapstructure:"render"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port                   int   `mapstructure:"port"`
	MaxBodyBytes           int64 `mapstructure:"max_body_bytes"`
	ShutdownTimeoutSeconds int   `mapstructure:"shutdown_timeout_seconds"`
}

// OutputConfig points at the managed artifact directory.
type OutputConfig struct {
	Dir           string `mapstructure:"dir"`
	InlineGraceMS int    `mapstructure:"inline_grace_ms"`
}

// CrawlerConfig holds crawl defaults and HTTP behaviour.
type CrawlerConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	MaxDepthDefault   int    `mapstructure:"max_depth_default"`
	MaxPagesDefault   int    `mapstructure:"max_pages_default"`
	DelayMSDefault    int    `mapstructure:"delay_ms_default"`
	SinglePageDelayMS int    `mapstructure:"single_page_delay_ms"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	RespectRobots     bool   `mapstructure:"respect_robots"`
}

// RenderConfig selects and tunes the PDF backend.
type RenderConfig struct {
	Backend        string `mapstructure:"backend"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Paper          string `mapstructure:"paper"`
	MaxParallel    int    `mapstructure:"max_parallel"`
	ExecPath       string `mapstructure:"exec_path"`
	// UTF8FontPath is a TrueType font embedded by the fpdf backend so
	// non-Latin text renders. Empty keeps the cp1252 core fonts.
	UTF8FontPath string `mapstructure:"utf8_font_path"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	LogEnabled bool `mapstructure:"log_enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
}

// WebSocketConfig controls the real-time endpoint.
type WebSocketConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ArchiveConfig enables optional GCS archival of artifacts.
type ArchiveConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig enables optional completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig selects the zap encoder and level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load reads configuration from the optional file path plus SITEPDF_* env vars.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEPDF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.max_body_bytes", 50<<20)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.inline_grace_ms", 5000)
	v.SetDefault("crawler.user_agent", "sitepdf/0.1")
	v.SetDefault("crawler.max_depth_default", 2)
	v.SetDefault("crawler.max_pages_default", 50)
	v.SetDefault("crawler.delay_ms_default", 1000)
	v.SetDefault("crawler.single_page_delay_ms", 500)
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("render.backend", BackendChromedp)
	v.SetDefault("render.timeout_seconds", 60)
	v.SetDefault("render.paper", "A4")
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.exec_path", "")
	v.SetDefault("render.utf8_font_path", "")
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("websocket.allowed_origins", []string{})
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "artifacts")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be > 0")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("output.dir must be set")
	}
	if c.Output.InlineGraceMS < 0 {
		return fmt.Errorf("output.inline_grace_ms must be >= 0")
	}
	if c.Crawler.MaxDepthDefault <= 0 {
		return fmt.Errorf("crawler.max_depth_default must be > 0")
	}
	if c.Crawler.MaxPagesDefault <= 0 {
		return fmt.Errorf("crawler.max_pages_default must be > 0")
	}
	if c.Crawler.DelayMSDefault < 0 {
		return fmt.Errorf("crawler.delay_ms_default must be >= 0")
	}
	if c.Crawler.SinglePageDelayMS < 0 {
		return fmt.Errorf("crawler.single_page_delay_ms must be >= 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	switch c.Render.Backend {
	case BackendChromedp, BackendFPDF:
	default:
		return fmt.Errorf("render.backend %q must be %q or %q", c.Render.Backend, BackendChromedp, BackendFPDF)
	}
	if c.Render.TimeoutSeconds <= 0 {
		return fmt.Errorf("render.timeout_seconds must be > 0")
	}
	if c.Progress.BufferSize <= 0 {
		return fmt.Errorf("progress.buffer_size must be > 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}

// InlineGrace is the delay before an inline-served artifact is deleted.
func (c Config) InlineGrace() time.Duration {
	return time.Duration(c.Output.InlineGraceMS) * time.Millisecond
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// DefaultDelay is the politeness delay applied when a crawl request omits one.
func (c Config) DefaultDelay() time.Duration {
	return time.Duration(c.Crawler.DelayMSDefault) * time.Millisecond
}

// SinglePageDelay is the delay used for single-page acquisition.
func (c Config) SinglePageDelay() time.Duration {
	return time.Duration(c.Crawler.SinglePageDelayMS) * time.Millisecond
}

// CrawlTimeout is the per-request crawl timeout.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// RenderTimeout is the per-render budget.
func (c Config) RenderTimeout() time.Duration {
	return time.Duration(c.Render.TimeoutSeconds) * time.Second
}

// ArchiveEnabled reports whether GCS archival is configured.
func (c Config) ArchiveEnabled() bool {
	return c.Archive.GCSBucket != ""
}

// NotifyEnabled reports whether Pub/Sub notifications are configured.
func (c Config) NotifyEnabled() bool {
	return c.PubSub.ProjectID != "" && c.PubSub.Topic != ""
}
