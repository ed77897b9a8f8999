// Package config loads and validates tagfeed configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/tagfeed/internal/extract"
	"github.com/JakeFAU/tagfeed/internal/index"
	"github.com/JakeFAU/tagfeed/internal/session"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Feed      FeedConfig      `mapstructure:"feed"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Proximity ProximityConfig `mapstructure:"proximity"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	View      ViewConfig      `mapstructure:"view"`
	Export    ExportConfig    `mapstructure:"export"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the session API server.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxSessions    int `mapstructure:"max_sessions"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FeedConfig locates the site and holds the default mount attributes.
type FeedConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	PathTemplate   string `mapstructure:"path_template"`
	Tag            string `mapstructure:"tag"`
	BatchSize      int    `mapstructure:"batch_size"`
	MaxConcurrency int    `mapstructure:"max_concurrency"`
	ShowStatus     bool   `mapstructure:"show_status"`
	DisplayName    string `mapstructure:"display_name"`
}

// HTTPConfig configures the fetcher and its politeness limits.
type HTTPConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// CacheConfig enables the shared Redis page cache.
type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	RedisAddr string        `mapstructure:"redis_addr"`
	DB        int           `mapstructure:"db"`
	Prefix    string        `mapstructure:"prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// QueueConfig bounds content jobs.
type QueueConfig struct {
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// ProximityConfig sets trigger margins in lines.
type ProximityConfig struct {
	EntryMargin    int `mapstructure:"entry_margin"`
	SentinelMargin int `mapstructure:"sentinel_margin"`
}

// ExtractConfig overrides the HTML selectors.
type ExtractConfig struct {
	IndexSelector    string   `mapstructure:"index_selector"`
	LabelSelector    string   `mapstructure:"label_selector"`
	ContentSelectors []string `mapstructure:"content_selectors"`
	LazyImages       bool     `mapstructure:"lazy_images"`
}

// ViewConfig sizes headless renders.
type ViewConfig struct {
	Width      int `mapstructure:"width"`
	PageHeight int `mapstructure:"page_height"`
}

// ExportConfig sets where dump snapshots go.
type ExportConfig struct {
	Output      string `mapstructure:"output"`
	ContentType string `mapstructure:"content_type"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment. With an empty path,
// tagfeed.yaml is looked up in the working directory, /etc/tagfeed and
// $HOME/.tagfeed; a missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TAGFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tagfeed")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tagfeed/")
		v.AddConfigPath("$HOME/.tagfeed")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 30)
	v.SetDefault("server.max_sessions", 256)
	v.SetDefault("feed.base_url", "https://example.omg.lol")
	v.SetDefault("feed.path_template", index.DefaultPathTemplate)
	v.SetDefault("feed.tag", "")
	v.SetDefault("feed.batch_size", 10)
	v.SetDefault("feed.max_concurrency", 4)
	v.SetDefault("feed.show_status", true)
	v.SetDefault("feed.display_name", "")
	v.SetDefault("http.user_agent", "tagfeed/0.1")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.rate_limit_rps", 0)
	v.SetDefault("http.rate_limit_burst", 4)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.prefix", "tagfeed")
	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("queue.job_timeout", "30s")
	v.SetDefault("proximity.entry_margin", session.DefaultEntryMargin)
	v.SetDefault("proximity.sentinel_margin", session.DefaultSentinelMargin)
	v.SetDefault("extract.index_selector", extract.DefaultIndexSelector)
	v.SetDefault("extract.label_selector", extract.DefaultLabelSelector)
	v.SetDefault("extract.content_selectors", extract.DefaultContentSelectors)
	v.SetDefault("extract.lazy_images", true)
	v.SetDefault("view.width", 80)
	v.SetDefault("view.page_height", 40)
	v.SetDefault("export.output", "data/tag_feed.json")
	v.SetDefault("export.content_type", "application/json")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.MaxSessions <= 0 {
		return fmt.Errorf("server.max_sessions must be > 0")
	}
	if strings.TrimSpace(c.Feed.BaseURL) == "" {
		return fmt.Errorf("feed.base_url must be set")
	}
	if !strings.Contains(c.Feed.PathTemplate, "%s") {
		return fmt.Errorf("feed.path_template must contain %%s")
	}
	if c.Feed.BatchSize <= 0 {
		return fmt.Errorf("feed.batch_size must be > 0")
	}
	if c.Feed.MaxConcurrency <= 0 {
		return fmt.Errorf("feed.max_concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Cache.Enabled && (c.Cache.RedisAddr == "" || c.Cache.TTL <= 0) {
		return fmt.Errorf("cache.redis_addr and cache.ttl must be set when the cache is enabled")
	}
	if c.Queue.JobTimeout < 0 {
		return fmt.Errorf("queue.job_timeout must be >= 0")
	}
	if c.Proximity.EntryMargin <= 0 || c.Proximity.SentinelMargin <= 0 {
		return fmt.Errorf("proximity margins must be > 0")
	}
	if c.View.Width <= 0 || c.View.PageHeight <= 0 {
		return fmt.Errorf("view.width and view.page_height must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// Mount returns the default mount attributes.
func (c Config) Mount() session.Mount {
	return session.Mount{
		Tag:            c.Feed.Tag,
		BatchSize:      c.Feed.BatchSize,
		MaxConcurrency: c.Feed.MaxConcurrency,
		ShowStatus:     c.Feed.ShowStatus,
		DisplayName:    c.Feed.DisplayName,
	}.Normalize()
}

// SessionConfig sizes sessions for mount.
func (c Config) SessionConfig(mount session.Mount) session.Config {
	return session.Config{
		Mount:          mount,
		JobTimeout:     c.Queue.JobTimeout,
		EntryMargin:    c.Proximity.EntryMargin,
		SentinelMargin: c.Proximity.SentinelMargin,
		Width:          c.View.Width,
	}
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ExtractorConfig maps the selector overrides onto the extractor.
func (c Config) ExtractorConfig() extract.Config {
	return extract.Config{
		IndexSelector:    c.Extract.IndexSelector,
		LabelSelector:    c.Extract.LabelSelector,
		ContentSelectors: c.Extract.ContentSelectors,
		LazyImages:       c.Extract.LazyImages,
	}
}

// IndexConfig locates tag index pages.
func (c Config) IndexConfig() index.Config {
	return index.Config{BaseURL: c.Feed.BaseURL, PathTemplate: c.Feed.PathTemplate}
}
