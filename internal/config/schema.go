package config

import (
	"fmt"
	"time"

	"github.com/jackzampolin/epubify/internal/crawl"
	"github.com/jackzampolin/epubify/internal/defra"
	"github.com/jackzampolin/epubify/internal/task"
)

// Store backends.
const (
	BackendDefra  = "defra"
	BackendMemory = "memory"
)

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Crawl   CrawlConfig   `mapstructure:"crawl" yaml:"crawl"`
	Tasks   TasksConfig   `mapstructure:"tasks" yaml:"tasks"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Defra   DefraConfig   `mapstructure:"defra" yaml:"defra"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// CrawlConfig controls link discovery and page fetching.
type CrawlConfig struct {
	AllowedPrefixes  []string `mapstructure:"allowed_prefixes" yaml:"allowed_prefixes"`
	ExcludedSuffixes []string `mapstructure:"excluded_suffixes" yaml:"excluded_suffixes"`
	MaxLinks         int      `mapstructure:"max_links" yaml:"max_links"`
	TimeoutSeconds   int      `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	Concurrency      int      `mapstructure:"concurrency" yaml:"concurrency"`
	UserAgent        string   `mapstructure:"user_agent" yaml:"user_agent"`
	MaxBodyBytes     int64    `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// TasksConfig controls the task queue and record retention.
type TasksConfig struct {
	RetentionHours int `mapstructure:"retention_hours" yaml:"retention_hours"`
	Workers        int `mapstructure:"workers" yaml:"workers"`
	QueueSize      int `mapstructure:"queue_size" yaml:"queue_size"`
	SweepMinutes   int `mapstructure:"sweep_minutes" yaml:"sweep_minutes"`
}

// StoreConfig selects where task records live.
type StoreConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // "defra" or "memory"
}

// DefraConfig holds DefraDB container settings.
type DefraConfig struct {
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	Image         string `mapstructure:"image" yaml:"image"`
	Port          string `mapstructure:"port" yaml:"port"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Crawl: CrawlConfig{
			AllowedPrefixes:  crawl.DefaultAllowedPrefixes,
			ExcludedSuffixes: crawl.DefaultExcludedSuffixes,
			MaxLinks:         crawl.DefaultMaxLinks,
			TimeoutSeconds:   int(crawl.DefaultTimeout / time.Second),
			Concurrency:      8,
			UserAgent:        crawl.DefaultUserAgent,
			MaxBodyBytes:     crawl.DefaultMaxBodyBytes,
		},
		Tasks: TasksConfig{
			RetentionHours: int(task.DefaultRetention / time.Hour),
			Workers:        4,
			QueueSize:      1000,
			SweepMinutes:   60,
		},
		Store: StoreConfig{
			Backend: BackendDefra,
		},
		Defra: DefraConfig{
			Image: defra.DefaultImage,
			Port:  defra.DefaultPort,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks values that have no usable fallback.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Store.Backend {
	case BackendDefra, BackendMemory:
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", BackendDefra, BackendMemory, c.Store.Backend)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	if len(c.Crawl.AllowedPrefixes) == 0 {
		return fmt.Errorf("crawl.allowed_prefixes must not be empty")
	}
	return nil
}

// CrawlOptions converts the crawl section into crawl.Options.
func (c *Config) CrawlOptions() crawl.Options {
	return crawl.Options{
		AllowedPrefixes:  c.Crawl.AllowedPrefixes,
		ExcludedSuffixes: c.Crawl.ExcludedSuffixes,
		MaxLinks:         c.Crawl.MaxLinks,
		Timeout:          time.Duration(c.Crawl.TimeoutSeconds) * time.Second,
		MaxBodyBytes:     c.Crawl.MaxBodyBytes,
		UserAgent:        c.Crawl.UserAgent,
	}
}

// Concurrency returns the per-task page fetch limit, at least 1.
func (c *Config) Concurrency() int {
	if c.Crawl.Concurrency < 1 {
		return 1
	}
	return c.Crawl.Concurrency
}

// Retention returns how long task records are kept.
func (c *Config) Retention() time.Duration {
	if c.Tasks.RetentionHours <= 0 {
		return task.DefaultRetention
	}
	return time.Duration(c.Tasks.RetentionHours) * time.Hour
}

// SweepInterval returns how often expired tasks are purged.
func (c *Config) SweepInterval() time.Duration {
	if c.Tasks.SweepMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.Tasks.SweepMinutes) * time.Minute
}
