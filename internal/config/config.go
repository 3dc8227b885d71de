package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes environment overrides, e.g. EPUBIFY_SERVER_PORT.
const EnvPrefix = "EPUBIFY"

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	v := cm.v

	// Leaf keys, so AutomaticEnv can override individual fields.
	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("crawl.allowed_prefixes", defaults.Crawl.AllowedPrefixes)
	v.SetDefault("crawl.excluded_suffixes", defaults.Crawl.ExcludedSuffixes)
	v.SetDefault("crawl.max_links", defaults.Crawl.MaxLinks)
	v.SetDefault("crawl.timeout_seconds", defaults.Crawl.TimeoutSeconds)
	v.SetDefault("crawl.concurrency", defaults.Crawl.Concurrency)
	v.SetDefault("crawl.user_agent", defaults.Crawl.UserAgent)
	v.SetDefault("crawl.max_body_bytes", defaults.Crawl.MaxBodyBytes)
	v.SetDefault("tasks.retention_hours", defaults.Tasks.RetentionHours)
	v.SetDefault("tasks.workers", defaults.Tasks.Workers)
	v.SetDefault("tasks.queue_size", defaults.Tasks.QueueSize)
	v.SetDefault("tasks.sweep_minutes", defaults.Tasks.SweepMinutes)
	v.SetDefault("store.backend", defaults.Store.Backend)
	v.SetDefault("defra.container_name", defaults.Defra.ContainerName)
	v.SetDefault("defra.image", defaults.Defra.Image)
	v.SetDefault("defra.port", defaults.Defra.Port)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.epubify")
	}

	// The config file is optional.
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFile returns the path of the loaded config file, or "" if none was found.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration. Invalid edits are
// ignored and the previous config stays active.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# epubify configuration
# Every key can be overridden from the environment, e.g. EPUBIFY_SERVER_PORT=9090
# crawl and tasks.retention_hours changes apply to conversions started after the edit

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
