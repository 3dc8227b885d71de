package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jackzampolin/epubify/internal/config"
	"github.com/jackzampolin/epubify/internal/defra"
	"github.com/jackzampolin/epubify/internal/home"
)

// getHome returns the home directory manager.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	return h, nil
}

// loadConfig builds the config manager. --config wins, then the home
// directory's config.yaml, then viper's search path.
func loadConfig(h *home.Dir) (*config.Manager, error) {
	path := cfgFile
	if path == "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	return config.NewManager(path)
}

// newLogger builds the slog logger described by the logging section.
func newLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	level := cfg.Level
	if logLevel != "" {
		level = logLevel
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// storeConfig maps the defra section onto the task store container. An
// empty container_name derives one from the home directory.
func storeConfig(h *home.Dir, cfg *config.Config) defra.ContainerConfig {
	return defra.ContainerConfig{
		Name:     cfg.Defra.ContainerName,
		Image:    cfg.Defra.Image,
		HostPort: cfg.Defra.Port,
		DataPath: h.DefraPath(),
	}
}

// openStore loads the configuration and connects to the task store
// container for this home.
func openStore() (*defra.Container, *config.Config, error) {
	h, err := getHome()
	if err != nil {
		return nil, nil, err
	}
	cfgMgr, err := loadConfig(h)
	if err != nil {
		return nil, nil, err
	}
	cfg := cfgMgr.Get()
	store, err := defra.NewContainer(storeConfig(h, cfg))
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}
