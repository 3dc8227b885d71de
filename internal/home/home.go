package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the epubify home directory.
	DefaultDirName = ".epubify"

	// ArchivesDirName is the subdirectory for packaged EPUB files.
	ArchivesDirName = "archives"

	// DefraDirName is the subdirectory mounted into the DefraDB container.
	DefraDirName = "defradb"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// PidFileName records the PID of a running server.
	PidFileName = "epubify.pid"
)

// Dir represents the epubify home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.epubify).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ArchivesDir returns the directory holding task archives.
func (d *Dir) ArchivesDir() string {
	return filepath.Join(d.path, ArchivesDirName)
}

// DefraPath returns the DefraDB data directory.
func (d *Dir) DefraPath() string {
	return filepath.Join(d.path, DefraDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// PidPath returns the server PID file path.
func (d *Dir) PidPath() string {
	return filepath.Join(d.path, PidFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	// Creating archives also creates the parent
	if err := os.MkdirAll(d.ArchivesDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create archives directory: %w", err)
	}
	if err := os.MkdirAll(d.DefraPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create defradb directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
