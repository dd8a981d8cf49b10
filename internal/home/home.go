package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the fable home directory.
	DefaultDirName = ".fable"

	// DataDirName is the subdirectory for DefraDB data.
	DataDirName = "data"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// CoversDirName is the subdirectory for generated cover images.
	CoversDirName = "covers"

	// ExportsDirName is the subdirectory for exported books.
	ExportsDirName = "exports"
)

// Dir represents the fable home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.fable).
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

// DataPath returns the path to the DefraDB data directory.
func (d *Dir) DataPath() string {
	return filepath.Join(d.path, DataDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	// Create data directory (this also creates the parent)
	if err := os.MkdirAll(d.DataPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
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

// CoversDir returns the directory for generated cover images.
func (d *Dir) CoversDir() string {
	return filepath.Join(d.path, CoversDirName)
}

// CoverPath returns the path to a story's cover image.
func (d *Dir) CoverPath(storyID string) string {
	return filepath.Join(d.CoversDir(), fmt.Sprintf("%s.png", storyID))
}

// EnsureCoversDir creates the covers directory.
func (d *Dir) EnsureCoversDir() error {
	return os.MkdirAll(d.CoversDir(), 0o755)
}

// ExportsDir returns the directory for exported files (epub, etc.).
func (d *Dir) ExportsDir() string {
	return filepath.Join(d.path, ExportsDirName)
}

// ExportPath returns the path for an exported book file.
func (d *Dir) ExportPath(storyID, format string) string {
	return filepath.Join(d.ExportsDir(), fmt.Sprintf("%s.%s", storyID, format))
}

// EnsureExportsDir creates the exports directory.
func (d *Dir) EnsureExportsDir() error {
	return os.MkdirAll(d.ExportsDir(), 0o755)
}

// PidfilePath returns the path to the daemon pidfile.
func (d *Dir) PidfilePath() string {
	return filepath.Join(d.path, "fable.pid")
}
