package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-fable")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-fable" {
			t.Errorf("expected path /tmp/test-fable, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-fable")

	t.Run("DataPath", func(t *testing.T) {
		expected := "/tmp/test-fable/data"
		if dir.DataPath() != expected {
			t.Errorf("expected %s, got %s", expected, dir.DataPath())
		}
	})

	t.Run("ConfigPath", func(t *testing.T) {
		expected := "/tmp/test-fable/config.yaml"
		if dir.ConfigPath() != expected {
			t.Errorf("expected %s, got %s", expected, dir.ConfigPath())
		}
	})

	t.Run("CoverPath", func(t *testing.T) {
		expected := "/tmp/test-fable/covers/story-123.png"
		if dir.CoverPath("story-123") != expected {
			t.Errorf("expected %s, got %s", expected, dir.CoverPath("story-123"))
		}
	})

	t.Run("ExportPath", func(t *testing.T) {
		expected := "/tmp/test-fable/exports/story-123.epub"
		if dir.ExportPath("story-123", "epub") != expected {
			t.Errorf("expected %s, got %s", expected, dir.ExportPath("story-123", "epub"))
		}
	})

	t.Run("PidfilePath", func(t *testing.T) {
		expected := "/tmp/test-fable/fable.pid"
		if dir.PidfilePath() != expected {
			t.Errorf("expected %s, got %s", expected, dir.PidfilePath())
		}
	})
}

func TestDir_EnsureExists(t *testing.T) {
	// Use a temp directory
	tmpDir := t.TempDir()
	fableDir := filepath.Join(tmpDir, "fable-test")

	dir, err := New(fableDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Directory shouldn't exist yet
	if dir.Exists() {
		t.Error("directory should not exist before EnsureExists")
	}

	// Create it
	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists failed: %v", err)
	}

	// Now it should exist
	if !dir.Exists() {
		t.Error("directory should exist after EnsureExists")
	}

	// Data directory should also exist
	if _, err := os.Stat(dir.DataPath()); os.IsNotExist(err) {
		t.Error("data directory should exist after EnsureExists")
	}

	// EnsureExists should be idempotent
	if err := dir.EnsureExists(); err != nil {
		t.Errorf("EnsureExists second call failed: %v", err)
	}
}

func TestDir_EnsureSubdirs(t *testing.T) {
	tmpDir := t.TempDir()
	dir, _ := New(tmpDir)

	if err := dir.EnsureCoversDir(); err != nil {
		t.Fatalf("EnsureCoversDir failed: %v", err)
	}
	if _, err := os.Stat(dir.CoversDir()); os.IsNotExist(err) {
		t.Error("covers directory should exist")
	}

	if err := dir.EnsureExportsDir(); err != nil {
		t.Fatalf("EnsureExportsDir failed: %v", err)
	}
	if _, err := os.Stat(dir.ExportsDir()); os.IsNotExist(err) {
		t.Error("exports directory should exist")
	}
}

func TestDir_ConfigExists(t *testing.T) {
	tmpDir := t.TempDir()
	dir, _ := New(tmpDir)

	if dir.ConfigExists() {
		t.Error("config should not exist yet")
	}

	if err := os.WriteFile(dir.ConfigPath(), []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if !dir.ConfigExists() {
		t.Error("config should exist after write")
	}
}
