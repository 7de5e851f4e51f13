package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.User.ID = "u-42"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.User.ID != "u-42" {
		t.Errorf("User.ID = %q, want %q", loaded.User.ID, "u-42")
	}
}

func TestLoadMissingUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Media.MaxUploadBytes != DefaultMaxUploadBytes {
		t.Errorf("MaxUploadBytes = %d, want %d", cfg.Media.MaxUploadBytes, DefaultMaxUploadBytes)
	}
	if cfg.Gateway.Listen == "" {
		t.Error("Gateway.Listen not defaulted")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("FILO_REMOTE_BACKEND", "memory")
	t.Setenv("FILO_USER_ID", "env-user")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Remote.Backend != "memory" {
		t.Errorf("Remote.Backend = %q, want memory", cfg.Remote.Backend)
	}
	if cfg.User.ID != "env-user" {
		t.Errorf("User.ID = %q, want env-user", cfg.User.ID)
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
