package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Defaults for the media pipeline. Sizes are bytes.
const (
	DefaultMaxUploadBytes         = 100 << 20 // 100 MiB hard cap
	DefaultImageCompressThreshold = 1 << 20   // compress images above 1 MiB
	DefaultImageMaxWidth          = 1920
	DefaultImageMaxHeight         = 1080
	DefaultImageQuality           = 80
)

// Config is the per-installation ~/.filo/config.toml, with FILO_* environment
// variables taking precedence over the file.
type Config struct {
	DefaultProfile string  `toml:"default_profile" env:"FILO_PROFILE"`
	User           User    `toml:"user"`
	Remote         Remote  `toml:"remote"`
	Storage        Storage `toml:"storage"`
	Gateway        Gateway `toml:"gateway"`
	Media          Media   `toml:"media"`
}

// User identifies the local user as assigned by the external auth provider.
type User struct {
	ID string `toml:"id" env:"FILO_USER_ID"`
}

// Remote selects the document store backend.
type Remote struct {
	Backend  string `toml:"backend" env:"FILO_REMOTE_BACKEND"` // redis | memory
	RedisURL string `toml:"redis_url" env:"FILO_REDIS_URL"`
}

// Storage selects the object storage backend.
type Storage struct {
	Backend string `toml:"backend" env:"FILO_STORAGE_BACKEND"` // fs | memory
	Root    string `toml:"root" env:"FILO_STORAGE_ROOT"`
}

// Gateway configures the local control surface.
type Gateway struct {
	Listen string `toml:"listen" env:"FILO_GATEWAY_LISTEN"`
}

// Media configures the pipeline thresholds.
type Media struct {
	MaxUploadBytes         int64 `toml:"max_upload_bytes" env:"FILO_MAX_UPLOAD_BYTES"`
	ImageCompressThreshold int64 `toml:"image_compress_threshold"`
	ImageMaxWidth          int   `toml:"image_max_width"`
	ImageMaxHeight         int   `toml:"image_max_height"`
	ImageQuality           int   `toml:"image_quality"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Remote:         Remote{Backend: "redis", RedisURL: "redis://localhost:6379/0"},
		Storage:        Storage{Backend: "fs"},
		Gateway:        Gateway{Listen: "127.0.0.1:8642"},
		Media: Media{
			MaxUploadBytes:         DefaultMaxUploadBytes,
			ImageCompressThreshold: DefaultImageCompressThreshold,
			ImageMaxWidth:          DefaultImageMaxWidth,
			ImageMaxHeight:         DefaultImageMaxHeight,
			ImageQuality:           DefaultImageQuality,
		},
	}
}

// Load reads config from path, fills in defaults for unset fields, and
// applies FILO_* environment overrides. A missing file is not an error:
// defaults plus environment are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if cfg.Media.MaxUploadBytes <= 0 {
		cfg.Media.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Media.ImageQuality <= 0 || cfg.Media.ImageQuality > 100 {
		cfg.Media.ImageQuality = DefaultImageQuality
	}
	return cfg, nil
}

// Save writes config to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
