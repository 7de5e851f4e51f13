package paths

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.filo.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".filo")
}

// ProfileDir returns the profile-specific directory.
func ProfileDir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// MirrorDBPath returns the local mirror database path for a profile.
func MirrorDBPath(name string) string {
	return filepath.Join(ProfileDir(name), "mirror.db")
}

// MediaDir returns the filesystem object-storage root for a profile.
func MediaDir(name string) string {
	return filepath.Join(ProfileDir(name), "media")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(ProfileDir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "filod.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDirs creates the profile directory tree with owner-only permissions.
func EnsureDirs(name string) error {
	dirs := []string{
		ProfileDir(name),
		MediaDir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
