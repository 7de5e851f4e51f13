// Package fsblob is a filesystem-backed object storage for local and dev
// deployments. Objects land under a root directory mirroring the remote
// storage path layout; metadata sits next to each object as a JSON sidecar.
package fsblob

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lmoretti/filo/internal/remote"
)

// Storage implements remote.ObjectStorage on the local filesystem.
type Storage struct {
	root string
}

// New creates the storage rooted at dir.
func New(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Storage{root: dir}, nil
}

// Upload writes data at path under the root and returns a file:// reference.
func (s *Storage) Upload(_ context.Context, path string, data []byte, meta remote.UploadMetadata) (string, error) {
	full := filepath.Join(s.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0700); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0600); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}

	sidecar, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(full+".meta.json", sidecar, 0600); err != nil {
		return "", fmt.Errorf("write metadata: %w", err)
	}

	return "file://" + full, nil
}
