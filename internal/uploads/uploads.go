// Package uploads persists large binary tool content to disk so text-only
// consumers receive a file path instead of a base64 blob.
package uploads

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"toolgate/pkg/logging"

	"github.com/google/uuid"
)

// DirEnv names the environment variable selecting the upload directory.
// When unset, binary content stays inline as a marker.
const DirEnv = "UPLOADS_DIR"

// Store writes binary payloads into a flat directory. A zero directory
// disables the store.
type Store struct {
	dir string
}

// New creates a store rooted at dir. Empty dir yields a disabled store.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// FromEnv creates a store from UPLOADS_DIR.
func FromEnv() *Store {
	return New(os.Getenv(DirEnv))
}

// Enabled reports whether payloads will be persisted.
func (s *Store) Enabled() bool {
	return s != nil && s.dir != ""
}

// SaveBase64 decodes a base64 payload and writes it under a fresh name.
// The file extension is derived from the MIME subtype.
func (s *Store) SaveBase64(data, mimeType string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("uploads disabled")
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("invalid base64 payload: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create upload dir: %w", err)
	}

	path := filepath.Join(s.dir, uuid.NewString()+extensionFor(mimeType))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("cannot write upload: %w", err)
	}

	logging.Debug("Uploads", "Persisted %d bytes of %s to %s", len(raw), mimeType, path)
	return path, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
