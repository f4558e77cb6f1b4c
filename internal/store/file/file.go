// Package file stores mailbox snapshots as one file per account in a local
// directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/V3R0N1C4/MailSystem/internal/store"
)

// Backend writes each snapshot to <dir>/<key>. Writes truncate and rewrite
// the file in place, so a crash mid-write can leave a damaged snapshot.
type Backend struct {
	dir string
}

// New returns a Backend rooted at dir, creating the directory if needed.
func New(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Backend{dir: dir}, nil
}

// Dir returns the data directory.
func (b *Backend) Dir() string {
	return b.dir
}

// Read implements store.Backend.
func (b *Backend) Read(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Write implements store.Backend.
func (b *Backend) Write(_ context.Context, key string, data []byte) error {
	if err := os.WriteFile(b.path(key), data, 0o640); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Name implements store.Backend.
func (b *Backend) Name() string {
	return "file"
}

func (b *Backend) path(key string) string {
	return filepath.Join(b.dir, filepath.Base(key))
}
