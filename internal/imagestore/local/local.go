package local

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/vbonduro/docustitch/internal/imagestore"
)

// Store keeps screenshots as files under a single directory.
type Store struct {
	basePath string
}

func New(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

func (s *Store) Save(ctx context.Context, prefix, mimeType string, r io.Reader, _ int64) (string, error) {
	key := prefix + "_" + uuid.NewString() + imagestore.KeyExt(mimeType)
	filePath := filepath.Join(s.basePath, key)

	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if rerr := os.Remove(filePath); rerr != nil {
			slog.Error("failed to remove partial image", "key", key, "error", rerr)
		}
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	return key, nil
}

func (s *Store) Get(ctx context.Context, storageKey string) (io.ReadCloser, string, error) {
	filePath, err := s.resolve(storageKey)
	if err != nil {
		return nil, "", err
	}

	f, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return nil, "", imagestore.ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to open image: %w", err)
	}
	return f, imagestore.MIMEFromKey(storageKey), nil
}

func (s *Store) Delete(ctx context.Context, storageKey string) error {
	filePath, err := s.resolve(storageKey)
	if err != nil {
		return err
	}

	err = os.Remove(filePath)
	if os.IsNotExist(err) {
		return imagestore.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

// resolve maps storageKey to a path inside basePath, rejecting keys that
// would escape it.
func (s *Store) resolve(storageKey string) (string, error) {
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(absBase, storageKey))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("storage key %q escapes image directory", storageKey)
	}
	return absPath, nil
}
