// Package imagestore holds uploaded screenshots between the upload request
// and the generation that reads them back.
package imagestore

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var ErrNotFound = errors.New("image not found")

type ImageStore interface {
	// Save stores r under a new key derived from prefix and returns the key.
	// size may be -1 when unknown.
	Save(ctx context.Context, prefix, mimeType string, r io.Reader, size int64) (storageKey string, err error)
	Get(ctx context.Context, storageKey string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, storageKey string) error
}

// KeyExt returns the file extension used for keys holding mimeType images.
func KeyExt(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

// MIMEFromKey is the inverse of KeyExt.
func MIMEFromKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
