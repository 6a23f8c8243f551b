// Package filestore persists uploaded crop images on disk or in object storage.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/RaghavMadan07/Agri/internal/config"
)

// ErrExists is returned when the generated object name is already taken.
var ErrExists = errors.New("filestore: object already exists")

// Store saves one upload and returns the path workers use to find it.
type Store interface {
	Save(ctx context.Context, originalName, contentType string, r io.Reader) (string, error)
}

// New selects the backend named by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "disk":
		return NewDisk(cfg.Dir)
	case "s3":
		return NewS3(ctx, cfg)
	case "gcs":
		return NewGCS(ctx, cfg.Bucket)
	default:
		return nil, fmt.Errorf("filestore: unknown backend %q", cfg.Backend)
	}
}

// extension keeps the client's extension, lowercased, and drops anything
// that could escape a path segment.
func extension(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}
