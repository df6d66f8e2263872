package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"time"

	"github.com/configvault/configvault/internal/storage"
)

// Archiver keeps a copy of every dotenv export
type Archiver interface {
	Archive(ctx context.Context, userID, environment string, document []byte) (string, error)
}

// StorageArchiver writes exports to a storage backend under
// <prefix>/<user id>/<environment>/<timestamp>.env
type StorageArchiver struct {
	backend storage.Storage
	prefix  string
	now     func() time.Time
}

// NewStorageArchiver creates a StorageArchiver
func NewStorageArchiver(backend storage.Storage, prefix string) *StorageArchiver {
	return &StorageArchiver{backend: backend, prefix: prefix, now: time.Now}
}

// Archive uploads document and returns the object path
func (a *StorageArchiver) Archive(ctx context.Context, userID, environment string, document []byte) (string, error) {
	objectPath := path.Join(
		a.prefix,
		pathSegment(userID),
		pathSegment(environment),
		a.now().UTC().Format("20060102T150405.000000000Z")+".env",
	)

	result, err := a.backend.Upload(ctx, objectPath, bytes.NewReader(document), int64(len(document)))
	if err != nil {
		return "", fmt.Errorf("failed to archive export: %w", err)
	}
	slog.Debug("archived dotenv export", "path", result.Path, "size", result.Size, "sha256", result.Checksum)
	return result.Path, nil
}

// pathSegment escapes s so it stays a single, non-relative path element
func pathSegment(s string) string {
	s = url.PathEscape(s)
	if s == "" || s == "." || s == ".." {
		return "_" + s
	}
	return s
}
