// Package storage defines the Storage interface implemented by the object storage
// backends that receive archived dotenv exports.
//
// Backends register themselves with the factory from an init() function in their
// own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// cmd/server imports each backend with a blank import to trigger init().
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Storage defines the interface for all storage backends
type Storage interface {
	// Upload stores an object and returns its path, size and checksum
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download retrieves an object
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes an object; deleting a missing object is not an error
	Delete(ctx context.Context, path string) error

	// Exists reports whether an object exists at path
	Exists(ctx context.Context, path string) (bool, error)
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	Path string
	Size int64
	// Checksum is the hex SHA256 of the object contents
	Checksum string
}

// Checksum returns the hex SHA256 of data
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
