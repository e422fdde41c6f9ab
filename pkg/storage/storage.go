// Package storage keeps uploaded source files in an S3-compatible bucket or,
// for local development, on disk.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid object key")
)

// ObjectStore stores uploaded files by key.
type ObjectStore interface {
	// Put stores the object and returns its public URL.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object. A missing object is not an error.
	Delete(ctx context.Context, key string) error
	Name() string
}

// UploadKey is the object key of a project's source file.
func UploadKey(projectID uuid.UUID, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return "uploads/" + projectID.String() + "/" + name
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.HasPrefix(key, "..") {
		return ErrInvalidKey
	}
	return nil
}
