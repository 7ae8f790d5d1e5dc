// Package storage persists generated artifacts and issues time-limited download URLs.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrObjectNotFound is returned when a key has no stored object.
var ErrObjectNotFound = errors.New("storage: object not found")

// ErrInvalidKey rejects keys that are empty or escape the storage root.
var ErrInvalidKey = errors.New("storage: invalid key")

// Storage is the object store capability used by exports.
type Storage interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// SignRequest describes a download URL to issue. Resource is the application path used
// by signers that route downloads through the service itself.
type SignRequest struct {
	Key      string
	Resource string
	TTL      time.Duration
}

// Signer issues time-limited download URLs.
type Signer interface {
	SignedURL(ctx context.Context, req SignRequest) (string, error)
}

// CleanKey normalises a slash separated key and rejects traversal.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)
	if cleaned == "/" || strings.Contains(key, "..") {
		return "", ErrInvalidKey
	}
	return strings.TrimPrefix(cleaned, "/"), nil
}
