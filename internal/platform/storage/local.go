package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Local stores objects below a directory on the local filesystem.
type Local struct {
	root string
}

// NewLocal prepares root and returns a Local store.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("storage: local root required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) resolve(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(cleaned)), nil
}

// Put writes body to key, replacing any existing object atomically.
func (l *Local) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	target, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("storage: temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("storage: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}

// Open returns a reader for key.
func (l *Local) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	target, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	return f, nil
}

// Exists reports whether key holds an object.
func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	target, err := l.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: stat: %w", err)
	}
	return true, nil
}

// Delete removes key; deleting a missing object is not an error.
func (l *Local) Delete(ctx context.Context, key string) error {
	target, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete: %w", err)
	}
	return nil
}
