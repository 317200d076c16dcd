// Package storage abstracts blob persistence for original documents and
// rendered outputs. Stages address blobs by an opaque reference string that
// is recorded on the request row, so the rest of the system never knows
// which backend holds the bytes.
//
// Two backends exist: the local filesystem store in this file (default, and
// the one exercised by tests) and the Google Cloud Storage store in gcs.go.
package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no blob exists for a reference.
var ErrNotFound = errors.New("blob not found")

// BlobStore persists and retrieves opaque byte blobs.
//
// Put stores data under a caller-chosen key (e.g. "<request-id>/source.pdf")
// and returns the reference to record on the request. Get resolves a
// previously returned reference. Implementations must be safe for
// concurrent use across distinct keys.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// LocalStore keeps blobs as files beneath a root directory. References take
// the form "local://<key>". Keys are sanitized against path traversal.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed and returns the store.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{root: root}, nil
}

// Put writes data to <root>/<key>, creating intermediate directories.
func (s *LocalStore) Put(_ context.Context, key string, data []byte) (string, error) {
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return "local://" + key, nil
}

// Get reads the blob for a reference previously returned by Put.
func (s *LocalStore) Get(_ context.Context, ref string) ([]byte, error) {
	key, ok := strings.CutPrefix(ref, "local://")
	if !ok {
		return nil, ErrNotFound
	}
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

// resolve maps a key to an absolute path under root, rejecting traversal.
func (s *LocalStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", errors.New("storage: invalid blob key")
	}
	return filepath.Join(s.root, clean), nil
}

// ReadAllAndClose drains r fully and closes it, returning the bytes.
// Shared by backends whose readers must be closed to release connections.
func ReadAllAndClose(r io.ReadCloser) ([]byte, error) {
	defer r.Close()
	return io.ReadAll(r)
}
