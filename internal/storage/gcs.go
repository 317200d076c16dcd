// Google Cloud Storage blob store backend.
//
// References take the form "gs://<bucket>/<key>". Writes use an
// if-not-exists precondition so an at-least-once redelivery that re-renders
// an output cannot clobber the artifact a previous delivery already stored.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSStore persists blobs as objects in a single GCS bucket.
type GCSStore struct {
	client *gcs.Client
	bucket string
}

// NewGCSStore dials GCS with ambient credentials and binds to bucket.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("storage: GCS bucket must not be empty")
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Put writes data to the object named key unless it already exists. A
// precondition failure means an earlier delivery of the same event won the
// write; that is success from the pipeline's point of view.
func (s *GCSStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	obj := s.client.Bucket(s.bucket).Object(key)
	w := obj.If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage: gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		// Precondition failures surface on Close: an earlier delivery of the
		// same event already stored this object.
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 412 {
			return s.ref(key), nil
		}
		return "", fmt.Errorf("storage: gcs finalize %s: %w", key, err)
	}
	return s.ref(key), nil
}

// Get reads the object behind a reference previously returned by Put.
func (s *GCSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	key, ok := strings.CutPrefix(ref, s.ref(""))
	if !ok {
		return nil, ErrNotFound
	}
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ReadAllAndClose(r)
}

// Close releases the underlying client.
func (s *GCSStore) Close() error { return s.client.Close() }

func (s *GCSStore) ref(key string) string {
	return "gs://" + s.bucket + "/" + key
}
