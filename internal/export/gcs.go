package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// snapshotCacheControl applies to every export; each dump overwrites the object.
const snapshotCacheControl = "no-cache, max-age=0"

// GCSStore writes exports to a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore builds a store for bucket. The caller owns client.
func NewGCSStore(client *storage.Client, bucket string) (*GCSStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Put uploads obj and returns its gs:// URI. The feed metadata is stored as
// custom object metadata so listings show the tag and counts without a download.
func (s *GCSStore) Put(ctx context.Context, obj Object) (string, error) {
	name := strings.TrimPrefix(strings.TrimSpace(obj.Path), "/")
	if name == "" {
		return "", errors.New("object path is required")
	}
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = obj.ContentType
	w.CacheControl = snapshotCacheControl
	w.Metadata = obj.Metadata

	if _, err := io.Copy(w, obj.Body); err != nil {
		// Close aborts the upload.
		_ = w.Close()
		return "", fmt.Errorf("upload gs://%s/%s: %w", s.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finish gs://%s/%s: %w", s.bucket, name, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}
