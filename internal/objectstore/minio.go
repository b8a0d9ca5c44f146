package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
)

// MinIO stores objects in a single MinIO bucket.
type MinIO struct {
	client *minio.Client
	bucket string
}

// NewMinIO constructs an adapter for bucket.
func NewMinIO(client *minio.Client, bucket string) *MinIO {
	return &MinIO{client: client, bucket: bucket}
}

func (s *MinIO) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if key == "" {
		return ErrEmptyKey
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	if size >= 0 && info.Size != size {
		_ = s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
		return fmt.Errorf("put object %s: short write (%d of %d bytes)", key, info.Size, size)
	}
	return nil
}

func (s *MinIO) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err == nil || isMinIONotFound(err) {
		return nil
	}
	return fmt.Errorf("remove object %s: %w", key, err)
}

func (s *MinIO) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", s.bucket)
	}
	return nil
}

func isMinIONotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
