package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vbonduro/docustitch/internal/imagestore"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if c.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	return nil
}

// Store keeps screenshots as objects in a single S3-compatible bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the endpoint and creates the bucket if it is missing.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	s := &Store{client: client, bucket: cfg.Bucket}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	slog.Info("created image bucket", "bucket", s.bucket)
	return nil
}

func (s *Store) Save(ctx context.Context, prefix, mimeType string, r io.Reader, size int64) (string, error) {
	key := objectKey(prefix, mimeType)
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	return key, nil
}

func (s *Store) Get(ctx context.Context, storageKey string) (io.ReadCloser, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, storageKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("failed to get image: %w", err)
	}
	// GetObject is lazy; Stat issues the request.
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, "", mapError(err, "failed to stat image")
	}

	mimeType := info.ContentType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = imagestore.MIMEFromKey(storageKey)
	}
	return obj, mimeType, nil
}

func (s *Store) Delete(ctx context.Context, storageKey string) error {
	if _, err := s.client.StatObject(ctx, s.bucket, storageKey, minio.StatObjectOptions{}); err != nil {
		return mapError(err, "failed to stat image")
	}
	if err := s.client.RemoveObject(ctx, s.bucket, storageKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

func objectKey(prefix, mimeType string) string {
	return "screenshots/" + prefix + "_" + uuid.NewString() + imagestore.KeyExt(mimeType)
}

func mapError(err error, msg string) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return imagestore.ErrNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}

var _ imagestore.ImageStore = (*Store)(nil)
