// Package storage mirrors exported files to S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Mirror uploads a local file under an object key.
type Mirror interface {
	Upload(ctx context.Context, localPath, key string) error
}

// Config describes the mirror target.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// MinioMirror uploads through a minio client.
type MinioMirror struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinio creates a mirror. It does not contact the server.
func NewMinio(cfg Config) (*MinioMirror, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("mirror needs an endpoint and a bucket")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioMirror{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (m *MinioMirror) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	return nil
}

// Upload stores localPath at prefix/key.
func (m *MinioMirror) Upload(ctx context.Context, localPath, key string) error {
	object := ObjectKey(m.prefix, key)
	_, err := m.client.FPutObject(ctx, m.bucket, object, localPath, minio.PutObjectOptions{
		ContentType: ContentType(localPath),
	})
	if err != nil {
		return fmt.Errorf("upload %s to %s/%s: %w", filepath.Base(localPath), m.bucket, object, err)
	}
	return nil
}

// ObjectKey joins prefix and a slash-separated relative key.
func ObjectKey(prefix, key string) string {
	key = filepath.ToSlash(key)
	prefix = strings.Trim(filepath.ToSlash(prefix), "/")
	if prefix == "" {
		return strings.TrimLeft(path.Clean("/"+key), "/")
	}
	return strings.TrimLeft(path.Join(prefix, path.Clean("/"+key)), "/")
}

// ContentType guesses the MIME type of an exported file.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".tif", ".tiff":
		return "image/tiff"
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/x-ndjson"
	case ".csv":
		return "text/csv"
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
