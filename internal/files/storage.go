// Package files reads uploaded spreadsheets from object storage and turns
// them into prompt context for the chat model.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectNotFound indicates the file row exists but its bytes are missing
// from the bucket.
var ErrObjectNotFound = errors.New("files: object not found")

// StorageConfig configures the object storage client.
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Storage reads file objects from a MinIO (S3-compatible) bucket.
type Storage struct {
	client   *minio.Client
	bucket   string
	region   string
	initOnce sync.Once
	initErr  error
}

// NewStorage creates a Storage from cfg. The bucket is created lazily on
// first use if it does not exist.
func NewStorage(cfg StorageConfig) (*Storage, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("files: endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, errors.New("files: access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("files: bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("files: init client: %w", err)
	}

	return &Storage{client: client, bucket: bucket, region: region}, nil
}

func (s *Storage) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// Read returns up to limit bytes of the object at key. limit <= 0 reads the
// whole object.
func (s *Storage) Read(ctx context.Context, key string, limit int64) ([]byte, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("files: ensure bucket: %w", err)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("files: get object %q: %w", key, err)
	}
	defer obj.Close()

	var r io.Reader = obj
	if limit > 0 {
		r = io.LimitReader(obj, limit)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == minio.NoSuchKey {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("files: read object %q: %w", key, err)
	}
	return data, nil
}

// Write stores content at key. Used by tests and the upload path.
func (s *Storage) Write(ctx context.Context, key string, content []byte) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("files: ensure bucket: %w", err)
	}
	_, err := s.client.PutObject(ctx, s.bucket, key,
		strings.NewReader(string(content)), int64(len(content)),
		minio.PutObjectOptions{ContentType: "text/csv"})
	if err != nil {
		return fmt.Errorf("files: put object %q: %w", key, err)
	}
	return nil
}
