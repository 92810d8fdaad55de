package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// MinioStorage keeps evidence files in a single bucket.
type MinioStorage struct {
	client     *minio.Client
	bucketName string
}

// NewMinioStorage connects and creates the bucket if it does not exist yet.
func NewMinioStorage(ctx context.Context, cfg MinioConfig, log *zap.Logger) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		if log != nil {
			log.Info("created evidence bucket", zap.String("bucket", cfg.Bucket))
		}
	}

	return &MinioStorage{client: client, bucketName: cfg.Bucket}, nil
}

func (s *MinioStorage) Upload(ctx context.Context, name string, data io.Reader, size int64, contentType string) (string, error) {
	info, err := s.client.PutObject(ctx, s.bucketName, name, data, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", s.bucketName, info.Key), nil
}
