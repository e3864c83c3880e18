// Package archive stores immutable pool records as JSON objects in
// S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/terminal-bench/mariscope/internal/domain"
	"github.com/terminal-bench/mariscope/internal/models"
	"go.uber.org/zap"
)

const checksumMeta = "Checksum-Sha256"

// Config holds object storage settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
	Region    string
}

// Service archives pools to a bucket.
type Service struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewService creates an archive client. No request is made until the first
// call.
func NewService(cfg Config, logger *zap.Logger) (*Service, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("storage endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &Service{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	s.logger.Info("created archive bucket", zap.String("bucket", s.bucket))
	return nil
}

// ObjectKey is the object name of a pool record.
func ObjectKey(year int, id uuid.UUID) string {
	return fmt.Sprintf("pools/%d/%s.json", year, id.String())
}

// Encode serializes a pool and returns its hex SHA-256 checksum.
func Encode(pool models.Pool) ([]byte, string, error) {
	data, err := json.Marshal(pool)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal pool: %w", err)
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}

// ArchivePool uploads the pool record.
func (s *Service) ArchivePool(ctx context.Context, pool models.Pool) error {
	data, checksum, err := Encode(pool)
	if err != nil {
		return err
	}

	key := ObjectKey(pool.Year, pool.ID)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: map[string]string{checksumMeta: checksum},
	})
	if err != nil {
		return fmt.Errorf("failed to upload pool %s: %w", pool.ID, err)
	}

	s.logger.Debug("pool archived", zap.String("key", key), zap.String("checksum", checksum))
	return nil
}

// LoadPool downloads an archived pool and verifies its checksum. A missing
// object is reported as not found.
func (s *Service) LoadPool(ctx context.Context, year int, id uuid.UUID) (*models.Pool, error) {
	key := ObjectKey(year, id)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, domain.NewNotFoundError("Archived pool not found: %s", id)
		}
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}

	info, err := obj.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}
	return Decode(data, info.UserMetadata[checksumMeta])
}

// Decode parses an archived pool. A non-empty checksum must match.
func Decode(data []byte, checksum string) (*models.Pool, error) {
	if checksum != "" {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != checksum {
			return nil, fmt.Errorf("archived pool checksum mismatch")
		}
	}

	var pool models.Pool
	if err := json.Unmarshal(data, &pool); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pool: %w", err)
	}
	return &pool, nil
}
