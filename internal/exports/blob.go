package exports

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/hms-platform/pkg/logging"
)

// BlobStore holds generated export and report files.
type BlobStore interface {
	// Put stores body under key and returns a link the recipient can follow.
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// S3API is the subset of the S3 client used by S3BlobStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Presigner mints time-limited download links; s3.PresignClient implements it.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3BlobStore writes encrypted objects to a private bucket.
type S3BlobStore struct {
	client    S3API
	presigner Presigner
	bucket    string
	linkTTL   time.Duration
	logger    *logging.Logger
}

func NewS3BlobStore(client S3API, presigner Presigner, bucket string, logger *logging.Logger) *S3BlobStore {
	if client == nil {
		panic("exports: s3 client cannot be nil")
	}
	if bucket == "" {
		panic("exports: bucket cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &S3BlobStore{client: client, presigner: presigner, bucket: bucket, linkTTL: 72 * time.Hour, logger: logger}
}

func (s *S3BlobStore) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String(contentType),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("exports: s3 put %s: %w", key, err)
	}
	s.logger.Info("stored object in S3", "bucket", s.bucket, "key", key, "bytes", len(body))

	location := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	if s.presigner == nil {
		return location, nil
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.linkTTL))
	if err != nil {
		s.logger.Warn("presign failed, returning object location", "key", key, "error", err)
		return location, nil
	}
	return req.URL, nil
}

// MemoryBlobStore keeps objects in memory for local runs and tests.
type MemoryBlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{objects: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Put(_ context.Context, key, _ string, body []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), body...)
	return "memory://" + key, nil
}

// Object returns a stored body.
func (m *MemoryBlobStore) Object(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[key]
	return b, ok
}
