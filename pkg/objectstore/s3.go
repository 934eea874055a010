// Package objectstore wraps an S3-compatible client with the PUT +
// idempotent-skip + retry-with-backoff behavior the Storer stage needs.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/pgerber/lo-migrate/internal/logger"
)

// RetryConfig mirrors the teacher's retryConfig shape for S3 operations.
type RetryConfig struct {
	MaxRetries        uint
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns sensible defaults, consistent with the
// bounded-jittered-backoff policy in SPEC_FULL.md §9.
func DefaultRetryConfig(maxRetries uint) RetryConfig {
	return RetryConfig{
		MaxRetries:        maxRetries,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Store uploads blobs to a single S3-compatible bucket at the bucket
// root (no key prefix), tolerating idempotent re-uploads after a crash
// between a prior upload and its commit.
type Store struct {
	client *s3.Client
	bucket string
	retry  RetryConfig
}

// Config configures NewStore.
type Config struct {
	Endpoint       string
	Region         string
	AccessKeyID    string
	SecretAccessKey string
	Bucket         string
	ForcePathStyle bool
	MaxRetries     uint
}

// NewClientFromConfig builds an S3 client for a possibly non-AWS,
// S3-compatible endpoint (Ceph and similar gateways), following the
// teacher's NewS3ClientFromConfig: static credentials, optional custom
// BaseEndpoint, optional forced path-style addressing.
func NewClientFromConfig(
	ctx context.Context,
	endpoint, region, accessKeyID, secretAccessKey string,
	forcePathStyle bool,
) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID,
			secretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
		o.UsePathStyle = forcePathStyle
	})

	return client, nil
}

// NewStore validates connectivity (a HeadBucket call) and returns a ready
// Store. A failure here is a Configuration error per the taxonomy — it
// aborts before any worker starts.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	client, err := NewClientFromConfig(ctx, cfg.Endpoint, cfg.Region, cfg.AccessKeyID, cfg.SecretAccessKey, cfg.ForcePathStyle)
	if err != nil {
		return nil, err
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("bucket %q not reachable: %w", cfg.Bucket, err)
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		retry:  DefaultRetryConfig(cfg.MaxRetries),
	}, nil
}

// Stat reports whether an object exists and, if so, its content length.
func (s *Store) Stat(ctx context.Context, key string) (exists bool, size int64, err error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	contentLen := int64(0)
	if out.ContentLength != nil {
		contentLen = *out.ContentLength
	}
	return true, contentLen, nil
}

// PutIdempotent uploads data under key with the given metadata, unless an
// object already exists at key with identical length — in which case the
// upload is skipped and treated as success, per the idempotency rule in
// SPEC_FULL.md §4.3. Conditional-write preconditions are deliberately not
// used: they are not universally available on S3-compatible backends
// (notably Ceph).
func (s *Store) PutIdempotent(ctx context.Context, key, contentType, legacySha1 string, data []byte) error {
	exists, size, err := s.Stat(ctx, key)
	if err != nil {
		return fmt.Errorf("stat existing object: %w", err)
	}
	if exists && size == int64(len(data)) {
		logger.Debug("object already present, skipping upload", logger.KeyKey, key, logger.KeyBucket, s.bucket)
		return nil
	}

	return s.putWithRetry(ctx, key, contentType, legacySha1, data)
}

// PutIdempotentFile is the OnDisk-payload counterpart of PutIdempotent:
// it uploads from an io.ReadSeeker (a scratch file) of known size,
// rewinding between retry attempts.
func (s *Store) PutIdempotentFile(ctx context.Context, key, contentType, legacySha1 string, body io.ReadSeeker, size int64) error {
	exists, existingSize, err := s.Stat(ctx, key)
	if err != nil {
		return fmt.Errorf("stat existing object: %w", err)
	}
	if exists && existingSize == size {
		logger.Debug("object already present, skipping upload", logger.KeyKey, key, logger.KeyBucket, s.bucket)
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= int(s.retry.MaxRetries); attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(s.retry, attempt-1)
			logger.Debug("retrying S3 upload", logger.KeyAttempt, attempt, logger.KeyMaxRetry, s.retry.MaxRetries, logger.KeyKey, key)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind scratch file for %q: %w", key, err)
		}

		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          body,
			ContentType:   aws.String(contentType),
			ContentLength: aws.Int64(size),
			Metadata: map[string]string{
				"legacy-sha1": legacySha1,
			},
		})
		if err == nil {
			return nil
		}

		lastErr = err
		if !IsTransient(err) {
			return fmt.Errorf("failed to upload object %q: %w", key, err)
		}
		logger.Debug("transient S3 error", logger.KeyAttempt, attempt+1, logger.KeyMaxRetry, s.retry.MaxRetries+1, logger.KeyKey, key, logger.KeyError, lastErr)
	}

	return fmt.Errorf("failed to upload object %q after %d attempts: %w", key, s.retry.MaxRetries+1, lastErr)
}

func (s *Store) putWithRetry(ctx context.Context, key, contentType, legacySha1 string, data []byte) error {
	var lastErr error

	for attempt := 0; attempt <= int(s.retry.MaxRetries); attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(s.retry, attempt-1)
			logger.Debug("retrying S3 upload", logger.KeyAttempt, attempt, logger.KeyMaxRetry, s.retry.MaxRetries, logger.KeyKey, key)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
			Metadata: map[string]string{
				"legacy-sha1": legacySha1,
			},
		})
		if err == nil {
			return nil
		}

		lastErr = err
		if !IsTransient(err) {
			return fmt.Errorf("failed to upload object %q: %w", key, err)
		}
		logger.Debug("transient S3 error", logger.KeyAttempt, attempt+1, logger.KeyMaxRetry, s.retry.MaxRetries+1, logger.KeyKey, key, logger.KeyError, lastErr)
	}

	return fmt.Errorf("failed to upload object %q after %d attempts: %w", key, s.retry.MaxRetries+1, lastErr)
}

// calculateBackoff returns a jittered exponential backoff duration for the
// given (zero-based) retry attempt.
func calculateBackoff(cfg RetryConfig, attempt int) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiplier, float64(attempt))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	jitter := backoff * (0.5 + rand.Float64()*0.5)
	return time.Duration(jitter)
}

// isNotFoundError reports whether err is S3's "no such key/bucket"
// response.
func isNotFoundError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}

// IsTransient classifies an S3 SDK error as retryable: 5xx, throttling,
// and transport-level errors are transient, and so is any error it does
// not recognise. Only the auth and bucket errors listed below (notably
// AccessDenied, which almost always means credentials were revoked
// mid-run) are non-transient; the Storer treats those as pipeline-fatal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InternalError", "ServiceUnavailable", "SlowDown", "RequestTimeout", "Throttling", "ThrottlingException":
			return true
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "NoSuchBucket":
			return false
		}
	}

	// Unknown error shape: treat as transient so a flaky network blip
	// doesn't needlessly drop a descriptor; the bounded retry count still
	// caps the cost.
	return true
}
