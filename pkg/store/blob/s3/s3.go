// Package s3 implements blob storage on Amazon S3 or S3-compatible services.
//
// Object keys:
//
//	<key prefix><shard>/<owner>/<zero-padded chunk id>
//
// Each blob is one object written with PutObject. Chunks are bounded by the
// upload protocol, so multipart uploads are not used.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittovault/pkg/store/blob"
)

const backendName = "s3"

// Store is the blob store of one shard inside a bucket.
//
// Thread Safety: the S3 client is safe for concurrent use; the store holds no
// other mutable state.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	metrics   blob.Metrics
}

// Config contains configuration for an S3 blob store.
type Config struct {
	// Client is the configured S3 client.
	Client *s3.Client

	// Bucket is the bucket name. The bucket must already exist.
	Bucket string

	// KeyPrefix is prepended to every object key, e.g. "vault/shard-1/".
	KeyPrefix string

	// Metrics is optional.
	Metrics blob.Metrics
}

// New creates an S3 blob store and verifies bucket access.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &Store{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		metrics:   blob.MetricsOrNoop(cfg.Metrics),
	}, nil
}

// Factory maps each shard to "<keyPrefix><shard>/" inside one bucket.
func Factory(client *s3.Client, bucket, keyPrefix string, metrics blob.Metrics) blob.Factory {
	return func(ctx context.Context, shard string) (blob.Store, error) {
		if shard == "" || strings.Contains(shard, "/") {
			return nil, fmt.Errorf("invalid shard name %q", shard)
		}
		return New(ctx, Config{
			Client:    client,
			Bucket:    bucket,
			KeyPrefix: keyPrefix + shard + "/",
			Metrics:   metrics,
		})
	}
}

func (s *Store) objectKey(key blob.Key) string {
	return s.keyPrefix + key.String()
}

func (s *Store) Put(ctx context.Context, key blob.Key, data []byte) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	defer func() { s.metrics.ObserveOperation(backendName, "PutObject", time.Since(start), err) }()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to write blob to S3: %w", err)
	}

	s.metrics.RecordBytes(backendName, "write", len(data))
	return nil
}

func (s *Store) Get(ctx context.Context, key blob.Key) (data []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { s.metrics.ObserveOperation(backendName, "GetObject", time.Since(start), err) }()

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, blob.ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to read blob from S3: %w", err)
	}
	defer func() { _ = result.Body.Close() }()

	data, err = io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob body: %w", err)
	}

	s.metrics.RecordBytes(backendName, "read", len(data))
	return data, nil
}

func (s *Store) Delete(ctx context.Context, key blob.Key) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	defer func() { s.metrics.ObserveOperation(backendName, "DeleteObject", time.Since(start), err) }()

	// DeleteObject succeeds for missing keys.
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob from S3: %w", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key blob.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	start := time.Now()
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && isNotFound(err) {
		s.metrics.ObserveOperation(backendName, "HeadObject", time.Since(start), nil)
		return false, nil
	}
	s.metrics.ObserveOperation(backendName, "HeadObject", time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("failed to stat blob in S3: %w", err)
	}
	return true, nil
}

func (s *Store) List(ctx context.Context) ([]blob.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := make([]blob.Key, 0)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	})

	for paginator.HasMorePages() {
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		s.metrics.ObserveOperation(backendName, "ListObjectsV2", time.Since(start), err)
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs in S3: %w", err)
		}

		for _, obj := range page.Contents {
			key, err := blob.ParseKey(strings.TrimPrefix(aws.ToString(obj.Key), s.keyPrefix))
			if err != nil {
				continue
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Durable is true: objects live in the bucket.
func (s *Store) Durable() bool {
	return true
}

func (s *Store) Close() error {
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
