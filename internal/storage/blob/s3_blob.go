package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/interfaces"
)

// S3BlobStore implements interfaces.BlobStore against AWS S3 or an
// S3-compatible store (MinIO, Cloudflare R2) via a custom endpoint. This is
// the archiver's production backend.
type S3BlobStore struct {
	client *s3.Client
	bucket string
	prefix string
	logger *common.Logger
}

// NewS3BlobStore creates a new S3-backed blob store and verifies the bucket
// exists. Bucket creation is left to out-of-band provisioning; only the
// local file backend creates its container on demand.
func NewS3BlobStore(ctx context.Context, logger *common.Logger, cfg S3Config) (*S3BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 blob store bucket is required")
	}

	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	store := &S3BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		logger.Warn().Str("bucket", cfg.Bucket).Err(err).Msg("HeadBucket failed, bucket may not exist or credentials lack access")
	}

	logger.Debug().Str("bucket", cfg.Bucket).Str("prefix", cfg.Prefix).Msg("S3BlobStore initialized")
	return store, nil
}

func (s *S3BlobStore) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// Get retrieves a blob by key.
func (s *S3BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to get blob %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob body %s: %w", key, err)
	}
	return data, nil
}

// GetReader returns a reader for streaming large blobs.
func (s *S3BlobStore) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to get blob %s: %w", key, err)
	}
	return out.Body, nil
}

// Put stores a blob, overwriting if it already exists.
func (s *S3BlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return s.PutReader(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// PutReader stores a blob from a reader.
func (s *S3BlobStore) PutReader(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.fullKey(key)),
		Body:        r,
		ContentType: aws.String(contentType),
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put blob %s: %w", key, err)
	}
	return nil
}

// Delete removes a blob. No error if not found.
func (s *S3BlobStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

// Exists checks if a blob exists.
func (s *S3BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check blob %s: %w", key, err)
}

// Metadata returns metadata for a blob.
func (s *S3BlobStore) Metadata(ctx context.Context, key string) (*interfaces.BlobMetadata, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to stat blob %s: %w", key, err)
	}

	meta := &interfaces.BlobMetadata{Key: key}
	if out.ContentLength != nil {
		meta.Size = *out.ContentLength
	}
	if out.ContentType != nil {
		meta.ContentType = *out.ContentType
	}
	if out.LastModified != nil {
		meta.LastModified = *out.LastModified
	}
	if out.ETag != nil {
		meta.ETag = strings.Trim(*out.ETag, `"`)
	}
	return meta, nil
}

// List returns blobs matching the given options.
func (s *S3BlobStore) List(ctx context.Context, opts interfaces.ListOptions) (*interfaces.ListResult, error) {
	maxKeys := int32(opts.MaxKeys)
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.fullKey(opts.Prefix)),
		MaxKeys: aws.Int32(maxKeys),
	}
	if opts.Delimiter != "" {
		input.Delimiter = aws.String(opts.Delimiter)
	}
	if opts.Cursor != "" {
		input.ContinuationToken = aws.String(opts.Cursor)
	}

	out, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}

	blobs := make([]interfaces.BlobMetadata, 0, len(out.Contents))
	for _, obj := range out.Contents {
		bm := interfaces.BlobMetadata{}
		if obj.Key != nil {
			bm.Key = strings.TrimPrefix(*obj.Key, s.prefix+"/")
		}
		if obj.Size != nil {
			bm.Size = *obj.Size
		}
		if obj.LastModified != nil {
			bm.LastModified = *obj.LastModified
		}
		blobs = append(blobs, bm)
	}

	result := &interfaces.ListResult{Blobs: blobs, Truncated: aws.ToBool(out.IsTruncated)}
	if out.NextContinuationToken != nil {
		result.NextCursor = *out.NextContinuationToken
	}
	return result, nil
}

// Close releases resources (no-op: the SDK client owns no persistent
// connections that require explicit teardown).
func (s *S3BlobStore) Close() error {
	return nil
}

// isNotFound reports whether err is S3's NoSuchKey/NotFound signal.
func isNotFound(err error) bool {
	var nf *s3types.NoSuchKey
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}
