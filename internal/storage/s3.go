package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// Multipart upload thresholds
const (
	// Data.db of a full-size generation is well past this (100MB)
	multipartThreshold   = 100 * 1024 * 1024
	multipartPartSize    = 16 * 1024 * 1024
	multipartConcurrency = 5
)

// S3Backend mirrors finished generations into an S3 or MinIO bucket
type S3Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	region   string
	logger   zerolog.Logger
}

// S3Config holds S3 backend configuration
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // Custom endpoint for MinIO (e.g., "http://localhost:9000")
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool // Use path-style addressing (required for MinIO)
}

// NewS3Backend creates a new S3/MinIO backend
func NewS3Backend(ctx context.Context, cfg *S3Config, logger zerolog.Logger) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	log := logger.With().Str("component", "s3-storage").Logger()

	var opts []func(*config.LoadOptions) error

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts = append(opts, config.WithRegion(region))

	accessKey := cfg.AccessKey
	secretKey := cfg.SecretKey
	if accessKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
	}
	if secretKey == "" {
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}

	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
		log.Info().Msg("Using static credentials for S3")
	} else {
		log.Info().Msg("Using default credential chain for S3 (environment, IAM role, etc.)")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			if cfg.UseSSL {
				endpoint = "https://" + endpoint
			} else {
				endpoint = "http://" + endpoint
			}
		}
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
		log.Info().Str("endpoint", endpoint).Msg("Using custom S3 endpoint")
	}
	if cfg.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = multipartPartSize
		u.Concurrency = multipartConcurrency
	})

	backend := &S3Backend{
		client:   client,
		uploader: uploader,
		bucket:   cfg.Bucket,
		region:   region,
		logger:   log,
	}

	headCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := client.HeadBucket(headCtx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		log.Warn().Err(err).Str("bucket", cfg.Bucket).Msg("Could not verify bucket exists (may need to create it)")
	} else {
		log.Info().Str("bucket", cfg.Bucket).Msg("Successfully connected to S3 bucket")
	}

	return backend, nil
}

// Write writes data to S3
func (b *S3Backend) Write(ctx context.Context, path string, data []byte) error {
	return b.WriteReader(ctx, path, bytes.NewReader(data), int64(len(data)))
}

// WriteReader writes data from a reader to S3.
// Unknown or large sizes go through the multipart uploader.
func (b *S3Backend) WriteReader(ctx context.Context, path string, reader io.Reader, size int64) error {
	start := time.Now()
	contentType := contentTypeFor(path)

	if size <= 0 || size >= multipartThreshold {
		_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(b.bucket),
			Key:         aws.String(path),
			Body:        reader,
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return fmt.Errorf("failed multipart upload to S3: %w", err)
		}
		b.logger.Info().
			Str("path", path).
			Int64("size", size).
			Dur("duration", time.Since(start)).
			Bool("multipart", true).
			Msg("Uploaded to S3")
		return nil
	}

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(path),
		Body:          reader,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to write to S3: %w", err)
	}

	b.logger.Debug().
		Str("path", path).
		Int64("size", size).
		Str("bucket", b.bucket).
		Dur("duration", time.Since(start)).
		Msg("Wrote to S3")

	return nil
}

// Read reads data from S3
func (b *S3Backend) Read(ctx context.Context, path string) ([]byte, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}
	return data, nil
}

// List lists objects with the given prefix
func (b *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	var objects []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				objects = append(objects, *obj.Key)
			}
		}
	}
	return objects, nil
}

// Delete deletes an object from S3
func (b *S3Backend) Delete(ctx context.Context, path string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	b.logger.Debug().Str("path", path).Msg("Deleted from S3")
	return nil
}

// Exists checks if an object exists in S3
func (b *S3Backend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) || isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check S3 object existence: %w", err)
	}
	return true, nil
}

// isNotFoundError catches MinIO and proxy responses that do not map to a typed error
func isNotFoundError(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "NoSuchKey") ||
		strings.Contains(errStr, "404")
}

// Close closes the S3 backend (no-op for S3)
func (b *S3Backend) Close() error {
	return nil
}

// Bucket returns the bucket name
func (b *S3Backend) Bucket() string {
	return b.bucket
}

// Type returns the storage type identifier
func (b *S3Backend) Type() string {
	return "s3"
}

func contentTypeFor(name string) string {
	switch path.Ext(name) {
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".json":
		return "application/json"
	case ".txt", ".xxh64":
		return "text/plain"
	}
	return "application/octet-stream"
}
