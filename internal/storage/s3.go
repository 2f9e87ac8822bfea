// Package storage uploads capture artifacts and documents to S3-compatible
// object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"memorylane/internal/backend"
	"memorylane/internal/config"
	"memorylane/internal/observability"
)

var ErrInvalidPath = errors.New("invalid object path")

// S3Store is a backend.BlobStore over any S3-compatible service (AWS, R2, MinIO).
type S3Store struct {
	client     *s3.Client
	bucket     string
	publicBase string
}

var _ backend.BlobStore = (*S3Store)(nil)

func NewS3Store(ctx context.Context, cfg config.S3) (*S3Store, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("configure s3 client: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	base := cfg.PublicBaseURL
	if base == "" && cfg.Endpoint != "" {
		base = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return &S3Store{client: client, bucket: cfg.Bucket, publicBase: strings.TrimRight(base, "/")}, nil
}

// UploadBytes stores r at key and returns its public URL. onProgress sees
// bytes handed to the transport, never decreasing.
func (s *S3Store) UploadBytes(ctx context.Context, key string, r io.Reader, size int64, onProgress backend.ProgressFunc) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	body := newProgressReader(r, size, onProgress)
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if ct := contentType(key); ct != "" {
		input.ContentType = aws.String(ct)
	}

	// unsigned payload: the body is streamed once instead of hashed up front
	_, err := s.client.PutObject(ctx, input, s3.WithAPIOptions(v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware))
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	observability.AddUploadBytes(body.sent)
	return s.URL(key), nil
}

// DeleteBytes removes key. Deleting a missing key succeeds.
func (s *S3Store) DeleteBytes(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// URL returns the public URL of key.
func (s *S3Store) URL(key string) string {
	return s.publicBase + "/" + key
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.HasPrefix(key, "../") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, key)
	}
	return nil
}

func contentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".webm":
		return "video/webm"
	case ".mp4":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	}
	return ""
}
