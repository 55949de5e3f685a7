// Package media produces URLs for client-side uploads and reads against the
// external object store. The core never touches raw bytes; it persists only
// the URLs and keys this service hands out.
package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultURLExpiry = 5 * time.Minute

var (
	errMissingBucket    = errors.New("media: bucket is required")
	errMissingPresigner = errors.New("media: presign client is required")
)

// Presigner is the subset of the S3 presign client the service uses.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ServiceConfig configures the media URL service.
type ServiceConfig struct {
	Presigner Presigner
	Bucket    string
	KeyPrefix string
	URLExpiry time.Duration
	Clock     func() time.Time
}

// Service issues presigned upload and read URLs against one bucket.
type Service struct {
	presigner Presigner
	bucket    string
	keyPrefix string
	urlExpiry time.Duration
	now       func() time.Time
}

// NewService constructs the media service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Presigner == nil {
		return nil, errMissingPresigner
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errMissingBucket
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = defaultURLExpiry
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		presigner: cfg.Presigner,
		bucket:    bucket,
		keyPrefix: strings.TrimSpace(cfg.KeyPrefix),
		urlExpiry: expiry,
		now:       clock,
	}, nil
}

// NewPresignClient builds an S3 presign client for the configured region.
func NewPresignClient(ctx context.Context, region string) (*s3.PresignClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("media: load aws config: %w", err)
	}
	return s3.NewPresignClient(s3.NewFromConfig(cfg)), nil
}

// UploadURL returns a presigned PUT URL and the object key the client must
// upload to.
func (s *Service) UploadURL(ctx context.Context, fileName, contentType string) (string, string, error) {
	name := strings.TrimSpace(fileName)
	if name == "" {
		return "", "", fmt.Errorf("media: file name is required")
	}
	key := s.keyPrefix + s.now().UTC().Format("20060102150405") + "-" + name

	request, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(s.urlExpiry))
	if err != nil {
		return "", "", fmt.Errorf("media: presign upload: %w", err)
	}
	return request.URL, key, nil
}

// ReadURL returns a presigned GET URL for a stored object key.
func (s *Service) ReadURL(ctx context.Context, key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", fmt.Errorf("media: object key is required")
	}

	request, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(trimmed),
	}, s3.WithPresignExpires(s.urlExpiry))
	if err != nil {
		return "", fmt.Errorf("media: presign read: %w", err)
	}
	return request.URL, nil
}
