package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/reelforge/reelforge/pkg/config"
)

// S3Store writes objects to an S3 or S3-compatible bucket.
type S3Store struct {
	bucket   string
	baseURL  string
	uploader *manager.Uploader
	presign  *s3.PresignClient
}

// NewS3Store loads AWS configuration and builds the bucket clients. Static
// credentials from cfg take precedence over the default chain.
func NewS3Store(ctx context.Context, cfg config.S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{
		bucket:   cfg.Bucket,
		baseURL:  objectBaseURL(cfg, awsCfg.Region),
		uploader: manager.NewUploader(client),
		presign:  s3.NewPresignClient(client),
	}, nil
}

func objectBaseURL(cfg config.S3Config, region string) string {
	switch {
	case cfg.PublicBaseURL != "":
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	case cfg.Endpoint != "" && cfg.UsePathStyle:
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	case cfg.Endpoint != "":
		ep := strings.TrimRight(cfg.Endpoint, "/")
		if scheme, host, ok := strings.Cut(ep, "://"); ok {
			return scheme + "://" + cfg.Bucket + "." + host
		}
		return ep + "/" + cfg.Bucket
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, region)
	}
}

// Put uploads body under key.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, contentType string, metadata map[string]string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Body:     body,
		Metadata: metadata,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return s.baseURL + "/" + key, nil
}

// SignURL presigns a GET for objects in the bucket.
func (s *S3Store) SignURL(ctx context.Context, url string, ttl time.Duration) (string, error) {
	if !s.Owns(url) {
		return url, nil
	}
	key := strings.TrimPrefix(url, s.baseURL+"/")
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// Owns reports whether url is an object URL of this bucket.
func (s *S3Store) Owns(url string) bool {
	return strings.HasPrefix(url, s.baseURL+"/")
}
