// Package imagestore fetches product image bytes from S3-compatible storage.
package imagestore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Fetcher returns the raw bytes of an image addressed by URL.
type Fetcher interface {
	Fetch(ctx context.Context, imageURL string) ([]byte, error)
}

// Store downloads images from S3.
type Store struct {
	downloader *manager.Downloader
	bucket     string
	logger     *zap.Logger
}

// Config holds S3 connection settings.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional, for S3-compatible stores
	Logger   *zap.Logger
}

// NewStore creates the S3-backed image store.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	s3Options := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Options...)

	return &Store{
		downloader: manager.NewDownloader(client),
		bucket:     cfg.Bucket,
		logger:     cfg.Logger,
	}, nil
}

// Fetch downloads one image. Accepts s3:// URLs, virtual-hosted and
// path-style https URLs, and bare object keys resolved against the
// configured bucket.
func (s *Store) Fetch(ctx context.Context, imageURL string) ([]byte, error) {
	bucket, key, err := s.resolve(imageURL)
	if err != nil {
		return nil, err
	}

	buf := manager.NewWriteAtBuffer(nil)
	_, err = s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	return buf.Bytes(), nil
}

func (s *Store) resolve(imageURL string) (bucket, key string, err error) {
	if !strings.Contains(imageURL, "://") {
		return s.bucket, strings.TrimPrefix(imageURL, "/"), nil
	}

	u, err := url.Parse(imageURL)
	if err != nil {
		return "", "", fmt.Errorf("parse image url %q: %w", imageURL, err)
	}
	path := strings.TrimPrefix(u.Path, "/")

	switch {
	case u.Scheme == "s3":
		return u.Host, path, nil
	case strings.HasPrefix(u.Host, "s3.") || strings.HasPrefix(u.Host, "s3-"):
		// Path-style: https://s3.region.amazonaws.com/bucket/key
		b, k, ok := strings.Cut(path, "/")
		if !ok {
			return "", "", fmt.Errorf("path-style url %q has no object key", imageURL)
		}
		return b, k, nil
	default:
		// Virtual-hosted: https://bucket.s3.region.amazonaws.com/key
		b, _, ok := strings.Cut(u.Host, ".")
		if !ok || path == "" {
			return "", "", fmt.Errorf("cannot resolve bucket from url %q", imageURL)
		}
		return b, path, nil
	}
}
