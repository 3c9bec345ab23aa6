// Package photos stores profile photos in S3-compatible object storage.
package photos

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds object storage configuration. An empty Endpoint means the
// photo feature is absent, which is not an error.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// BaseURL is the public prefix stored into photo_url. Defaults to the
	// endpoint itself.
	BaseURL string
}

// Service uploads profile photos. A nil Service is a valid disabled service.
type Service struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// New connects to the object store and ensures the bucket exists. Returns
// (nil, nil) when no endpoint is configured.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return &Service{client: client, bucket: cfg.Bucket, baseURL: baseURL}, nil
}

// Configured reports whether photo uploads are available.
func (s *Service) Configured() bool {
	return s != nil
}

// Upload stores one photo per principal, overwriting the previous one, and
// returns the public URL for the profile's photo_url field.
func (s *Service) Upload(ctx context.Context, principalID string, body io.Reader, size int64, contentType string) (string, error) {
	if !s.Configured() {
		return "", fmt.Errorf("photo storage not configured")
	}

	ext := ".jpg"
	switch contentType {
	case "image/png":
		ext = ".png"
	case "image/webp":
		ext = ".webp"
	}
	objectName := principalID + ext

	_, err := s.client.PutObject(ctx, s.bucket, objectName, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put photo: %w", err)
	}

	return s.baseURL + "/" + objectName, nil
}
