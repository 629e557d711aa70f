package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// R2Options configures the Cloudflare R2 bucket.
type R2Options struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string
}

// R2Store writes objects to an S3-compatible R2 bucket.
type R2Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

func NewR2Store(opts R2Options) (*R2Store, error) {
	if opts.AccountID == "" || opts.AccessKeyID == "" || opts.SecretAccessKey == "" || opts.Bucket == "" {
		return nil, errors.New("storage: r2 account, credentials and bucket are required")
	}
	client, err := minio.New(opts.AccountID+".r2.cloudflarestorage.com", &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: true,
		Region: "auto",
	})
	if err != nil {
		return nil, fmt.Errorf("storage: r2 client: %w", err)
	}
	return &R2Store{client: client, bucket: opts.Bucket, publicURL: strings.TrimRight(opts.PublicURL, "/")}, nil
}

// Put uploads data and returns the public object URL.
func (s *R2Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, s.bucket, cleanKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("storage: r2 put %s: %w", cleanKey, err)
	}
	return PublicObjectURL(s.publicURL, cleanKey), nil
}

// PublicObjectURL joins the bucket's public base and the key.
func PublicObjectURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
