// Package archival implements the audit archival exporter (§11): a
// periodic sweep that batches old, filled orders into a newline-delimited
// JSON object and uploads it to an S3-compatible bucket, then marks the
// batch archived so it is never re-exported.
package archival

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store wraps an S3-compatible client (AWS S3, Cloudflare R2, etc.) behind
// the narrow Put/List surface the exporter needs.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// StoreConfig carries the endpoint and credential material for an
// S3-compatible object store. Endpoint is optional; leave empty for AWS S3
// itself, or set it for a compatible provider such as R2 or MinIO.
type StoreConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewStore builds a Store from static credentials, matching this lineage's
// own R2-backup client construction style.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("archival: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
	}, nil
}

// Put uploads body under key, using the multipart-capable manager.Uploader
// so batch sizes that exceed a single PutObject are handled transparently.
func (s *Store) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("archival: upload %s: %w", key, err)
	}
	return nil
}

// List returns the keys of every object under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("archival: list %s: %w", prefix, err)
	}
	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key != nil {
			keys = append(keys, *obj.Key)
		}
	}
	return keys, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("archival: delete %s: %w", key, err)
	}
	return nil
}

// objectKey names one export batch, sortable lexically by time.
func objectKey(at time.Time) string {
	return fmt.Sprintf("orders/%s.ndjson", at.UTC().Format("2006-01-02T150405"))
}
