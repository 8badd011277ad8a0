// Package s3blob backs blobstore.Store with S3 (or an S3-compatible
// endpoint such as MinIO), adapted from the host runtime's
// pkg/s3client.S3Client dual local/remote client down to just the
// remote half — the local half is covered by the sibling localblob
// package instead of a useLocal bool flag, so each store implementation
// stays single-purpose.
package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"

	"github.com/aurora-assistant/ragmemory/internal/xcrypto"
)

// Store persists sealed blobs as S3 objects, one object per key.
type Store struct {
	client     *s3.Client
	bucket     string
	prefix     string
	passphrase string
}

// Config carries the connection details for an S3-compatible endpoint.
type Config struct {
	AccessKey  string
	SecretKey  string
	Region     string
	Bucket     string
	Endpoint   string // non-empty for MinIO/compatible endpoints
	KeyPrefix  string
	Passphrase string
}

// New builds a Store from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3blob: bucket is required")
	}
	if cfg.Passphrase == "" {
		return nil, errors.New("s3blob: passphrase is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.KeyPrefix, passphrase: cfg.Passphrase}, nil
}

func (s *Store) objectKey(key string) string {
	return s.prefix + key
}

func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	sealed, err := xcrypto.SealWithPassphrase(s.passphrase, data)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(sealed),
	})
	return err
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return nil, nil
		}
		return nil, err
	}
	defer out.Body.Close()
	sealed, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	return xcrypto.OpenWithPassphrase(s.passphrase, sealed)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	return err
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
