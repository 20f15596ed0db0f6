package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vocdoni/anonvote-node/log"
)

// S3Config holds the configuration for S3 uploads
type S3Config struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Public    bool
}

// S3Uploader handles artifact uploads to S3
type S3Uploader struct {
	client *s3.Client
	config *S3Config
}

// NewS3Uploader creates a new S3Uploader with the provided configuration
func NewS3Uploader(ctx context.Context, cfg *S3Config) (*S3Uploader, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("s3 upload not enabled")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	sdkConfig, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}
	client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Uploader{client: client, config: cfg}, nil
}

// objectKey returns the key of the file in the bucket.
func (u *S3Uploader) objectKey(filePath string) string {
	name := filepath.Base(filePath)
	if u.config.Prefix == "" {
		return name
	}
	return u.config.Prefix + "/" + name
}

// UploadFile uploads a file to the configured S3 bucket and returns its
// s3:// location, usable as the verifier.vkey setting of the node.
func (u *S3Uploader) UploadFile(ctx context.Context, filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Warnw("failed to close file", "error", err)
		}
	}()

	input := &s3.PutObjectInput{
		Bucket: aws.String(u.config.Bucket),
		Key:    aws.String(u.objectKey(filePath)),
		Body:   file,
	}
	if u.config.Public {
		input.ACL = s3types.ObjectCannedACLPublicRead
	}
	log.Infow("uploading file to S3", "file", filePath, "bucket", u.config.Bucket, "key", *input.Key)
	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload file %s: %w", filePath, err)
	}
	return fmt.Sprintf("s3://%s/%s", u.config.Bucket, *input.Key), nil
}

// TestConnection checks that the bucket is reachable with the configured
// credentials.
func (u *S3Uploader) TestConnection(ctx context.Context) error {
	if _, err := u.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(u.config.Bucket),
		MaxKeys: aws.Int32(1),
	}); err != nil {
		return fmt.Errorf("S3 connection test failed: %w", err)
	}
	log.Infow("S3 connection successful", "endpoint", u.config.Endpoint, "bucket", u.config.Bucket)
	return nil
}

// UploadFiles uploads the files and returns their s3:// locations.
func UploadFiles(ctx context.Context, filePaths []string, cfg *S3Config) ([]string, error) {
	if !cfg.Enabled {
		log.Infow("s3 upload not enabled, skipping")
		return nil, nil
	}
	uploader, err := NewS3Uploader(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 uploader: %w", err)
	}
	var uris []string
	for _, filePath := range filePaths {
		uri, err := uploader.UploadFile(ctx, filePath)
		if err != nil {
			return uris, err
		}
		uris = append(uris, uri)
	}
	log.Infow("artifacts successfully uploaded to S3", "count", len(uris))
	return uris, nil
}
