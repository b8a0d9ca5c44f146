package storage

import (
	"context"
	"fmt"

	"github.com/abduss/reelrelay/internal/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewS3Client builds an AWS SDK v2 S3 client and verifies the bucket is reachable.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := s3.Options{
		Region:           cfg.Region,
		UsePathStyle:     cfg.UsePathStyle,
		RetryMode:        aws.RetryModeAdaptive,
		RetryMaxAttempts: 3,
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = aws.NewCredentialsCache(awscreds.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		))
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	client := s3.New(opts)

	ctx, cancel := context.WithTimeout(ctx, defaultObjectStoreTimeout)
	defer cancel()

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("access bucket %q: %w", cfg.Bucket, err)
	}
	return client, nil
}
