// Package s3 implements a Fetcher that reads raw messages written to S3 by
// an SES receipt rule.
package s3

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
)

// StoreConfig holds the configuration for creating a Store.
type StoreConfig struct {
	// Region of the bucket. Empty uses the default AWS region resolution.
	Region string
}

// GetObjectAPI is the interface for the S3 GetObject operation.
// Used for testing with mock implementations.
type GetObjectAPI interface {
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
}

// Store fetches objects from S3.
type Store struct {
	client GetObjectAPI
}

// New creates a Store using the default AWS configuration chain.
func New(ctx context.Context, cfg StoreConfig) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Store{client: awss3.NewFromConfig(awsCfg)}, nil
}

// NewWithClient creates a Store with a custom client, used for testing.
func NewWithClient(client GetObjectAPI) *Store {
	return &Store{client: client}
}

// Fetch reads the whole object stored under key. Errors are returned
// unchanged apart from wrapping; there is no retry at this layer.
func (s *Store) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}
