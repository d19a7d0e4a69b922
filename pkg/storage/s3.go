package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Publisher uploads artifacts to S3 or an S3-compatible endpoint (MinIO).
type S3Publisher struct {
	bucket   string
	uploader *manager.Uploader
}

// NewS3Publisher loads the default AWS credential chain.
func NewS3Publisher(ctx context.Context, c Config) (*S3Publisher, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	if c.CredentialsFile != "" {
		opts = append(opts, awsconfig.WithSharedCredentialsFiles([]string{c.CredentialsFile}))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Publisher{
		bucket:   c.Bucket,
		uploader: manager.NewUploader(client),
	}, nil
}

// Publish uploads localPath to key.
func (p *S3Publisher) Publish(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath) //nolint:gosec // artifact paths are built by the exporter
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	_, err = p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", p.Location(key), err)
	}
	return nil
}

// Location returns s3://bucket/key.
func (p *S3Publisher) Location(key string) string {
	return "s3://" + p.bucket + "/" + key
}

// Close is a no-op; the SDK client holds no resources.
func (p *S3Publisher) Close() error {
	return nil
}
