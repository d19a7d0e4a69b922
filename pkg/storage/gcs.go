package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSPublisher uploads artifacts to Google Cloud Storage.
type GCSPublisher struct {
	bucket string
	client *gcs.Client
}

// NewGCSPublisher creates a client from application default credentials or
// the configured credentials file.
func NewGCSPublisher(ctx context.Context, c Config) (*GCSPublisher, error) {
	var opts []option.ClientOption
	if c.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
	}
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint), option.WithoutAuthentication())
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSPublisher{bucket: c.Bucket, client: client}, nil
}

// Publish uploads localPath to key.
func (p *GCSPublisher) Publish(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath) //nolint:gosec // artifact paths are built by the exporter
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	w := p.client.Bucket(p.bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload %s: %w", p.Location(key), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", p.Location(key), err)
	}
	return nil
}

// Location returns gs://bucket/key.
func (p *GCSPublisher) Location(key string) string {
	return "gs://" + p.bucket + "/" + key
}

// Close releases the client.
func (p *GCSPublisher) Close() error {
	return p.client.Close()
}
