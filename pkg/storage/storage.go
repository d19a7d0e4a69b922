// Package storage publishes finished artifacts to object storage.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Publisher copies a local artifact to a remote key.
type Publisher interface {
	Publish(ctx context.Context, localPath, key string) error
	Close() error
	// Location renders a key as a URL for logs.
	Location(key string) string
}

// Config selects and configures a publisher.
type Config struct {
	Type            string `yaml:"tipo"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefijo"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	CredentialsFile string `yaml:"credenciales"`
}

// Enabled reports whether publishing is configured.
func (c Config) Enabled() bool {
	t := strings.ToLower(c.Type)
	return t != "" && t != "none"
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	switch strings.ToLower(c.Type) {
	case "s3", "gcs":
	default:
		return fmt.Errorf("unsupported publish type: %s", c.Type)
	}
	if c.Bucket == "" {
		return fmt.Errorf("publish bucket is required for %s", c.Type)
	}
	return nil
}

// New creates the configured publisher, or nil when publishing is disabled.
func New(ctx context.Context, c Config) (Publisher, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(c.Type) {
	case "s3":
		return NewS3Publisher(ctx, c)
	case "gcs":
		return NewGCSPublisher(ctx, c)
	default:
		return nil, nil
	}
}

// ObjectKey joins a prefix and path elements with forward slashes.
func ObjectKey(prefix string, elems ...string) string {
	parts := make([]string, 0, len(elems)+1)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, elems...)
	return path.Join(parts...)
}
