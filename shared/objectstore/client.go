package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds object storage connection configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	URLExpiry time.Duration
}

// Client represents an S3-compatible object storage client
type Client struct {
	mc        *minio.Client
	bucket    string
	urlExpiry time.Duration
	logger    *slog.Logger
}

// NewClient creates a new object storage client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	mc, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	urlExpiry := config.URLExpiry
	if urlExpiry <= 0 {
		urlExpiry = time.Hour
	}

	logger.Info("Object storage client initialized",
		slog.String("endpoint", config.Endpoint),
		slog.String("bucket", config.Bucket),
	)

	return &Client{
		mc:        mc,
		bucket:    config.Bucket,
		urlExpiry: urlExpiry,
		logger:    logger,
	}, nil
}

// Exists checks whether an object exists by listing its containing folder
// and matching the object name. A folder listing is used rather than a stat
// call so that a missing-folder and a missing-object report the same way.
func (c *Client) Exists(ctx context.Context, objectPath string) (bool, error) {
	folder := path.Dir(objectPath)
	prefix := ""
	if folder != "." && folder != "/" {
		prefix = folder + "/"
	}

	opts := minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}

	for object := range c.mc.ListObjects(ctx, c.bucket, opts) {
		if object.Err != nil {
			return false, fmt.Errorf("failed to list objects under %q: %w", prefix, object.Err)
		}
		if object.Key == objectPath {
			return true, nil
		}
	}

	return false, nil
}

// Delete removes the object at the given path.
func (c *Client) Delete(ctx context.Context, objectPath string) error {
	if objectPath == "" {
		return fmt.Errorf("path cannot be empty")
	}

	err := c.mc.RemoveObject(ctx, c.bucket, objectPath, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object %q: %w", objectPath, err)
	}

	c.logger.Debug("Object deleted",
		slog.String("path", objectPath),
	)

	return nil
}

// PublicURL generates a presigned download URL for the object.
func (c *Client) PublicURL(ctx context.Context, objectPath string) (string, error) {
	reqParams := make(url.Values)
	u, err := c.mc.PresignedGetObject(ctx, c.bucket, objectPath, c.urlExpiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("failed to presign object %q: %w", objectPath, err)
	}

	return u.String(), nil
}

// List returns the object paths under the given prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	opts := minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}

	var paths []string
	for object := range c.mc.ListObjects(ctx, c.bucket, opts) {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects under %q: %w", prefix, object.Err)
		}
		paths = append(paths, object.Key)
	}

	return paths, nil
}
