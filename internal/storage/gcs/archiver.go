// Package gcs archives finished artifacts to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const pdfContentType = "application/pdf"

// Config captures the parameters required to archive to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// Archiver writes artifacts to a configured GCS bucket.
type Archiver struct {
	client *storage.Client
	bucket string
	prefix string
	now    func() time.Time
}

// New creates a GCS-backed archiver.
func New(client *storage.Client, cfg Config) (*Archiver, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		now:    time.Now,
	}, nil
}

// ObjectName returns the object path used for an artifact name.
func (a *Archiver) ObjectName(name string) string {
	return path.Join(a.prefix, a.now().UTC().Format("2006-01-02"), name)
}

// Archive uploads the artifact and returns its gs:// URI.
func (a *Archiver) Archive(ctx context.Context, name string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("name is required")
	}
	object := a.ObjectName(name)
	writer := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = pdfContentType
	writer.ContentDisposition = fmt.Sprintf("attachment; filename=%q", name)
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, object), nil
}
