// Package gcs archives run snapshots in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/quantline/riskpipe/internal/blob"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// Archive uploads run snapshots to a bucket and returns gs:// URIs.
type Archive struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed snapshot archive.
func New(client *storage.Client, cfg Config) (*Archive, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Archive{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// ArchiveRun implements blob.Archive. The object is written under the
// configured prefix as <run_id>.json with a JSON content type.
func (a *Archive) ArchiveRun(ctx context.Context, snap blob.Snapshot) (string, error) {
	data, err := blob.Encode(snap)
	if err != nil {
		return "", err
	}

	objectPath := blob.ObjectPath(a.prefix, snap.RunID)
	writer := a.client.Bucket(a.bucket).Object(objectPath).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.Metadata = map[string]string{
		"run_id": snap.RunID.String(),
		"status": snap.Status,
	}

	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("write snapshot: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close snapshot writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, objectPath), nil
}
