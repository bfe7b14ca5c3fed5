package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/integration_platform/config"
	"bitbucket.org/mmdatafocus/integration_platform/platforms"
)

// GCSArchiver writes pulled batches to a Cloud Storage bucket as JSON.
type GCSArchiver struct {
	bucket string
}

// NewGCSArchiver returns nil when no bucket is configured so the engine skips
// archiving entirely.
func NewGCSArchiver(bucket string) *GCSArchiver {
	if bucket == "" {
		return nil
	}
	return &GCSArchiver{bucket: bucket}
}

func (a *GCSArchiver) Archive(ctx context.Context, objectName string, records []platforms.ExternalRecord) error {
	if a == nil {
		return errors.New("archive bucket not configured")
	}
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}

	// The client is shared; it is not closed here.
	client, err := config.GetStorageClient(ctx)
	if err != nil {
		return err
	}
	wc := client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = "application/json"
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write gs://%s/%s: %w", a.bucket, objectName, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", a.bucket, objectName, err)
	}
	return nil
}
