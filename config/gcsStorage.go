package config

import (
	"context"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

var (
	storageClient   *storage.Client
	storageClientMu sync.Mutex
)

// GetStorageClient lazily creates the Cloud Storage client used for sync archives.
func GetStorageClient(ctx context.Context) (*storage.Client, error) {
	storageClientMu.Lock()
	defer storageClientMu.Unlock()
	if storageClient != nil {
		return storageClient, nil
	}

	s, err := GetSettings()
	if err != nil {
		return nil, err
	}
	var c *storage.Client
	if s.GCSCredentialsJSON != "" {
		c, err = storage.NewClient(ctx, option.WithCredentialsJSON([]byte(s.GCSCredentialsJSON)))
	} else {
		c, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, err
	}
	storageClient = c
	return storageClient, nil
}
