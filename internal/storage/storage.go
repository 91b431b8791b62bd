// Package storage selects the blob store backend used for configuration
// snapshots.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/extendspider-console/internal/storage/gcs"
	"github.com/JakeFAU/extendspider-console/internal/storage/local"
	"github.com/JakeFAU/extendspider-console/internal/storage/memory"
	"github.com/JakeFAU/extendspider-console/internal/store"
)

// Supported backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	Bucket  string
	BaseDir string
}

// Open builds the configured blob store. The returned close function releases
// any client the backend holds and is never nil.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (store.BlobStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case "", BackendMemory:
		return memory.NewBlobStore(), noop, nil
	case BackendLocal:
		blobs, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, noop, fmt.Errorf("open local blob store: %w", err)
		}
		return blobs, noop, nil
	case BackendGCS:
		blobs, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Bucket}, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("open gcs blob store: %w", err)
		}
		return blobs, blobs.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
