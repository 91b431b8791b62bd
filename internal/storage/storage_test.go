package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/extendspider-console/internal/storage/local"
	"github.com/JakeFAU/extendspider-console/internal/storage/memory"
)

func TestOpenSelectsBackend(t *testing.T) {
	t.Parallel()

	blobs, closeFn, err := Open(context.Background(), Config{}, nil)
	require.NoError(t, err)
	require.IsType(t, &memory.BlobStore{}, blobs)
	require.NoError(t, closeFn())

	blobs, closeFn, err = Open(context.Background(), Config{Backend: BackendLocal, BaseDir: t.TempDir()}, nil)
	require.NoError(t, err)
	require.IsType(t, &local.BlobStore{}, blobs)
	require.NoError(t, closeFn())

	_, _, err = Open(context.Background(), Config{Backend: BackendLocal}, nil)
	require.Error(t, err)

	_, closeFn, err = Open(context.Background(), Config{Backend: "s3"}, nil)
	require.ErrorContains(t, err, "unknown storage backend")
	require.NotNil(t, closeFn)
}
