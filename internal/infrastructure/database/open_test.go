package database

import (
	"context"
	"path/filepath"
	"testing"

	"nftsales/internal/config"
	"nftsales/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLite(t *testing.T) {
	cfg := config.Config{SQLitePath: filepath.Join(t.TempDir(), "sales.db")}
	repo, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	ctx := context.Background()
	require.NoError(t, repo.Ping(ctx))
	require.NoError(t, repo.Save(ctx, storage.EntitySale, "0x01", []byte(`{}`)))
	require.NoError(t, repo.SetLastProcessedBlock(ctx, 1, 42))

	last, ok, err := repo.LastProcessedBlock(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), last)
}

func TestOpen_RequiresLocation(t *testing.T) {
	_, err := Open(config.Config{})
	assert.Error(t, err)
}
