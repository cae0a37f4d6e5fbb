package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpos/internal/domain"
	"stockpos/internal/store"
	"stockpos/internal/store/migrations"
	"stockpos/internal/store/storetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "stock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository {
		return openTemp(t)
	})
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stock.db")

	first, err := Open(context.Background(), path)
	require.NoError(t, err)
	created, err := first.CreateProduct(context.Background(), domain.Product{Name: "Kept", SKU: "KEPT"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.GetProduct(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kept", got.Name)

	version, dirty, ok, err := migrations.Version(second.DB().DB, migrations.SQLite)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)
}

func TestIsUniqueViolation(t *testing.T) {
	s := openTemp(t)
	_, err := s.DB().Exec(`INSERT INTO products (name, price, sku, created_at) VALUES ('a', '1', 'dup', CURRENT_TIMESTAMP)`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`INSERT INTO products (name, price, sku, created_at) VALUES ('b', '1', 'dup', CURRENT_TIMESTAMP)`)
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
	assert.False(t, isUniqueViolation(store.ErrNotFound))
}
