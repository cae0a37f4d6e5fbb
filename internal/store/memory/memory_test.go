package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpos/internal/domain"
	"stockpos/internal/store"
	"stockpos/internal/store/storetest"
)

func TestRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository {
		return New()
	})
}

func TestNewSeededHasCatalogAndLowStock(t *testing.T) {
	s := NewSeeded()

	products, err := s.ListProducts(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, products)

	low, err := s.ListLowStockProducts(context.Background(), domain.LowStockThreshold)
	require.NoError(t, err)
	assert.NotEmpty(t, low)
	for _, p := range low {
		assert.Less(t, p.Quantity, domain.LowStockThreshold)
	}
}

func TestReturnedProductsAreCopies(t *testing.T) {
	s := New()
	created, err := s.CreateProduct(context.Background(), domain.Product{Name: "A", SKU: "A"})
	require.NoError(t, err)

	created.Name = "mutated"
	got, err := s.GetProduct(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)
}
