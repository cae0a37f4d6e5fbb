// Package storetest holds the behavioural suite every store.Repository
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpos/internal/domain"
	"stockpos/internal/store"
)

// Factory returns an empty repository. It is called once per subtest.
type Factory func(t *testing.T) store.Repository

func Run(t *testing.T, newRepo Factory) {
	t.Run("ProductRoundTrip", func(t *testing.T) { testProductRoundTrip(t, newRepo(t)) })
	t.Run("DuplicateSKU", func(t *testing.T) { testDuplicateSKU(t, newRepo(t)) })
	t.Run("UpdateMissingProduct", func(t *testing.T) { testUpdateMissingProduct(t, newRepo(t)) })
	t.Run("UpdateAbortedByApply", func(t *testing.T) { testUpdateAborted(t, newRepo(t)) })
	t.Run("UpdateKeepsStockSoldMeanwhile", func(t *testing.T) { testUpdateKeepsStockSoldMeanwhile(t, newRepo(t)) })
	t.Run("ConcurrentUpdatesAndSales", func(t *testing.T) { testConcurrentUpdatesAndSales(t, newRepo(t)) })
	t.Run("ListingsAndLowStock", func(t *testing.T) { testListings(t, newRepo(t)) })
	t.Run("SaleWithPercentDiscount", func(t *testing.T) { testSaleWithPercentDiscount(t, newRepo(t)) })
	t.Run("SaleInsufficientStockWritesNothing", func(t *testing.T) { testSaleInsufficientStock(t, newRepo(t)) })
	t.Run("SaleFailureOnLaterLineRollsBack", func(t *testing.T) { testSaleRollback(t, newRepo(t)) })
	t.Run("SaleEmptyCart", func(t *testing.T) { testSaleEmptyCart(t, newRepo(t)) })
	t.Run("SaleQuantityOverflowRejected", func(t *testing.T) { testSaleQuantityOverflow(t, newRepo(t)) })
	t.Run("DeleteProductKeepsSaleHistory", func(t *testing.T) { testDeleteProductKeepsHistory(t, newRepo(t)) })
	t.Run("DeleteSale", func(t *testing.T) { testDeleteSale(t, newRepo(t)) })
	t.Run("DashboardStats", func(t *testing.T) { testDashboardStats(t, newRepo(t)) })
	t.Run("ConcurrentSalesNeverOversell", func(t *testing.T) { testConcurrentSales(t, newRepo(t)) })
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustCreate(t *testing.T, repo store.Repository, name string, price string, qty int) domain.Product {
	t.Helper()
	created, err := repo.CreateProduct(context.Background(), domain.Product{
		Name:     name,
		Price:    dec(price),
		Quantity: qty,
		Category: "test",
		SKU:      "SKU-" + name,
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	return *created
}

func mustGet(t *testing.T, repo store.Repository, id int64) domain.Product {
	t.Helper()
	p, err := repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return *p
}

func stockOf(t *testing.T, repo store.Repository, id int64) int {
	t.Helper()
	p, err := repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Quantity
}

func testProductRoundTrip(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	created, err := repo.CreateProduct(ctx, domain.Product{
		Name:        "Green Tea",
		Description: "25 bags",
		Price:       dec("9.80"),
		Quantity:    12,
		Category:    "beverage",
		SKU:         "SKU-TEA-01",
		Barcode:     "8991234567890",
		ImageRef:    "img-tea.png",
	})
	require.NoError(t, err)
	require.False(t, created.CreatedAt.IsZero())

	got, err := repo.GetProduct(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Green Tea", got.Name)
	assert.Equal(t, "25 bags", got.Description)
	assert.True(t, got.Price.Equal(dec("9.80")), "price %s", got.Price)
	assert.Equal(t, 12, got.Quantity)
	assert.Equal(t, "beverage", got.Category)
	assert.Equal(t, "SKU-TEA-01", got.SKU)
	assert.Equal(t, "8991234567890", got.Barcode)
	assert.Equal(t, "img-tea.png", got.ImageRef)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt), "created_at %s vs %s", created.CreatedAt, got.CreatedAt)
	assert.Nil(t, got.ArchivedAt)

	updated, err := repo.UpdateProduct(ctx, created.ID, func(p *domain.Product) error {
		p.Quantity = 20
		p.ImageRef = ""
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 20, updated.Quantity)

	reread, err := repo.GetProduct(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, reread.Quantity)
	assert.Equal(t, "", reread.ImageRef)
	assert.Equal(t, "Green Tea", reread.Name)
	assert.True(t, created.CreatedAt.Equal(reread.CreatedAt))

	_, err = repo.GetProduct(ctx, created.ID+1000)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDuplicateSKU(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	first := mustCreate(t, repo, "A", "1", 1)
	second := mustCreate(t, repo, "B", "1", 1)

	_, err := repo.CreateProduct(ctx, domain.Product{Name: "A2", SKU: first.SKU, Price: dec("1")})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	_, err = repo.UpdateProduct(ctx, second.ID, func(p *domain.Product) error {
		p.SKU = first.SKU
		return nil
	})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
	assert.Equal(t, "SKU-B", mustGet(t, repo, second.ID).SKU)
}

func testUpdateMissingProduct(t *testing.T, repo store.Repository) {
	_, err := repo.UpdateProduct(context.Background(), 424242, func(*domain.Product) error { return nil })
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = repo.DeleteProduct(context.Background(), 424242)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testUpdateAborted(t *testing.T, repo store.Repository) {
	p := mustCreate(t, repo, "A", "2", 4)
	errStop := errors.New("stop")

	_, err := repo.UpdateProduct(context.Background(), p.ID, func(p *domain.Product) error {
		p.Name = "changed"
		p.Quantity = 99
		return errStop
	})
	require.ErrorIs(t, err, errStop)

	got := mustGet(t, repo, p.ID)
	assert.Equal(t, "A", got.Name)
	assert.Equal(t, 4, got.Quantity)
}

// The stock read inside apply must reflect a sale committed after the
// caller last looked at the product.
func testUpdateKeepsStockSoldMeanwhile(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	p := mustCreate(t, repo, "A", "2", 10)

	stale := mustGet(t, repo, p.ID)
	_, err := repo.CreateSale(ctx, domain.SaleRequest{Items: []domain.CartLine{{ProductID: p.ID, Quantity: 3}}})
	require.NoError(t, err)

	updated, err := repo.UpdateProduct(ctx, p.ID, func(p *domain.Product) error {
		assert.Equal(t, 7, p.Quantity)
		p.Name = "renamed"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 10, stale.Quantity)
	assert.Equal(t, 7, updated.Quantity)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, 7, stockOf(t, repo, p.ID))
}

func testConcurrentUpdatesAndSales(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	const sales = 8
	p := mustCreate(t, repo, "Busy", "1", 20)

	var wg sync.WaitGroup
	errs := make(chan error, 2*sales)
	for i := 0; i < sales; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := repo.CreateSale(ctx, domain.SaleRequest{Items: []domain.CartLine{{ProductID: p.ID, Quantity: 1}}})
			errs <- err
		}()
		go func(n int) {
			defer wg.Done()
			_, err := repo.UpdateProduct(ctx, p.ID, func(p *domain.Product) error {
				p.Name = fmt.Sprintf("Busy %d", n)
				return nil
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 20-sales, stockOf(t, repo, p.ID))
}

func testListings(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	a := mustCreate(t, repo, "A", "1.00", 50)
	b := mustCreate(t, repo, "B", "2.00", 9)
	c := mustCreate(t, repo, "C", "3.00", 0)

	products, err := repo.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 3)
	assert.Equal(t, []int64{a.ID, b.ID, c.ID}, []int64{products[0].ID, products[1].ID, products[2].ID})

	low, err := repo.ListLowStockProducts(ctx, domain.LowStockThreshold)
	require.NoError(t, err)
	require.Len(t, low, 2)
	assert.Equal(t, b.ID, low[0].ID)
	assert.Equal(t, c.ID, low[1].ID)
}

func testSaleWithPercentDiscount(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	a := mustCreate(t, repo, "A", "100", 10)
	unitPrice := dec("100")

	sale, err := repo.CreateSale(ctx, domain.SaleRequest{
		CustomerInfo: domain.CustomerInfo{Name: "Dewi"},
		Items: []domain.CartLine{{
			ProductID:     a.ID,
			Quantity:      3,
			UnitPrice:     &unitPrice,
			DiscountType:  domain.DiscountPercent,
			DiscountValue: dec("10"),
		}},
	})
	require.NoError(t, err)
	require.NotZero(t, sale.ID)
	assert.True(t, sale.TotalAmount.Equal(dec("300")))
	assert.True(t, sale.DiscountAmount.Equal(dec("30")))
	assert.True(t, sale.FinalAmount.Equal(dec("270")))
	assert.Equal(t, 7, stockOf(t, repo, a.ID))

	stored, err := repo.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dewi", stored.CustomerName)
	assert.Equal(t, domain.DefaultPaymentMethod, stored.PaymentMethod)
	assert.True(t, stored.FinalAmount.Equal(dec("270")))
	assert.True(t, stored.TaxAmount.IsZero())
	require.Len(t, stored.Items, 1)
	item := stored.Items[0]
	assert.Equal(t, sale.ID, item.SaleID)
	assert.Equal(t, a.ID, item.ProductID)
	assert.Equal(t, "A", item.ProductName)
	assert.Equal(t, a.SKU, item.ProductSKU)
	assert.Equal(t, 3, item.Quantity)
	assert.Equal(t, domain.DiscountPercent, item.DiscountType)
	assert.True(t, item.DiscountAmount.Equal(dec("30")))
	assert.True(t, item.TotalPrice.Equal(dec("270")))
	assert.True(t, sale.SaleDate.Equal(stored.SaleDate))

	// Repricing the product leaves the snapshot alone.
	_, err = repo.UpdateProduct(ctx, a.ID, func(p *domain.Product) error {
		p.Price = dec("150")
		p.Quantity = 7
		return nil
	})
	require.NoError(t, err)
	again, err := repo.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.True(t, again.Items[0].UnitPrice.Equal(dec("100")))
}

func testSaleInsufficientStock(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	b := mustCreate(t, repo, "B", "5", 2)

	_, err := repo.CreateSale(ctx, domain.SaleRequest{Items: []domain.CartLine{{ProductID: b.ID, Quantity: 5}}})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	var productErr *store.ProductError
	require.True(t, errors.As(err, &productErr))
	assert.Equal(t, b.ID, productErr.ProductID)

	assert.Equal(t, 2, stockOf(t, repo, b.ID))
	sales, err := repo.ListSales(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func testSaleRollback(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	a := mustCreate(t, repo, "A", "1", 10)
	b := mustCreate(t, repo, "B", "1", 1)

	_, err := repo.CreateSale(ctx, domain.SaleRequest{Items: []domain.CartLine{
		{ProductID: a.ID, Quantity: 4},
		{ProductID: b.ID, Quantity: 2},
	}})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	_, err = repo.CreateSale(ctx, domain.SaleRequest{Items: []domain.CartLine{
		{ProductID: a.ID, Quantity: 4},
		{ProductID: 987654, Quantity: 1},
	}})
	require.ErrorIs(t, err, store.ErrNotFound)

	assert.Equal(t, 10, stockOf(t, repo, a.ID))
	assert.Equal(t, 1, stockOf(t, repo, b.ID))
	sales, err := repo.ListSales(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func testSaleEmptyCart(t *testing.T, repo store.Repository) {
	_, err := repo.CreateSale(context.Background(), domain.SaleRequest{})
	require.ErrorIs(t, err, store.ErrInvalidCart)
}

func testSaleQuantityOverflow(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	p := mustCreate(t, repo, "A", "1", 10)

	_, err := repo.CreateSale(ctx, domain.SaleRequest{Items: []domain.CartLine{
		{ProductID: p.ID, Quantity: 1},
		{ProductID: p.ID, Quantity: math.MaxInt},
	}})
	require.ErrorIs(t, err, store.ErrInvalidCart)

	_, err = repo.CreateSale(ctx, domain.SaleRequest{Items: []domain.CartLine{
		{ProductID: p.ID, Quantity: 6},
		{ProductID: p.ID, Quantity: 5},
	}})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	assert.Equal(t, 10, stockOf(t, repo, p.ID))
	sales, err := repo.ListSales(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func testDeleteProductKeepsHistory(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	sold := mustCreate(t, repo, "Sold", "4.50", 5)
	unsold := mustCreate(t, repo, "Unsold", "1", 5)

	sale, err := repo.CreateSale(ctx, domain.SaleRequest{Items: []domain.CartLine{{ProductID: sold.ID, Quantity: 2}}})
	require.NoError(t, err)

	removal, err := repo.DeleteProduct(ctx, sold.ID)
	require.NoError(t, err)
	assert.True(t, removal.Archived)
	_, err = repo.GetProduct(ctx, sold.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = repo.DeleteProduct(ctx, sold.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	removal, err = repo.DeleteProduct(ctx, unsold.ID)
	require.NoError(t, err)
	assert.False(t, removal.Archived)

	products, err := repo.ListProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, products)

	kept, err := repo.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, kept.Items, 1)
	assert.Equal(t, "Sold", kept.Items[0].ProductName)
	assert.True(t, kept.TotalAmount.Equal(kept.Items[0].BaseTotal()))

	_, err = repo.CreateSale(ctx, domain.SaleRequest{Items: []domain.CartLine{{ProductID: sold.ID, Quantity: 1}}})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDeleteSale(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	a := mustCreate(t, repo, "A", "2", 5)
	sale, err := repo.CreateSale(ctx, domain.SaleRequest{Items: []domain.CartLine{{ProductID: a.ID, Quantity: 1}}})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteSale(ctx, sale.ID))
	_, err = repo.GetSale(ctx, sale.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteSale(ctx, sale.ID), store.ErrNotFound)

	assert.Equal(t, 4, stockOf(t, repo, a.ID))
	removal, err := repo.DeleteProduct(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, removal.Archived)
}

func testDashboardStats(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	a := mustCreate(t, repo, "A", "1", 30)
	mustCreate(t, repo, "B", "1", 4)

	ids := make([]int64, 0, 6)
	for i := 0; i < 6; i++ {
		sale, err := repo.CreateSale(ctx, domain.SaleRequest{
			CustomerInfo: domain.CustomerInfo{Name: fmt.Sprintf("customer-%d", i)},
			Items:        []domain.CartLine{{ProductID: a.ID, Quantity: 1}},
		})
		require.NoError(t, err)
		ids = append(ids, sale.ID)
	}

	stats, err := repo.DashboardStats(ctx, domain.LowStockThreshold, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalProducts)
	assert.Equal(t, 1, stats.LowStockProducts)
	assert.Equal(t, 24+4, stats.TotalItems)
	require.Len(t, stats.RecentSales, 5)
	assert.Equal(t, ids[5], stats.RecentSales[0].ID)
	assert.Equal(t, ids[1], stats.RecentSales[4].ID)
}

func testConcurrentSales(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	const stock = 5
	const buyers = 20
	p := mustCreate(t, repo, "Hot", "1", stock)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failures  []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.CreateSale(ctx, domain.SaleRequest{Items: []domain.CartLine{{ProductID: p.ID, Quantity: 1}}})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, stock, succeeded)
	for _, err := range failures {
		assert.ErrorIs(t, err, store.ErrInsufficientStock)
	}
	assert.Equal(t, 0, stockOf(t, repo, p.ID))
}
