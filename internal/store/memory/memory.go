package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"stockpos/internal/domain"
	"stockpos/internal/pricing"
	"stockpos/internal/store"
)

type Store struct {
	mu            sync.RWMutex
	products      map[int64]domain.Product
	sales         map[int64]domain.Sale
	nextProductID int64
	nextSaleID    int64
	nextItemID    int64
	now           func() time.Time
}

func New() *Store {
	return &Store{
		products: make(map[int64]domain.Product),
		sales:    make(map[int64]domain.Sale),
		now:      time.Now,
	}
}

// NewSeeded returns a store preloaded with a demo catalog for local runs.
func NewSeeded() *Store {
	s := New()
	seed := []domain.Product{
		{Name: "Instant Noodles", Category: "grocery", SKU: "SKU-NOODLE-01", Price: decimal.RequireFromString("0.35"), Quantity: 120},
		{Name: "Eggs (10 pack)", Category: "grocery", SKU: "SKU-EGG-01", Price: decimal.RequireFromString("2.65"), Quantity: 40},
		{Name: "UHT Milk 1L", Category: "dairy", SKU: "SKU-MILK-01", Price: decimal.RequireFromString("1.89"), Quantity: 8},
		{Name: "White Bread", Category: "bakery", SKU: "SKU-BREAD-01", Price: decimal.RequireFromString("1.78"), Quantity: 15},
		{Name: "Coffee Sachet", Category: "beverage", SKU: "SKU-COFFEE-01", Price: decimal.RequireFromString("0.26"), Quantity: 200},
		{Name: "Sugar 1kg", Category: "grocery", SKU: "SKU-SUGAR-01", Price: decimal.RequireFromString("1.74"), Quantity: 6},
		{Name: "Mineral Water 600ml", Category: "beverage", SKU: "SKU-WATER-01", Price: decimal.RequireFromString("0.39"), Quantity: 96},
		{Name: "Bath Soap", Category: "household", SKU: "SKU-SOAP-01", Price: decimal.RequireFromString("0.74"), Quantity: 3},
	}
	for _, p := range seed {
		if _, err := s.CreateProduct(context.Background(), p); err != nil {
			log.Fatal().Err(err).Str("sku", p.SKU).Msg("memory store: seed product")
		}
	}
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterProducts(func(domain.Product) bool { return true }), nil
}

func (s *Store) ListLowStockProducts(_ context.Context, threshold int) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterProducts(func(p domain.Product) bool { return p.Quantity < threshold }), nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok || product.Archived() {
		return nil, store.ErrNotFound
	}
	return cloneProduct(product), nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.skuTaken(product.SKU, 0) {
		return nil, store.ErrDuplicateKey
	}

	s.nextProductID++
	product.ID = s.nextProductID
	if product.CreatedAt.IsZero() {
		product.CreatedAt = s.now().UTC()
	}
	product.ArchivedAt = nil
	s.products[product.ID] = product
	return cloneProduct(product), nil
}

func (s *Store) UpdateProduct(_ context.Context, id int64, apply func(*domain.Product) error) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[id]
	if !ok || existing.Archived() {
		return nil, store.ErrNotFound
	}

	product := *cloneProduct(existing)
	if err := apply(&product); err != nil {
		return nil, err
	}
	product.ID = id
	product.CreatedAt = existing.CreatedAt
	product.ArchivedAt = nil
	if s.skuTaken(product.SKU, id) {
		return nil, store.ErrDuplicateKey
	}

	s.products[id] = product
	return cloneProduct(product), nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) (*domain.ProductRemoval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok || product.Archived() {
		return nil, store.ErrNotFound
	}

	if s.productReferenced(id) {
		archivedAt := s.now().UTC()
		product.ArchivedAt = &archivedAt
		s.products[id] = product
		return &domain.ProductRemoval{Product: *cloneProduct(product), Archived: true}, nil
	}

	delete(s.products, id)
	return &domain.ProductRemoval{Product: *cloneProduct(product)}, nil
}

func (s *Store) CreateSale(_ context.Context, req domain.SaleRequest) (*domain.Sale, error) {
	if err := pricing.ValidateCart(req.Items); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[int64]domain.Product, len(req.Items))
	for _, id := range pricing.ProductIDs(req.Items) {
		if product, ok := s.products[id]; ok {
			snapshot[id] = product
		}
	}

	sale, err := pricing.Quote(req, snapshot, s.now())
	if err != nil {
		return nil, err
	}

	s.nextSaleID++
	sale.ID = s.nextSaleID
	for i := range sale.Items {
		s.nextItemID++
		sale.Items[i].ID = s.nextItemID
		sale.Items[i].SaleID = sale.ID

		product := s.products[sale.Items[i].ProductID]
		product.Quantity -= sale.Items[i].Quantity
		s.products[product.ID] = product
	}
	s.sales[sale.ID] = sale

	return cloneSale(sale, true), nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale, true), nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.recentSales(limit), nil
}

func (s *Store) DeleteSale(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sales[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.sales, id)
	return nil
}

func (s *Store) DashboardStats(_ context.Context, lowStockThreshold int, recentLimit int) (domain.DashboardStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.DashboardStats{}
	for _, p := range s.products {
		if p.Archived() {
			continue
		}
		stats.TotalProducts++
		stats.TotalItems += p.Quantity
		if p.Quantity < lowStockThreshold {
			stats.LowStockProducts++
		}
	}
	stats.RecentSales = s.recentSales(recentLimit)
	return stats, nil
}

func (s *Store) filterProducts(keep func(domain.Product) bool) []domain.Product {
	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.Archived() || !keep(p) {
			continue
		}
		result = append(result, *cloneProduct(p))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

func (s *Store) recentSales(limit int) []domain.Sale {
	result := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		result = append(result, *cloneSale(sale, false))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SaleDate.Equal(result[j].SaleDate) {
			return result[i].ID > result[j].ID
		}
		return result[i].SaleDate.After(result[j].SaleDate)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (s *Store) skuTaken(sku string, exceptID int64) bool {
	for id, p := range s.products {
		if id != exceptID && p.SKU == sku {
			return true
		}
	}
	return false
}

func (s *Store) productReferenced(id int64) bool {
	for _, sale := range s.sales {
		for _, item := range sale.Items {
			if item.ProductID == id {
				return true
			}
		}
	}
	return false
}

func cloneProduct(p domain.Product) *domain.Product {
	out := p
	if p.ArchivedAt != nil {
		at := *p.ArchivedAt
		out.ArchivedAt = &at
	}
	return &out
}

func cloneSale(sale domain.Sale, withItems bool) *domain.Sale {
	out := sale
	out.Items = nil
	if withItems {
		out.Items = slices.Clone(sale.Items)
	}
	return &out
}
