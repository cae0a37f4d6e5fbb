package store

import (
	"context"
	"errors"
	"fmt"

	"stockpos/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidCart       = errors.New("invalid cart")
	ErrDuplicateKey      = errors.New("duplicate key")
)

// FieldError is a ValidationError naming the offending field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error {
	return ErrValidation
}

// ProductError ties a sale failure to the product that caused it. Err is
// ErrNotFound or ErrInsufficientStock.
type ProductError struct {
	ProductID int64
	Err       error
}

func (e *ProductError) Error() string {
	if errors.Is(e.Err, ErrNotFound) {
		return fmt.Sprintf("product %d not found", e.ProductID)
	}
	return fmt.Sprintf("%v for product %d", e.Err, e.ProductID)
}

func (e *ProductError) Unwrap() error {
	return e.Err
}

func ProductNotFound(id int64) error {
	return &ProductError{ProductID: id, Err: ErrNotFound}
}

func InsufficientStock(id int64) error {
	return &ProductError{ProductID: id, Err: ErrInsufficientStock}
}

func InvalidCart(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCart, fmt.Sprintf(format, args...))
}

type CatalogStore interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListLowStockProducts(ctx context.Context, threshold int) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// UpdateProduct loads the live product under the store's row lock, lets
	// apply edit it and writes it back before the lock is released. An error
	// from apply aborts the update unchanged.
	UpdateProduct(ctx context.Context, id int64, apply func(*domain.Product) error) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) (*domain.ProductRemoval, error)
}

type SaleLedger interface {
	// CreateSale prices the request against locked stock and persists the
	// sale, its items and the stock decrement as one unit.
	CreateSale(ctx context.Context, req domain.SaleRequest) (*domain.Sale, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)
	DeleteSale(ctx context.Context, id int64) error
	DashboardStats(ctx context.Context, lowStockThreshold int, recentLimit int) (domain.DashboardStats, error)
}

type Repository interface {
	CatalogStore
	SaleLedger
}
