// Package sqlstore implements store.Repository over any SQL database reachable
// through sqlx. The postgres and sqlite packages supply the connection and a
// Dialect; queries are written with '?' and rebound per driver.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"stockpos/internal/domain"
	"stockpos/internal/pricing"
	"stockpos/internal/store"
)

type Dialect struct {
	// LockClause is appended to row reads that precede a stock decrement.
	LockClause        string
	IsUniqueViolation func(error) bool
}

type Store struct {
	db      *sqlx.DB
	dialect Dialect
	now     func() time.Time
}

func New(db *sqlx.DB, dialect Dialect) *Store {
	if dialect.IsUniqueViolation == nil {
		dialect.IsUniqueViolation = func(error) bool { return false }
	}
	return &Store{db: db, dialect: dialect, now: time.Now}
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// clock returns UTC truncated to the coarsest precision of the supported
// databases so written and re-read timestamps compare equal.
func (s *Store) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

const productColumns = `id, name, description, price, quantity, category, sku, barcode, image_ref, created_at, archived_at`

const saleColumns = `id, customer_name, customer_email, customer_phone, total_amount, tax_amount, discount_amount, final_amount, payment_method, sale_date`

const saleItemColumns = `id, sale_id, product_id, product_name, product_sku, quantity, unit_price, discount_type, discount_value, discount_amount, total_price`

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 64)
	err := s.db.SelectContext(ctx, &products, `
		SELECT `+productColumns+`
		FROM products
		WHERE archived_at IS NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	return normalizeProducts(products), nil
}

func (s *Store) ListLowStockProducts(ctx context.Context, threshold int) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 16)
	err := s.db.SelectContext(ctx, &products, s.db.Rebind(`
		SELECT `+productColumns+`
		FROM products
		WHERE archived_at IS NULL AND quantity < ?
		ORDER BY id
	`), threshold)
	if err != nil {
		return nil, err
	}
	return normalizeProducts(products), nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var product domain.Product
	err := s.db.GetContext(ctx, &product, s.db.Rebind(`
		SELECT `+productColumns+`
		FROM products
		WHERE id = ? AND archived_at IS NULL
	`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	normalizeProduct(&product)
	return &product, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.CreatedAt = s.clock()
	product.ArchivedAt = nil

	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		INSERT INTO products (name, description, price, quantity, category, sku, barcode, image_ref, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		RETURNING id
	`), product.Name, product.Description, product.Price, product.Quantity, product.Category,
		product.SKU, product.Barcode, product.ImageRef, product.CreatedAt).Scan(&product.ID)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return nil, store.ErrDuplicateKey
		}
		return nil, err
	}
	return &product, nil
}

// UpdateProduct reads the row with the dialect's lock clause, so a sale
// committing on the same product waits for the write instead of being
// overwritten by a stale quantity.
func (s *Store) UpdateProduct(ctx context.Context, id int64, apply func(*domain.Product) error) (*domain.Product, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var product domain.Product
	err = tx.GetContext(ctx, &product, tx.Rebind(`
		SELECT `+productColumns+`
		FROM products
		WHERE id = ? AND archived_at IS NULL`+s.dialect.LockClause), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	normalizeProduct(&product)

	if err := apply(&product); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE products
		SET name = ?, description = ?, price = ?, quantity = ?, category = ?, sku = ?, barcode = ?, image_ref = ?
		WHERE id = ?
	`), product.Name, product.Description, product.Price, product.Quantity,
		product.Category, product.SKU, product.Barcode, product.ImageRef, id)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return nil, store.ErrDuplicateKey
		}
		return nil, err
	}

	var updated domain.Product
	if err := tx.GetContext(ctx, &updated, tx.Rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	normalizeProduct(&updated)
	return &updated, nil
}

// DeleteProduct removes an unreferenced product. A product that appears in
// sale history is archived so the ledger keeps its foreign key.
func (s *Store) DeleteProduct(ctx context.Context, id int64) (*domain.ProductRemoval, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var product domain.Product
	err = tx.GetContext(ctx, &product, tx.Rebind(`
		SELECT `+productColumns+`
		FROM products
		WHERE id = ? AND archived_at IS NULL`+s.dialect.LockClause), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	normalizeProduct(&product)

	var referenced bool
	if err := tx.GetContext(ctx, &referenced, tx.Rebind(`
		SELECT EXISTS (SELECT 1 FROM sale_items WHERE product_id = ?)
	`), id); err != nil {
		return nil, err
	}

	removal := &domain.ProductRemoval{Archived: referenced}
	if referenced {
		archivedAt := s.clock()
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE products SET archived_at = ? WHERE id = ?`), archivedAt, id); err != nil {
			return nil, err
		}
		product.ArchivedAt = &archivedAt
	} else {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM products WHERE id = ?`), id); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	removal.Product = product
	return removal, nil
}

// CreateSale locks the cart's product rows, prices the cart against the
// locked quantities and writes the sale, its items and the stock decrement in
// one transaction.
func (s *Store) CreateSale(ctx context.Context, req domain.SaleRequest) (*domain.Sale, error) {
	if err := pricing.ValidateCart(req.Items); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := sqlx.In(`
		SELECT `+productColumns+`
		FROM products
		WHERE id IN (?)
		ORDER BY id`+s.dialect.LockClause, pricing.ProductIDs(req.Items))
	if err != nil {
		return nil, err
	}
	locked := make([]domain.Product, 0, len(req.Items))
	if err := tx.SelectContext(ctx, &locked, tx.Rebind(query), args...); err != nil {
		return nil, err
	}
	snapshot := make(map[int64]domain.Product, len(locked))
	for _, p := range locked {
		snapshot[p.ID] = p
	}

	sale, err := pricing.Quote(req, snapshot, s.clock())
	if err != nil {
		return nil, err
	}

	err = tx.QueryRowxContext(ctx, tx.Rebind(`
		INSERT INTO sales (customer_name, customer_email, customer_phone, total_amount, tax_amount, discount_amount, final_amount, payment_method, sale_date)
		VALUES (?,?,?,?,?,?,?,?,?)
		RETURNING id
	`), sale.CustomerName, sale.CustomerEmail, sale.CustomerPhone, sale.TotalAmount, sale.TaxAmount,
		sale.DiscountAmount, sale.FinalAmount, sale.PaymentMethod, sale.SaleDate).Scan(&sale.ID)
	if err != nil {
		return nil, fmt.Errorf("insert sale: %w", err)
	}

	for i := range sale.Items {
		item := &sale.Items[i]
		item.SaleID = sale.ID
		err := tx.QueryRowxContext(ctx, tx.Rebind(`
			INSERT INTO sale_items (sale_id, product_id, product_name, product_sku, quantity, unit_price, discount_type, discount_value, discount_amount, total_price)
			VALUES (?,?,?,?,?,?,?,?,?,?)
			RETURNING id
		`), item.SaleID, item.ProductID, item.ProductName, item.ProductSKU, item.Quantity, item.UnitPrice,
			string(item.DiscountType), item.DiscountValue, item.DiscountAmount, item.TotalPrice).Scan(&item.ID)
		if err != nil {
			return nil, fmt.Errorf("insert sale item: %w", err)
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE products
			SET quantity = quantity - ?
			WHERE id = ? AND quantity >= ?
		`), item.Quantity, item.ProductID, item.Quantity)
		if err != nil {
			return nil, fmt.Errorf("decrement stock: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.InsufficientStock(item.ProductID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.GetContext(ctx, &sale, s.db.Rebind(`SELECT `+saleColumns+` FROM sales WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.SaleDate = sale.SaleDate.UTC()

	items := make([]domain.SaleItem, 0, 8)
	err = s.db.SelectContext(ctx, &items, s.db.Rebind(`
		SELECT `+saleItemColumns+`
		FROM sale_items
		WHERE sale_id = ?
		ORDER BY id
	`), id)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales ORDER BY sale_date DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	sales := make([]domain.Sale, 0, 32)
	if err := s.db.SelectContext(ctx, &sales, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].SaleDate = sales[i].SaleDate.UTC()
	}
	return sales, nil
}

func (s *Store) DeleteSale(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM sale_items WHERE sale_id = ?`), id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM sales WHERE id = ?`), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) DashboardStats(ctx context.Context, lowStockThreshold int, recentLimit int) (domain.DashboardStats, error) {
	var counts struct {
		TotalProducts    int `db:"total_products"`
		LowStockProducts int `db:"low_stock_products"`
		TotalItems       int `db:"total_items"`
	}
	err := s.db.GetContext(ctx, &counts, s.db.Rebind(`
		SELECT
			COUNT(*) AS total_products,
			COALESCE(SUM(CASE WHEN quantity < ? THEN 1 ELSE 0 END), 0) AS low_stock_products,
			COALESCE(SUM(quantity), 0) AS total_items
		FROM products
		WHERE archived_at IS NULL
	`), lowStockThreshold)
	if err != nil {
		return domain.DashboardStats{}, err
	}

	recent, err := s.ListSales(ctx, recentLimit)
	if err != nil {
		return domain.DashboardStats{}, err
	}

	return domain.DashboardStats{
		TotalProducts:    counts.TotalProducts,
		LowStockProducts: counts.LowStockProducts,
		TotalItems:       counts.TotalItems,
		RecentSales:      recent,
	}, nil
}

func normalizeProduct(p *domain.Product) {
	p.CreatedAt = p.CreatedAt.UTC()
	if p.ArchivedAt != nil {
		at := p.ArchivedAt.UTC()
		p.ArchivedAt = &at
	}
}

func normalizeProducts(products []domain.Product) []domain.Product {
	for i := range products {
		normalizeProduct(&products[i])
	}
	return products
}
