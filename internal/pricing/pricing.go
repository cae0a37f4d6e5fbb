// Package pricing turns a proposed cart into a priced sale. It performs no
// I/O: stores call Quote with the product rows they hold locked.
package pricing

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stockpos/internal/domain"
	"stockpos/internal/store"
)

const (
	moneyPlaces   = 2
	percentPlaces = 4

	// MaxLineQuantity bounds a single cart line so per-product totals stay
	// within the stock column.
	MaxLineQuantity = 1_000_000
)

var hundred = decimal.NewFromInt(100)

// ValidateCart rejects empty or malformed carts before any stock is read.
func ValidateCart(lines []domain.CartLine) error {
	if len(lines) == 0 {
		return store.InvalidCart("cart is empty")
	}
	for i, line := range lines {
		if line.ProductID < 1 {
			return store.InvalidCart("line %d: product_id must be positive", i+1)
		}
		if line.Quantity < 1 {
			return store.InvalidCart("line %d: quantity must be at least 1", i+1)
		}
		if line.Quantity > MaxLineQuantity {
			return store.InvalidCart("line %d: quantity must be at most %d", i+1, MaxLineQuantity)
		}
		if line.UnitPrice != nil {
			if line.UnitPrice.IsNegative() {
				return store.InvalidCart("line %d: unit_price must not be negative", i+1)
			}
			if !IsMoney(*line.UnitPrice) {
				return store.InvalidCart("line %d: unit_price has more than %d decimal places", i+1, moneyPlaces)
			}
		}
		discountType := line.DiscountType
		if discountType == "" {
			discountType = domain.DiscountNone
		}
		if !discountType.Valid() {
			return store.InvalidCart("line %d: unknown discount_type %q", i+1, line.DiscountType)
		}
		if line.DiscountValue.IsNegative() {
			return store.InvalidCart("line %d: discount_value must not be negative", i+1)
		}
		if discountType == domain.DiscountFixed && !IsMoney(line.DiscountValue) {
			return store.InvalidCart("line %d: fixed discount has more than %d decimal places", i+1, moneyPlaces)
		}
		if discountType == domain.DiscountPercent && !line.DiscountValue.Equal(line.DiscountValue.Round(percentPlaces)) {
			return store.InvalidCart("line %d: percent discount has more than %d decimal places", i+1, percentPlaces)
		}
	}
	return nil
}

// ProductIDs returns the distinct product ids of the cart in ascending order,
// the order in which stores acquire row locks.
func ProductIDs(lines []domain.CartLine) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Quote validates req against products and returns the sale to persist. The
// returned sale carries no ids; Items are in cart order. Archived or missing
// products fail with ProductNotFound; quantities are checked cumulatively per
// product.
func Quote(req domain.SaleRequest, products map[int64]domain.Product, now time.Time) (domain.Sale, error) {
	if err := ValidateCart(req.Items); err != nil {
		return domain.Sale{}, err
	}

	sale := domain.Sale{
		CustomerName:   defaultString(req.Name, domain.DefaultCustomerName),
		CustomerEmail:  strings.TrimSpace(req.Email),
		CustomerPhone:  strings.TrimSpace(req.Phone),
		PaymentMethod:  defaultString(req.PaymentMethod, domain.DefaultPaymentMethod),
		SaleDate:       now.UTC(),
		TotalAmount:    decimal.Zero,
		TaxAmount:      decimal.Zero,
		DiscountAmount: decimal.Zero,
		Items:          make([]domain.SaleItem, 0, len(req.Items)),
	}

	requested := make(map[int64]int, len(req.Items))
	for _, line := range req.Items {
		product, ok := products[line.ProductID]
		if !ok || product.Archived() {
			return domain.Sale{}, store.ProductNotFound(line.ProductID)
		}
		if line.Quantity > product.Quantity-requested[line.ProductID] {
			return domain.Sale{}, store.InsufficientStock(line.ProductID)
		}
		requested[line.ProductID] += line.Quantity

		unitPrice := product.Price
		if line.UnitPrice != nil {
			unitPrice = *line.UnitPrice
		}
		discountType := line.DiscountType
		if discountType == "" {
			discountType = domain.DiscountNone
		}

		base := unitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		discount := LineDiscount(base, discountType, line.DiscountValue)

		item := domain.SaleItem{
			ProductID:      product.ID,
			ProductName:    product.Name,
			ProductSKU:     product.SKU,
			Quantity:       line.Quantity,
			UnitPrice:      unitPrice,
			DiscountType:   discountType,
			DiscountValue:  line.DiscountValue,
			DiscountAmount: discount,
			TotalPrice:     base.Sub(discount),
		}
		if discountType == domain.DiscountNone {
			item.DiscountValue = decimal.Zero
		}
		sale.Items = append(sale.Items, item)
		sale.TotalAmount = sale.TotalAmount.Add(base)
		sale.DiscountAmount = sale.DiscountAmount.Add(discount)
	}
	sale.FinalAmount = sale.TotalAmount.Sub(sale.DiscountAmount)

	return sale, nil
}

// LineDiscount computes the discount for a line whose undiscounted total is
// base. Both percent and fixed discounts are clamped to base, so a line total
// is never negative.
func LineDiscount(base decimal.Decimal, kind domain.DiscountType, value decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch kind {
	case domain.DiscountPercent:
		discount = base.Mul(value).Div(hundred).Round(moneyPlaces)
	case domain.DiscountFixed:
		discount = value
	default:
		return decimal.Zero
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(discount, base)
}

// IsMoney reports whether d fits the stored currency precision.
func IsMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(moneyPlaces))
}

func defaultString(val string, fallback string) string {
	trimmed := strings.TrimSpace(val)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
