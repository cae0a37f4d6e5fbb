package pricing

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpos/internal/domain"
	"stockpos/internal/store"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func catalog(products ...domain.Product) map[int64]domain.Product {
	out := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out
}

func TestQuotePercentDiscountScenario(t *testing.T) {
	products := catalog(domain.Product{ID: 1, Name: "A", SKU: "A-1", Price: dec("100"), Quantity: 10})
	req := domain.SaleRequest{Items: []domain.CartLine{{
		ProductID:     1,
		Quantity:      3,
		UnitPrice:     decPtr("100"),
		DiscountType:  domain.DiscountPercent,
		DiscountValue: dec("10"),
	}}}

	sale, err := Quote(req, products, time.Now())
	require.NoError(t, err)

	require.Len(t, sale.Items, 1)
	item := sale.Items[0]
	assert.True(t, item.BaseTotal().Equal(dec("300")))
	assert.True(t, item.DiscountAmount.Equal(dec("30")))
	assert.True(t, item.TotalPrice.Equal(dec("270")))
	assert.True(t, sale.TotalAmount.Equal(dec("300")))
	assert.True(t, sale.DiscountAmount.Equal(dec("30")))
	assert.True(t, sale.FinalAmount.Equal(dec("270")))
	assert.True(t, sale.TaxAmount.IsZero())
	assert.Equal(t, "A", item.ProductName)
	assert.Equal(t, "A-1", item.ProductSKU)
}

func TestQuoteAppliesCustomerDefaults(t *testing.T) {
	products := catalog(domain.Product{ID: 1, Name: "A", Price: dec("5"), Quantity: 1})
	req := domain.SaleRequest{
		CustomerInfo: domain.CustomerInfo{Name: "  ", Email: " a@b.c "},
		Items:        []domain.CartLine{{ProductID: 1, Quantity: 1}},
	}

	sale, err := Quote(req, products, time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("WIB", 7*3600)))
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultCustomerName, sale.CustomerName)
	assert.Equal(t, domain.DefaultPaymentMethod, sale.PaymentMethod)
	assert.Equal(t, "a@b.c", sale.CustomerEmail)
	assert.Equal(t, time.UTC, sale.SaleDate.Location())
	assert.Equal(t, 5, sale.SaleDate.Hour())
}

func TestQuoteCapturesCurrentPriceWhenUnitPriceOmitted(t *testing.T) {
	products := catalog(domain.Product{ID: 7, Name: "Tea", Price: dec("9.80"), Quantity: 4})
	req := domain.SaleRequest{Items: []domain.CartLine{{ProductID: 7, Quantity: 2}}}

	sale, err := Quote(req, products, time.Now())
	require.NoError(t, err)
	assert.True(t, sale.Items[0].UnitPrice.Equal(dec("9.80")))
	assert.True(t, sale.FinalAmount.Equal(dec("19.60")))
	assert.Equal(t, domain.DiscountNone, sale.Items[0].DiscountType)
}

func TestQuoteRejectsInsufficientStock(t *testing.T) {
	products := catalog(domain.Product{ID: 2, Name: "B", Price: dec("1"), Quantity: 2})
	req := domain.SaleRequest{Items: []domain.CartLine{{ProductID: 2, Quantity: 5}}}

	_, err := Quote(req, products, time.Now())
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	var productErr *store.ProductError
	require.True(t, errors.As(err, &productErr))
	assert.Equal(t, int64(2), productErr.ProductID)
}

func TestQuoteChecksCumulativeQuantityPerProduct(t *testing.T) {
	products := catalog(domain.Product{ID: 3, Name: "C", Price: dec("1"), Quantity: 5})
	req := domain.SaleRequest{Items: []domain.CartLine{
		{ProductID: 3, Quantity: 3},
		{ProductID: 3, Quantity: 3},
	}}

	_, err := Quote(req, products, time.Now())
	require.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestQuoteRejectsQuantityThatWouldOverflowRunningTotal(t *testing.T) {
	products := catalog(domain.Product{ID: 3, Name: "C", Price: dec("1"), Quantity: 10})
	req := domain.SaleRequest{Items: []domain.CartLine{
		{ProductID: 3, Quantity: 1},
		{ProductID: 3, Quantity: math.MaxInt},
	}}

	_, err := Quote(req, products, time.Now())
	require.ErrorIs(t, err, store.ErrInvalidCart)
}

func TestQuoteRunningTotalAtStockLimit(t *testing.T) {
	products := catalog(domain.Product{ID: 3, Name: "C", Price: dec("1"), Quantity: MaxLineQuantity + 5})
	req := domain.SaleRequest{Items: []domain.CartLine{
		{ProductID: 3, Quantity: 5},
		{ProductID: 3, Quantity: MaxLineQuantity},
	}}

	sale, err := Quote(req, products, time.Now())
	require.NoError(t, err)
	require.Len(t, sale.Items, 2)

	req.Items = append(req.Items, domain.CartLine{ProductID: 3, Quantity: 1})
	_, err = Quote(req, products, time.Now())
	require.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestValidateCartAcceptsFourPlacePercent(t *testing.T) {
	line := domain.CartLine{ProductID: 1, Quantity: 1, DiscountType: domain.DiscountPercent, DiscountValue: dec("12.3456")}
	require.NoError(t, ValidateCart([]domain.CartLine{line}))
}

func TestQuoteRejectsUnknownAndArchivedProducts(t *testing.T) {
	archivedAt := time.Now()
	products := catalog(domain.Product{ID: 4, Name: "Gone", Price: dec("1"), Quantity: 5, ArchivedAt: &archivedAt})

	for _, id := range []int64{4, 99} {
		_, err := Quote(domain.SaleRequest{Items: []domain.CartLine{{ProductID: id, Quantity: 1}}}, products, time.Now())
		require.ErrorIs(t, err, store.ErrNotFound)

		var productErr *store.ProductError
		require.True(t, errors.As(err, &productErr))
		assert.Equal(t, id, productErr.ProductID)
	}
}

func TestQuoteEmptyCart(t *testing.T) {
	_, err := Quote(domain.SaleRequest{}, nil, time.Now())
	require.ErrorIs(t, err, store.ErrInvalidCart)
}

func TestValidateCartRejectsMalformedLines(t *testing.T) {
	cases := map[string]domain.CartLine{
		"zero quantity":      {ProductID: 1, Quantity: 0},
		"missing product":    {ProductID: 0, Quantity: 1},
		"negative price":     {ProductID: 1, Quantity: 1, UnitPrice: decPtr("-1")},
		"sub-cent price":     {ProductID: 1, Quantity: 1, UnitPrice: decPtr("1.001")},
		"unknown discount":   {ProductID: 1, Quantity: 1, DiscountType: "bogo"},
		"negative discount":  {ProductID: 1, Quantity: 1, DiscountType: domain.DiscountFixed, DiscountValue: dec("-2")},
		"sub-cent fixed off": {ProductID: 1, Quantity: 1, DiscountType: domain.DiscountFixed, DiscountValue: dec("0.005")},
		"huge quantity":      {ProductID: 1, Quantity: MaxLineQuantity + 1},
		"fine percent":       {ProductID: 1, Quantity: 1, DiscountType: domain.DiscountPercent, DiscountValue: dec("12.34567")},
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateCart([]domain.CartLine{line})
			assert.ErrorIs(t, err, store.ErrInvalidCart)
		})
	}
}

func TestLineDiscount(t *testing.T) {
	cases := []struct {
		name  string
		base  string
		kind  domain.DiscountType
		value string
		want  string
	}{
		{"none ignores value", "50", domain.DiscountNone, "20", "0"},
		{"fixed below base", "50", domain.DiscountFixed, "20", "20"},
		{"fixed clamps to base", "50", domain.DiscountFixed, "80", "50"},
		{"percent", "300", domain.DiscountPercent, "10", "30"},
		{"percent rounds to cents", "9.99", domain.DiscountPercent, "15", "1.50"},
		{"percent above hundred clamps", "40", domain.DiscountPercent, "150", "40"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := LineDiscount(dec(tc.base), tc.kind, dec(tc.value))
			assert.Truef(t, got.Equal(dec(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestQuoteTotalsIdentity(t *testing.T) {
	products := catalog(
		domain.Product{ID: 1, Name: "A", Price: dec("12.50"), Quantity: 50},
		domain.Product{ID: 2, Name: "B", Price: dec("3.10"), Quantity: 50},
	)
	req := domain.SaleRequest{Items: []domain.CartLine{
		{ProductID: 1, Quantity: 2, DiscountType: domain.DiscountFixed, DiscountValue: dec("100")},
		{ProductID: 2, Quantity: 7, DiscountType: domain.DiscountPercent, DiscountValue: dec("33")},
		{ProductID: 1, Quantity: 1, UnitPrice: decPtr("11.00")},
	}}

	sale, err := Quote(req, products, time.Now())
	require.NoError(t, err)

	sumBase := decimal.Zero
	sumDiscount := decimal.Zero
	for _, item := range sale.Items {
		assert.False(t, item.TotalPrice.IsNegative())
		sumBase = sumBase.Add(item.BaseTotal())
		sumDiscount = sumDiscount.Add(item.DiscountAmount)
	}
	assert.True(t, sale.TotalAmount.Equal(sumBase))
	assert.True(t, sale.DiscountAmount.Equal(sumDiscount))
	assert.True(t, sale.FinalAmount.Equal(sale.TotalAmount.Sub(sale.DiscountAmount)))
}

func TestProductIDsSortedAndDistinct(t *testing.T) {
	ids := ProductIDs([]domain.CartLine{{ProductID: 9}, {ProductID: 2}, {ProductID: 9}, {ProductID: 5}})
	assert.Equal(t, []int64{2, 5, 9}, ids)
}
