package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Money is rendered as a JSON number, matching the listing endpoints.
	decimal.MarshalJSONWithoutQuotes = true
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"

	DefaultCustomerName  = "Walk-in Customer"
	DefaultPaymentMethod = "Cash"
	LowStockThreshold    = 10
)

type Product struct {
	ID          int64           `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Quantity    int             `json:"quantity" db:"quantity"`
	Category    string          `json:"category" db:"category"`
	SKU         string          `json:"sku" db:"sku"`
	Barcode     string          `json:"barcode" db:"barcode"`
	ImageRef    string          `json:"image,omitempty" db:"image_ref"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ArchivedAt  *time.Time      `json:"archived_at,omitempty" db:"archived_at"`
}

func (p Product) Archived() bool {
	return p.ArchivedAt != nil
}

type ProductCreateRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Category    string          `json:"category"`
	SKU         string          `json:"sku"`
	Barcode     string          `json:"barcode"`
}

type ProductUpdateRequest struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Quantity    *int             `json:"quantity,omitempty"`
	Category    *string          `json:"category,omitempty"`
	SKU         *string          `json:"sku,omitempty"`
	Barcode     *string          `json:"barcode,omitempty"`
}

// ProductRemoval reports what DeleteProduct did with the row. Archived is true
// when the product is referenced by sale history and was hidden instead.
type ProductRemoval struct {
	Product  Product `json:"product"`
	Archived bool    `json:"archived"`
}

type ProductSummary struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Image    *string         `json:"image"`
	SKU      string          `json:"sku"`
}

type LowStockSummary struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

func SummarizeProduct(p Product) ProductSummary {
	summary := ProductSummary{
		ID:       p.ID,
		Name:     p.Name,
		Price:    p.Price,
		Quantity: p.Quantity,
		SKU:      p.SKU,
	}
	if p.ImageRef != "" {
		image := p.ImageRef
		summary.Image = &image
	}
	return summary
}

func SummarizeLowStock(p Product) LowStockSummary {
	return LowStockSummary{ID: p.ID, Name: p.Name, Quantity: p.Quantity, Price: p.Price}
}

type DiscountType string

const (
	DiscountNone    DiscountType = "none"
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
)

func (t DiscountType) Valid() bool {
	switch t {
	case DiscountNone, DiscountPercent, DiscountFixed:
		return true
	}
	return false
}

// CartLine is one proposed line of a sale. A nil UnitPrice captures the
// product's current price.
type CartLine struct {
	ProductID     int64            `json:"product_id"`
	Quantity      int              `json:"quantity"`
	UnitPrice     *decimal.Decimal `json:"unit_price,omitempty"`
	DiscountType  DiscountType     `json:"discount_type,omitempty"`
	DiscountValue decimal.Decimal  `json:"discount_value"`
}

type CustomerInfo struct {
	Name  string `json:"customer_name"`
	Email string `json:"customer_email"`
	Phone string `json:"customer_phone"`
}

type SaleRequest struct {
	CustomerInfo
	PaymentMethod string     `json:"payment_method"`
	Items         []CartLine `json:"items"`
}

type Sale struct {
	ID             int64           `json:"id" db:"id"`
	CustomerName   string          `json:"customer_name" db:"customer_name"`
	CustomerEmail  string          `json:"customer_email" db:"customer_email"`
	CustomerPhone  string          `json:"customer_phone" db:"customer_phone"`
	TotalAmount    decimal.Decimal `json:"total_amount" db:"total_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount" db:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount" db:"final_amount"`
	PaymentMethod  string          `json:"payment_method" db:"payment_method"`
	SaleDate       time.Time       `json:"sale_date" db:"sale_date"`
	Items          []SaleItem      `json:"items,omitempty"`
}

type SaleItem struct {
	ID             int64           `json:"id" db:"id"`
	SaleID         int64           `json:"sale_id" db:"sale_id"`
	ProductID      int64           `json:"product_id" db:"product_id"`
	ProductName    string          `json:"product_name" db:"product_name"`
	ProductSKU     string          `json:"product_sku" db:"product_sku"`
	Quantity       int             `json:"quantity" db:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price" db:"unit_price"`
	DiscountType   DiscountType    `json:"discount_type" db:"discount_type"`
	DiscountValue  decimal.Decimal `json:"discount_value" db:"discount_value"`
	DiscountAmount decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	TotalPrice     decimal.Decimal `json:"total_price" db:"total_price"`
}

// BaseTotal is quantity times unit price, before the line discount.
func (i SaleItem) BaseTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type DashboardStats struct {
	TotalProducts    int    `json:"total_products"`
	LowStockProducts int    `json:"low_stock_products"`
	TotalItems       int    `json:"total_items"`
	RecentSales      []Sale `json:"recent_sales"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserAccount struct {
	Username string
	Password string
	Role     string
	Active   bool
}
