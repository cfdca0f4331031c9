package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is the mirrored order header keyed by EntityID
type Order struct {
	EntityID      int64               `db:"entity_id"`
	IncrementID   string              `db:"increment_id"`
	StoreID       *int64              `db:"store_id"`
	CustomerID    *int64              `db:"customer_id"`
	CustomerEmail string              `db:"customer_email"`
	Status        string              `db:"status"`
	GrandTotal    decimal.NullDecimal `db:"grand_total"`
	CurrencyCode  string              `db:"currency_code"`
	CreatedAt     *time.Time          `db:"created_at"`
	UpdatedAt     *time.Time          `db:"updated_at"`
}

// Customer is keyed by lower-cased email
type Customer struct {
	Email       string     `db:"email"`
	CustomerID  *int64     `db:"customer_id"`
	FirstName   string     `db:"first_name"`
	LastName    string     `db:"last_name"`
	FullName    string     `db:"full_name"`
	Phone       *string    `db:"phone"`
	FirstSeenAt *time.Time `db:"first_seen_at"`
	LastOrderAt *time.Time `db:"last_order_at"`
	OrdersCount int        `db:"orders_count"`
}

// OrderItem is a top-level order line keyed by (OrderEntityID, ItemID)
type OrderItem struct {
	OrderEntityID   int64               `db:"order_entity_id"`
	ItemID          int64               `db:"item_id"`
	SKU             string              `db:"sku"`
	ProductID       *int64              `db:"product_id"`
	ProductName     string              `db:"product_name"`
	QtyOrdered      decimal.NullDecimal `db:"qty_ordered"`
	Price           decimal.NullDecimal `db:"price"`
	RowTotal        decimal.NullDecimal `db:"row_total"`
	PriceInclTax    decimal.NullDecimal `db:"price_incl_tax"`
	RowTotalInclTax decimal.NullDecimal `db:"row_total_incl_tax"`
	CreatedAt       *time.Time          `db:"created_at"`
}

// Product is a catalog entry keyed by ProductID
type Product struct {
	ProductID      int64               `db:"product_id"`
	SKU            string              `db:"sku"`
	Name           string              `db:"name"`
	Status         *int                `db:"status"`
	Visibility     *int                `db:"visibility"`
	TypeID         string              `db:"type_id"`
	AttributeSetID *int                `db:"attribute_set_id"`
	Price          decimal.NullDecimal `db:"price"`
	SpecialPrice   decimal.NullDecimal `db:"special_price"`
	Cost           decimal.NullDecimal `db:"cost"`
	Weight         decimal.NullDecimal `db:"weight"`
	Brand          string              `db:"brand"`
	URLKey         string              `db:"url_key"`
	Image          string              `db:"image"`
	StockQty       decimal.NullDecimal `db:"stock_qty"`
	InStock        *bool               `db:"is_in_stock"`
	CategoryIDs    []int64             `db:"categories_json"`
	CreatedAt      *time.Time          `db:"created_at"`
	UpdatedAt      *time.Time          `db:"updated_at"`
}

// Category is keyed by CategoryID
type Category struct {
	CategoryID      int64      `db:"category_id"`
	ParentID        *int64     `db:"parent_id"`
	Path            string     `db:"path"`
	Level           *int       `db:"level"`
	Position        *int       `db:"position"`
	IsActive        *bool      `db:"is_active"`
	Name            string     `db:"name"`
	URLKey          string     `db:"url_key"`
	URLPath         string     `db:"url_path"`
	Image           string     `db:"image"`
	IncludeInMenu   *bool      `db:"include_in_menu"`
	ChildrenCount   *int       `db:"children_count"`
	MetaTitle       string     `db:"meta_title"`
	MetaKeywords    string     `db:"meta_keywords"`
	MetaDescription string     `db:"meta_description"`
	CreatedAt       *time.Time `db:"created_at"`
	UpdatedAt       *time.Time `db:"updated_at"`
}

// PurchaseHistory aggregates every mirrored order of one customer email
type PurchaseHistory struct {
	Count  int
	Amount decimal.Decimal
}

// LineProduct is an order line resolved against the mirrored catalog
type LineProduct struct {
	Name        string
	SKU         string
	URLKey      string
	Image       string
	CategoryIDs []int64
}
