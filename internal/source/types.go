package source

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Page is one list response. Items stay raw so one bad item never spoils the page.
type Page struct {
	Items      []json.RawMessage
	TotalCount int
}

// OrderDTO is the projection requested by the bulk detail call
type OrderDTO struct {
	EntityID           int64               `json:"entity_id"`
	IncrementID        string              `json:"increment_id"`
	StoreID            *int64              `json:"store_id"`
	CustomerID         *int64              `json:"customer_id"`
	CustomerEmail      string              `json:"customer_email"`
	Status             string              `json:"status"`
	GrandTotal         decimal.NullDecimal `json:"grand_total"`
	OrderCurrencyCode  string              `json:"order_currency_code"`
	BaseCurrencyCode   string              `json:"base_currency_code"`
	GlobalCurrencyCode string              `json:"global_currency_code"`
	CreatedAt          string              `json:"created_at"`
	UpdatedAt          string              `json:"updated_at"`
	BillingAddress     *struct {
		Email string `json:"email"`
	} `json:"billing_address"`
	Items []ItemDTO `json:"items"`
}

// ItemDTO is an order line
type ItemDTO struct {
	ItemID          int64               `json:"item_id"`
	ParentItemID    *int64              `json:"parent_item_id"`
	SKU             string              `json:"sku"`
	ProductID       *int64              `json:"product_id"`
	Name            string              `json:"name"`
	QtyOrdered      decimal.NullDecimal `json:"qty_ordered"`
	Price           decimal.NullDecimal `json:"price"`
	RowTotal        decimal.NullDecimal `json:"row_total"`
	PriceInclTax    decimal.NullDecimal `json:"price_incl_tax"`
	RowTotalInclTax decimal.NullDecimal `json:"row_total_incl_tax"`
}

type addressDTO struct {
	ID        int64  `json:"id"`
	Telephone string `json:"telephone"`
}

// CustomerDTO is a customer search result
type CustomerDTO struct {
	ID              int64        `json:"id"`
	Email           string       `json:"email"`
	FirstName       string       `json:"firstname"`
	LastName        string       `json:"lastname"`
	CreatedAt       string       `json:"created_at"`
	UpdatedAt       string       `json:"updated_at"`
	DefaultBilling  string       `json:"default_billing"`
	DefaultShipping string       `json:"default_shipping"`
	Addresses       []addressDTO `json:"addresses"`
}

type customAttribute struct {
	Code  string          `json:"attribute_code"`
	Value json.RawMessage `json:"value"`
}

type customAttributes []customAttribute

// Get returns a scalar attribute as text, "" when absent or not scalar
func (a customAttributes) Get(code string) string {
	for _, attr := range a {
		if attr.Code == code {
			return scalarText(attr.Value)
		}
	}
	return ""
}

func scalarText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// ProductDTO is a catalog list item
type ProductDTO struct {
	ID                  int64               `json:"id"`
	SKU                 string              `json:"sku"`
	Name                string              `json:"name"`
	Status              *int                `json:"status"`
	Visibility          *int                `json:"visibility"`
	TypeID              string              `json:"type_id"`
	AttributeSetID      *int                `json:"attribute_set_id"`
	Price               decimal.NullDecimal `json:"price"`
	CreatedAt           string              `json:"created_at"`
	UpdatedAt           string              `json:"updated_at"`
	ExtensionAttributes struct {
		StockItem *struct {
			Qty       decimal.NullDecimal `json:"qty"`
			IsInStock *bool               `json:"is_in_stock"`
		} `json:"stock_item"`
		CategoryLinks []struct {
			CategoryID json.Number `json:"category_id"`
		} `json:"category_links"`
	} `json:"extension_attributes"`
	MediaGalleryEntries []struct {
		File  string   `json:"file"`
		Types []string `json:"types"`
	} `json:"media_gallery_entries"`
	CustomAttributes customAttributes `json:"custom_attributes"`
}

// CategoryDTO is a category list item
type CategoryDTO struct {
	ID               int64            `json:"id"`
	ParentID         *int64           `json:"parent_id"`
	Name             string           `json:"name"`
	IsActive         *bool            `json:"is_active"`
	Position         *int             `json:"position"`
	Level            *int             `json:"level"`
	Path             string           `json:"path"`
	ChildrenCount    *int             `json:"children_count"`
	IncludeInMenu    *bool            `json:"include_in_menu"`
	CreatedAt        string           `json:"created_at"`
	UpdatedAt        string           `json:"updated_at"`
	CustomAttributes customAttributes `json:"custom_attributes"`
}

var timeLayouts = []string{"2006-01-02 15:04:05", time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// ParseTime reads source timestamps, which are UTC without zone
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "0000-00-00") {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

func parseDecimal(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func parseInt64(s string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n, err == nil
}
