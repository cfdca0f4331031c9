// Package contact turns a mirrored order into the field set, note and tags
// sent to the marketing contact API.
package contact

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payload is the enriched, pre-remap view of one order's customer
type Payload struct {
	OrderID             int64
	Email               string
	FirstName           string
	LastName            string
	Phone               string
	LastOrderID         string
	LastOrderAmount     decimal.NullDecimal
	LastOrderCurrency   string
	LastPurchaseDate    *time.Time
	LastOrderStatus     string
	LastOrderProducts   []ProductLine
	LastOrderCategories string
	HistoricCount       int
	HistoricAmount      decimal.Decimal
	HasHistory          bool
	Note                string
	Tags                []string
}

// ProductLine renders as "name | url | image"
type ProductLine struct {
	Name     string
	URL      string
	ImageURL string
}

// Fields returns the payload keyed by the source-side field names.
// Empty values are left out.
func (p Payload) Fields() map[string]any {
	f := map[string]any{}
	put := func(k, v string) {
		if v != "" {
			f[k] = v
		}
	}
	put("email", p.Email)
	put("firstname", p.FirstName)
	put("lastname", p.LastName)
	put("phone", p.Phone)
	put("last_order_id", p.LastOrderID)
	put("last_order_currency", p.LastOrderCurrency)
	put("last_order_status", p.LastOrderStatus)
	put("last_order_categories", p.LastOrderCategories)

	if p.LastOrderAmount.Valid {
		f["last_order_amount"] = p.LastOrderAmount.Decimal
	}
	if p.LastPurchaseDate != nil {
		f["last_purchase_date"] = *p.LastPurchaseDate
	}
	if len(p.LastOrderProducts) > 0 {
		f["last_order_products"] = p.LastOrderProducts
	}
	if p.HasHistory {
		f["historic_purchase_count"] = p.HistoricCount
		f["historic_purchase_amount"] = p.HistoricAmount
	}
	return f
}
