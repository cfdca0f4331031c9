package source

import (
	"strconv"
	"strings"

	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/internal/syncerr"
)

// ToModel maps a detail projection to the mirrored order. The email falls
// back to the billing address, the currency to base then global.
func (o OrderDTO) ToModel() (models.Order, error) {
	if o.EntityID <= 0 {
		return models.Order{}, &syncerr.MissingNaturalKeyError{Entity: "order", Key: "entity_id"}
	}

	email := strings.TrimSpace(o.CustomerEmail)
	if email == "" && o.BillingAddress != nil {
		email = strings.TrimSpace(o.BillingAddress.Email)
	}

	currency := o.OrderCurrencyCode
	if currency == "" {
		currency = o.BaseCurrencyCode
	}
	if currency == "" {
		currency = o.GlobalCurrencyCode
	}

	return models.Order{
		EntityID:      o.EntityID,
		IncrementID:   o.IncrementID,
		StoreID:       o.StoreID,
		CustomerID:    o.CustomerID,
		CustomerEmail: strings.ToLower(email),
		Status:        o.Status,
		GrandTotal:    o.GrandTotal,
		CurrencyCode:  currency,
		CreatedAt:     ParseTime(o.CreatedAt),
		UpdatedAt:     ParseTime(o.UpdatedAt),
	}, nil
}

// Lines returns the top-level lines of the order. Children of configurable
// and bundle products carry parent_item_id and are skipped.
func (o OrderDTO) Lines() []models.OrderItem {
	created := ParseTime(o.CreatedAt)
	out := make([]models.OrderItem, 0, len(o.Items))
	for _, it := range o.Items {
		if it.ParentItemID != nil && *it.ParentItemID > 0 {
			continue
		}
		if it.ItemID <= 0 {
			continue
		}
		out = append(out, models.OrderItem{
			OrderEntityID:   o.EntityID,
			ItemID:          it.ItemID,
			SKU:             it.SKU,
			ProductID:       it.ProductID,
			ProductName:     it.Name,
			QtyOrdered:      it.QtyOrdered,
			Price:           it.Price,
			RowTotal:        it.RowTotal,
			PriceInclTax:    it.PriceInclTax,
			RowTotalInclTax: it.RowTotalInclTax,
			CreatedAt:       created,
		})
	}
	return out
}

// ToModel requires an email, the customer natural key
func (c CustomerDTO) ToModel() (models.Customer, error) {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if email == "" {
		return models.Customer{}, &syncerr.MissingNaturalKeyError{Entity: "customer", Key: "email", Ref: strconv.FormatInt(c.ID, 10)}
	}

	first := strings.TrimSpace(c.FirstName)
	last := strings.TrimSpace(c.LastName)
	cust := models.Customer{
		Email:       email,
		FirstName:   first,
		LastName:    last,
		FullName:    strings.TrimSpace(first + " " + last),
		Phone:       c.pickPhone(),
		FirstSeenAt: ParseTime(c.CreatedAt),
	}
	if c.ID > 0 {
		id := c.ID
		cust.CustomerID = &id
	}
	return cust, nil
}

// pickPhone prefers the default billing address, then default shipping, then any
func (c CustomerDTO) pickPhone() *string {
	byID := func(ref string) string {
		id, ok := parseInt64(ref)
		if !ok {
			return ""
		}
		for _, a := range c.Addresses {
			if a.ID == id {
				return strings.TrimSpace(a.Telephone)
			}
		}
		return ""
	}

	phone := byID(c.DefaultBilling)
	if phone == "" {
		phone = byID(c.DefaultShipping)
	}
	if phone == "" {
		for _, a := range c.Addresses {
			if t := strings.TrimSpace(a.Telephone); t != "" {
				phone = t
				break
			}
		}
	}
	if phone == "" {
		return nil
	}
	return &phone
}

func (p ProductDTO) ToModel() (models.Product, error) {
	if p.ID <= 0 {
		return models.Product{}, &syncerr.MissingNaturalKeyError{Entity: "product", Key: "id", Ref: p.SKU}
	}

	brand := p.CustomAttributes.Get("brand")
	if brand == "" {
		brand = p.CustomAttributes.Get("manufacturer")
	}

	image := p.CustomAttributes.Get("image")
	if image == "" || image == "no_selection" {
		image = ""
		for _, m := range p.MediaGalleryEntries {
			for _, t := range m.Types {
				if t == "image" {
					image = m.File
				}
			}
		}
		if image == "" && len(p.MediaGalleryEntries) > 0 {
			image = p.MediaGalleryEntries[0].File
		}
	}

	prod := models.Product{
		ProductID:      p.ID,
		SKU:            p.SKU,
		Name:           p.Name,
		Status:         p.Status,
		Visibility:     p.Visibility,
		TypeID:         p.TypeID,
		AttributeSetID: p.AttributeSetID,
		Price:          p.Price,
		SpecialPrice:   parseDecimal(p.CustomAttributes.Get("special_price")),
		Cost:           parseDecimal(p.CustomAttributes.Get("cost")),
		Weight:         parseDecimal(p.CustomAttributes.Get("weight")),
		Brand:          brand,
		URLKey:         p.CustomAttributes.Get("url_key"),
		Image:          image,
		CreatedAt:      ParseTime(p.CreatedAt),
		UpdatedAt:      ParseTime(p.UpdatedAt),
		CategoryIDs:    []int64{},
	}
	if s := p.ExtensionAttributes.StockItem; s != nil {
		prod.StockQty = s.Qty
		prod.InStock = s.IsInStock
	}
	for _, link := range p.ExtensionAttributes.CategoryLinks {
		if id, ok := parseInt64(link.CategoryID.String()); ok {
			prod.CategoryIDs = append(prod.CategoryIDs, id)
		}
	}
	return prod, nil
}

func (c CategoryDTO) ToModel() (models.Category, error) {
	if c.ID <= 0 {
		return models.Category{}, &syncerr.MissingNaturalKeyError{Entity: "category", Key: "id", Ref: c.Name}
	}
	return models.Category{
		CategoryID:      c.ID,
		ParentID:        c.ParentID,
		Path:            c.Path,
		Level:           c.Level,
		Position:        c.Position,
		IsActive:        c.IsActive,
		Name:            c.Name,
		URLKey:          c.CustomAttributes.Get("url_key"),
		URLPath:         c.CustomAttributes.Get("url_path"),
		Image:           c.CustomAttributes.Get("image"),
		IncludeInMenu:   c.IncludeInMenu,
		ChildrenCount:   c.ChildrenCount,
		MetaTitle:       c.CustomAttributes.Get("meta_title"),
		MetaKeywords:    c.CustomAttributes.Get("meta_keywords"),
		MetaDescription: c.CustomAttributes.Get("meta_description"),
		CreatedAt:       ParseTime(c.CreatedAt),
		UpdatedAt:       ParseTime(c.UpdatedAt),
	}, nil
}
