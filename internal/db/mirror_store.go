package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Guizzs26/shop-sync/internal/mapper"
	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/internal/syncerr"
	"github.com/Guizzs26/shop-sync/pkg/metrics"
)

var (
	orderUpsert = mapper.NewUpsertBuilder("orders", "entity_id").
		Merge("customer_id", mapper.Coalesce).
		Touch("synced_at")

	customerUpsert = mapper.NewUpsertBuilder("customers", "email").
		Merge("first_seen_at", mapper.Least).
		Merge("phone", mapper.Coalesce).
		Merge("customer_id", mapper.Coalesce).
		Merge("orders_count", mapper.Greatest).
		Merge("last_order_at", mapper.Greatest).
		Touch("synced_at")

	itemUpsert     = mapper.NewUpsertBuilder("order_items", "order_entity_id", "item_id").Touch("synced_at")
	productUpsert  = mapper.NewUpsertBuilder("products", "product_id").Touch("synced_at")
	categoryUpsert = mapper.NewUpsertBuilder("categories", "category_id").Touch("synced_at")
)

// MirrorStore writes and reads the local copy of source entities.
// Write failures are contained: they are logged, counted and reported as false.
type MirrorStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func (s *MirrorStore) UpsertOrder(ctx context.Context, o models.Order) bool {
	return s.upsert(ctx, orderUpsert, "orders", fmt.Sprint(o.EntityID), map[string]any{
		"entity_id":      o.EntityID,
		"increment_id":   o.IncrementID,
		"store_id":       o.StoreID,
		"customer_id":    o.CustomerID,
		"customer_email": o.CustomerEmail,
		"status":         o.Status,
		"grand_total":    o.GrandTotal,
		"currency_code":  o.CurrencyCode,
		"created_at":     o.CreatedAt,
		"updated_at":     o.UpdatedAt,
	})
}

func (s *MirrorStore) UpsertCustomer(ctx context.Context, c models.Customer) bool {
	return s.upsert(ctx, customerUpsert, "customers", c.Email, map[string]any{
		"email":         c.Email,
		"customer_id":   c.CustomerID,
		"first_name":    c.FirstName,
		"last_name":     c.LastName,
		"full_name":     c.FullName,
		"phone":         c.Phone,
		"first_seen_at": c.FirstSeenAt,
		"last_order_at": c.LastOrderAt,
		"orders_count":  c.OrdersCount,
	})
}

func (s *MirrorStore) UpsertItem(ctx context.Context, it models.OrderItem) bool {
	return s.upsert(ctx, itemUpsert, "order_items", fmt.Sprintf("%d/%d", it.OrderEntityID, it.ItemID), map[string]any{
		"order_entity_id":    it.OrderEntityID,
		"item_id":            it.ItemID,
		"sku":                it.SKU,
		"product_id":         it.ProductID,
		"product_name":       it.ProductName,
		"qty_ordered":        it.QtyOrdered,
		"price":              it.Price,
		"row_total":          it.RowTotal,
		"price_incl_tax":     it.PriceInclTax,
		"row_total_incl_tax": it.RowTotalInclTax,
		"created_at":         it.CreatedAt,
	})
}

func (s *MirrorStore) UpsertProduct(ctx context.Context, p models.Product) bool {
	return s.upsert(ctx, productUpsert, "products", fmt.Sprint(p.ProductID), map[string]any{
		"product_id":       p.ProductID,
		"sku":              p.SKU,
		"name":             p.Name,
		"status":           p.Status,
		"visibility":       p.Visibility,
		"type_id":          p.TypeID,
		"attribute_set_id": p.AttributeSetID,
		"price":            p.Price,
		"special_price":    p.SpecialPrice,
		"cost":             p.Cost,
		"weight":           p.Weight,
		"brand":            p.Brand,
		"url_key":          p.URLKey,
		"image":            p.Image,
		"stock_qty":        p.StockQty,
		"is_in_stock":      p.InStock,
		"categories_json":  p.CategoryIDs,
		"created_at":       p.CreatedAt,
		"updated_at":       p.UpdatedAt,
	})
}

func (s *MirrorStore) UpsertCategory(ctx context.Context, c models.Category) bool {
	return s.upsert(ctx, categoryUpsert, "categories", fmt.Sprint(c.CategoryID), map[string]any{
		"category_id":      c.CategoryID,
		"parent_id":        c.ParentID,
		"path":             c.Path,
		"level":            c.Level,
		"position":         c.Position,
		"is_active":        c.IsActive,
		"name":             c.Name,
		"url_key":          c.URLKey,
		"url_path":         c.URLPath,
		"image":            c.Image,
		"include_in_menu":  c.IncludeInMenu,
		"children_count":   c.ChildrenCount,
		"meta_title":       c.MetaTitle,
		"meta_keywords":    c.MetaKeywords,
		"meta_description": c.MetaDescription,
		"created_at":       c.CreatedAt,
		"updated_at":       c.UpdatedAt,
	})
}

func (s *MirrorStore) upsert(ctx context.Context, b *mapper.UpsertBuilder, table, key string, row map[string]any) bool {
	query, args, err := b.Build(row)
	if err == nil {
		_, err = s.pool.Exec(ctx, query, args...)
	}
	if err != nil {
		werr := &syncerr.WriteError{Table: table, Key: key, Err: err}
		s.logger.Error("Mirror write failed", "table", table, "key", key, "error", werr)
		metrics.MirrorWrites.WithLabelValues(table, "error").Inc()
		return false
	}
	metrics.MirrorWrites.WithLabelValues(table, "ok").Inc()
	return true
}

// RefreshCustomerStats recomputes orders_count and last_order_at of the
// given customers from the mirrored orders
func (s *MirrorStore) RefreshCustomerStats(ctx context.Context, emails []string) error {
	if len(emails) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE customers c
		SET orders_count = GREATEST(c.orders_count, agg.n),
		    last_order_at = GREATEST(c.last_order_at, agg.last_at),
		    synced_at = NOW()
		FROM (
			SELECT lower(customer_email) AS email, COUNT(*) AS n, MAX(created_at) AS last_at
			FROM orders
			WHERE lower(customer_email) = ANY($1)
			GROUP BY lower(customer_email)
		) agg
		WHERE c.email = agg.email
	`, emails)
	if err != nil {
		return fmt.Errorf("refresh customer stats: %w", err)
	}
	return nil
}

// OrdersPendingItems picks ingested orders whose lines were never stored and
// stamps the attempt. Orders tried least recently come first, so orders the
// source keeps failing rotate to the back instead of blocking the rest.
func (s *MirrorStore) OrdersPendingItems(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE orders SET items_tried_at = NOW()
		WHERE entity_id IN (
			SELECT o.entity_id
			FROM orders o
			JOIN queue_records q ON q.remote_id = o.entity_id AND q.state = 'done'
			WHERE o.items_synced_at IS NULL
			ORDER BY o.items_tried_at ASC NULLS FIRST, o.entity_id ASC
			LIMIT $1
			FOR UPDATE OF o SKIP LOCKED
		)
		RETURNING entity_id
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("select orders without items: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan orders without items: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *MirrorStore) MarkItemsSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE orders SET items_synced_at = NOW() WHERE entity_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("mark items synced: %w", err)
	}
	return nil
}

// Order reads one mirrored order header
func (s *MirrorStore) Order(ctx context.Context, id int64) (models.Order, bool, error) {
	var o models.Order
	var total *string
	var increment, email, status, currency *string
	err := s.pool.QueryRow(ctx, `
		SELECT entity_id, increment_id, store_id, customer_id, customer_email, status,
		       grand_total::text, currency_code, created_at, updated_at
		FROM orders WHERE entity_id = $1
	`, id).Scan(&o.EntityID, &increment, &o.StoreID, &o.CustomerID, &email, &status,
		&total, &currency, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, false, nil
	}
	if err != nil {
		return models.Order{}, false, fmt.Errorf("read order %d: %w", id, err)
	}
	o.IncrementID = deref(increment)
	o.CustomerEmail = deref(email)
	o.Status = deref(status)
	o.CurrencyCode = deref(currency)
	o.GrandTotal = nullDecimal(total)
	return o, true, nil
}

// Customer finds a customer by email first, then by source customer id
func (s *MirrorStore) Customer(ctx context.Context, email string, customerID *int64) (models.Customer, bool, error) {
	const cols = `email, customer_id, first_name, last_name, full_name, phone, first_seen_at, last_order_at, orders_count`
	if email != "" {
		c, ok, err := s.scanCustomer(s.pool.QueryRow(ctx, `SELECT `+cols+` FROM customers WHERE email = lower($1)`, email))
		if err != nil || ok {
			return c, ok, err
		}
	}
	if customerID != nil {
		return s.scanCustomer(s.pool.QueryRow(ctx,
			`SELECT `+cols+` FROM customers WHERE customer_id = $1 ORDER BY synced_at DESC LIMIT 1`, *customerID))
	}
	return models.Customer{}, false, nil
}

func (s *MirrorStore) scanCustomer(row pgx.Row) (models.Customer, bool, error) {
	var c models.Customer
	var first, last, full *string
	err := row.Scan(&c.Email, &c.CustomerID, &first, &last, &full, &c.Phone, &c.FirstSeenAt, &c.LastOrderAt, &c.OrdersCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Customer{}, false, nil
	}
	if err != nil {
		return models.Customer{}, false, fmt.Errorf("read customer: %w", err)
	}
	c.FirstName, c.LastName, c.FullName = deref(first), deref(last), deref(full)
	return c, true, nil
}

// OrderLines resolves the mirrored lines of an order against products,
// matching by product id and falling back to sku
func (s *MirrorStore) OrderLines(ctx context.Context, orderID int64) ([]models.LineProduct, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(NULLIF(p.name, ''), i.product_name, ''),
		       COALESCE(i.sku, ''),
		       COALESCE(p.url_key, ''),
		       COALESCE(p.image, ''),
		       COALESCE(p.categories_json, '[]'::jsonb)
		FROM order_items i
		LEFT JOIN LATERAL (
			SELECT name, url_key, image, categories_json
			FROM products pr
			WHERE pr.product_id = i.product_id OR (pr.sku = i.sku AND i.sku <> '')
			ORDER BY (pr.product_id = i.product_id) DESC NULLS LAST
			LIMIT 1
		) p ON TRUE
		WHERE i.order_entity_id = $1
		ORDER BY i.item_id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("read lines of order %d: %w", orderID, err)
	}
	defer rows.Close()

	var out []models.LineProduct
	for rows.Next() {
		var l models.LineProduct
		var cats []byte
		if err := rows.Scan(&l.Name, &l.SKU, &l.URLKey, &l.Image, &cats); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		if err := json.Unmarshal(cats, &l.CategoryIDs); err != nil {
			s.logger.Warn("Ignoring unreadable product categories", "order", orderID, "sku", l.SKU, "error", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CategoryNames maps category ids to their names, unknown ids omitted
func (s *MirrorStore) CategoryNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := map[int64]string{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT category_id, COALESCE(name, '') FROM categories WHERE category_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("read category names: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out[id] = name
	}
	return out, rows.Err()
}

// PurchaseHistory counts and sums every mirrored order of email
func (s *MirrorStore) PurchaseHistory(ctx context.Context, email string) (models.PurchaseHistory, error) {
	var h models.PurchaseHistory
	var sum string
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(grand_total), 0)::text
		FROM orders WHERE lower(customer_email) = lower($1)
	`, email).Scan(&h.Count, &sum)
	if err != nil {
		return h, fmt.Errorf("purchase history of %s: %w", email, err)
	}
	h.Amount, err = decimal.NewFromString(sum)
	if err != nil {
		return h, fmt.Errorf("parse purchase amount %q: %w", sum, err)
	}
	return h, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullDecimal(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
