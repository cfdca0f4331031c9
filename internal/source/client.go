// Package source is the client of the upstream commerce REST API.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Guizzs26/shop-sync/internal/auth"
	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/internal/syncerr"
)

const (
	defaultTimeout = 25 * time.Second
	defaultRPS     = 5
	maxErrorBody   = 300
)

var listPaths = map[models.Resource]string{
	models.ResourceOrders:     "/V1/orders",
	models.ResourceCustomers:  "/V1/customers/search",
	models.ResourceProducts:   "/V1/products",
	models.ResourceCategories: "/V1/categories/list",
}

var listFields = map[models.Resource]string{
	models.ResourceOrders:     "items[entity_id],total_count",
	models.ResourceCustomers:  "items[id,email,firstname,lastname,created_at,updated_at,default_billing,default_shipping,addresses[id,telephone]],total_count",
	models.ResourceProducts:   "items[id,sku,name,status,visibility,type_id,attribute_set_id,price,created_at,updated_at,extension_attributes[stock_item[qty,is_in_stock],category_links[category_id]],media_gallery_entries[file,types],custom_attributes[attribute_code,value]],total_count",
	models.ResourceCategories: "items[id,parent_id,name,is_active,position,level,path,children_count,created_at,updated_at,include_in_menu,custom_attributes[attribute_code,value]],total_count",
}

const (
	orderDetailFields = "items[entity_id,increment_id,store_id,customer_id,customer_email,status,grand_total,order_currency_code,base_currency_code,global_currency_code,created_at,updated_at,billing_address[email]]"
	orderItemFields   = "items[entity_id,created_at,items[item_id,parent_item_id,sku,product_id,name,qty_ordered,price,row_total,price_incl_tax,row_total_incl_tax]]"
)

// Options configures the Client
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RPS        float64
	HTTPClient *http.Client
}

// Client issues list, total and bulk-by-id requests. Every call waits on
// the rate limiter and goes through the single-retry-on-401 auth client.
type Client struct {
	baseURL string
	http    *auth.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewClient(o Options, authorizer auth.Authorizer, logger *slog.Logger) *Client {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.RPS <= 0 {
		o.RPS = defaultRPS
	}
	hc := o.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: o.Timeout}
	}
	return &Client{
		baseURL: auth.NormalizeSourceBaseURL(o.BaseURL),
		http:    auth.NewClient(hc, authorizer),
		limiter: rate.NewLimiter(rate.Limit(o.RPS), 1),
		logger:  logger.With("component", "source_client"),
	}
}

// ListPage fetches one page of a resource
func (c *Client) ListPage(ctx context.Context, r models.Resource, page, size int) (Page, error) {
	path, ok := listPaths[r]
	if !ok {
		return Page{}, fmt.Errorf("no list endpoint for resource %q", r)
	}
	q := url.Values{}
	q.Set("searchCriteria[currentPage]", strconv.Itoa(page))
	q.Set("searchCriteria[pageSize]", strconv.Itoa(size))
	q.Set("fields", listFields[r])

	var body struct {
		Items      *[]json.RawMessage `json:"items"`
		TotalCount *int               `json:"total_count"`
	}
	if err := c.getJSON(ctx, string(r), path, q, &body); err != nil {
		return Page{}, err
	}
	if body.Items == nil && body.TotalCount == nil {
		return Page{}, &syncerr.MalformedResponseError{Op: string(r), Err: errors.New("missing items and total_count")}
	}

	p := Page{}
	if body.Items != nil {
		p.Items = *body.Items
	}
	if body.TotalCount != nil {
		p.TotalCount = *body.TotalCount
	}
	return p, nil
}

// TotalCount asks for a one-item page and returns total_count
func (c *Client) TotalCount(ctx context.Context, r models.Resource) (int, error) {
	p, err := c.ListPage(ctx, r, 1, 1)
	if err != nil {
		return 0, err
	}
	return p.TotalCount, nil
}

// OrdersByIDs returns the detail projection of every id the API knows about.
// Absent ids are simply not in the result.
func (c *Client) OrdersByIDs(ctx context.Context, ids []int64) ([]OrderDTO, error) {
	return c.ordersByIDs(ctx, "order_details", ids, orderDetailFields)
}

// OrderLinesByIDs returns the orders of ids with their line items only
func (c *Client) OrderLinesByIDs(ctx context.Context, ids []int64) ([]OrderDTO, error) {
	return c.ordersByIDs(ctx, "order_items", ids, orderItemFields)
}

func (c *Client) ordersByIDs(ctx context.Context, op string, ids []int64, fields string) ([]OrderDTO, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	csv := make([]string, len(ids))
	for i, id := range ids {
		csv[i] = strconv.FormatInt(id, 10)
	}

	q := url.Values{}
	q.Set("searchCriteria[filter_groups][0][filters][0][field]", "entity_id")
	q.Set("searchCriteria[filter_groups][0][filters][0][value]", strings.Join(csv, ","))
	q.Set("searchCriteria[filter_groups][0][filters][0][condition_type]", "in")
	q.Set("searchCriteria[currentPage]", "1")
	q.Set("searchCriteria[pageSize]", strconv.Itoa(len(ids)))
	q.Set("fields", fields)

	var body struct {
		Items *[]OrderDTO `json:"items"`
	}
	if err := c.getJSON(ctx, op, "/V1/orders", q, &body); err != nil {
		return nil, err
	}
	if body.Items == nil {
		return []OrderDTO{}, nil
	}
	return *body.Items, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &syncerr.TransportError{Op: op, Err: err}
	}

	target := c.baseURL + path + "?" + q.Encode()
	start := time.Now()
	resp, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug("source http response", "op", op, "status", resp.StatusCode, "latency", time.Since(start))

	if resp.StatusCode == http.StatusUnauthorized {
		return &syncerr.AuthError{Integration: models.IntegrationSource, Status: resp.StatusCode, Diagnostic: "unauthorized after token refresh"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &syncerr.UpstreamHTTPError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &syncerr.MalformedResponseError{Op: op, Err: err}
	}
	return nil
}
