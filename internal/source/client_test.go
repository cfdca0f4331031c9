package source

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/shop-sync/internal/auth"
	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/internal/syncerr"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(Options{BaseURL: srv.URL, RPS: 1000}, auth.Bearer{Token: "t0k"}, logger)
}

func TestListPage_SendsCriteriaAndParsesPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/V1/orders", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("searchCriteria[currentPage]"))
		assert.Equal(t, "200", r.URL.Query().Get("searchCriteria[pageSize]"))
		assert.Equal(t, "items[entity_id],total_count", r.URL.Query().Get("fields"))
		assert.Equal(t, "Bearer t0k", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"items":[{"entity_id":1},{"entity_id":2}],"total_count":950}`)
	})

	page, err := c.ListPage(context.Background(), models.ResourceOrders, 3, 200)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 950, page.TotalCount)
}

func TestListPage_EmptyItemsIsNotMalformed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"items":[],"total_count":0}`)
	})

	page, err := c.ListPage(context.Background(), models.ResourceCustomers, 1, 50)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestListPage_MalformedBodies(t *testing.T) {
	for name, body := range map[string]string{
		"not json":     `<html>maintenance</html>`,
		"missing keys": `{"message":"ok"}`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, body)
			})
			_, err := c.ListPage(context.Background(), models.ResourceProducts, 1, 50)
			var malformed *syncerr.MalformedResponseError
			assert.ErrorAs(t, err, &malformed)
			assert.True(t, syncerr.IsRetryable(err))
		})
	}
}

func TestListPage_UpstreamErrorCarriesStatusAndSnippet(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream down")
	})

	_, err := c.ListPage(context.Background(), models.ResourceCategories, 1, 50)
	var upstream *syncerr.UpstreamHTTPError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusBadGateway, upstream.Status)
	assert.Equal(t, "upstream down", upstream.Body)
}

func TestListPage_PersistentUnauthorizedIsAuthError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.ListPage(context.Background(), models.ResourceOrders, 1, 50)
	assert.True(t, syncerr.IsAuth(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestTotalCount_UsesSingleItemPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("searchCriteria[pageSize]"))
		_, _ = io.WriteString(w, `{"items":[{"id":9}],"total_count":1234}`)
	})

	n, err := c.TotalCount(context.Background(), models.ResourceProducts)
	require.NoError(t, err)
	assert.Equal(t, 1234, n)
}

func TestOrdersByIDs_BuildsInFilter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "entity_id", q.Get("searchCriteria[filter_groups][0][filters][0][field]"))
		assert.Equal(t, "10,11,12", q.Get("searchCriteria[filter_groups][0][filters][0][value]"))
		assert.Equal(t, "in", q.Get("searchCriteria[filter_groups][0][filters][0][condition_type]"))
		assert.Equal(t, "3", q.Get("searchCriteria[pageSize]"))
		_, _ = io.WriteString(w, `{"items":[
			{"entity_id":10,"increment_id":"000000010","customer_email":"A@Example.com","status":"processing","grand_total":"99.90"},
			{"entity_id":12,"increment_id":"000000012","customer_email":"b@example.com","status":"complete","grand_total":12}
		],"total_count":2}`)
	})

	orders, err := c.OrdersByIDs(context.Background(), []int64{10, 11, 12})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, int64(10), orders[0].EntityID)
	assert.Equal(t, "99.9", orders[0].GrandTotal.Decimal.String())
	assert.Equal(t, int64(12), orders[1].EntityID)
}

func TestOrdersByIDs_EmptyInputSkipsRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	orders, err := c.OrdersByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, orders)
}
