package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/shop-sync/internal/cache"
	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/internal/source"
	"github.com/Guizzs26/shop-sync/internal/syncerr"
	"github.com/Guizzs26/shop-sync/pkg/infra"
)

type fakeSource struct {
	orderIDs   []int64
	listErr    map[int]error
	listCalls  []int
	detailErr  error
	detailSkip map[int64]bool
	bulkCalls  [][]int64
	totalCalls int
	customers  []string
}

func (s *fakeSource) ListPage(_ context.Context, r models.Resource, page, size int) (source.Page, error) {
	s.listCalls = append(s.listCalls, page)
	if err := s.listErr[page]; err != nil {
		return source.Page{}, err
	}
	var raw []string
	switch r {
	case models.ResourceOrders:
		for _, id := range s.orderIDs {
			raw = append(raw, fmt.Sprintf(`{"entity_id":%d}`, id))
		}
	case models.ResourceCustomers:
		raw = s.customers
	}
	p := source.Page{TotalCount: len(raw)}
	start := (page - 1) * size
	for i := start; i < len(raw) && i < start+size; i++ {
		p.Items = append(p.Items, json.RawMessage(raw[i]))
	}
	return p, nil
}

func (s *fakeSource) TotalCount(context.Context, models.Resource) (int, error) {
	s.totalCalls++
	return len(s.orderIDs), nil
}

func (s *fakeSource) OrdersByIDs(_ context.Context, ids []int64) ([]source.OrderDTO, error) {
	s.bulkCalls = append(s.bulkCalls, ids)
	if s.detailErr != nil {
		return nil, s.detailErr
	}
	var out []source.OrderDTO
	for _, id := range ids {
		if s.detailSkip[id] {
			continue
		}
		out = append(out, source.OrderDTO{EntityID: id, IncrementID: fmt.Sprintf("%09d", id), CustomerEmail: "c@x.com", Status: "complete"})
	}
	return out, nil
}

func (s *fakeSource) OrderLinesByIDs(_ context.Context, ids []int64) ([]source.OrderDTO, error) {
	var out []source.OrderDTO
	for _, id := range ids {
		out = append(out, source.OrderDTO{EntityID: id, Items: []source.ItemDTO{{ItemID: id * 10, SKU: "A"}, {ItemID: id*10 + 1, SKU: "B"}}})
	}
	return out, nil
}

type fakeCursors struct {
	cur map[models.Resource]models.Cursor
}

func (c *fakeCursors) Get(_ context.Context, r models.Resource) (models.Cursor, error) {
	if cur, ok := c.cur[r]; ok {
		return cur, nil
	}
	return models.NewCursor(r), nil
}

func (c *fakeCursors) Set(_ context.Context, r models.Resource, page, size int) error {
	c.cur[r] = models.Cursor{Resource: r, Page: page, PageSize: size}.Clamp()
	return nil
}

type fakeQueue struct {
	order   []int64
	state   map[int64]models.State
	reason  map[int64]string
	seedErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{state: map[int64]models.State{}, reason: map[int64]string{}}
}

func (q *fakeQueue) Seed(_ context.Context, ids []int64) (int, error) {
	if q.seedErr != nil {
		return 0, q.seedErr
	}
	n := 0
	for _, id := range ids {
		if _, ok := q.state[id]; ok {
			continue
		}
		q.state[id] = models.StatePending
		q.order = append(q.order, id)
		n++
	}
	return n, nil
}

func (q *fakeQueue) ClaimPending(_ context.Context, n int) ([]int64, error) {
	var out []int64
	for _, id := range q.order {
		if len(out) == n {
			break
		}
		if q.state[id] == models.StatePending {
			q.state[id] = models.StateFetching
			out = append(out, id)
		}
	}
	return out, nil
}

func (q *fakeQueue) MarkDone(_ context.Context, id int64, _ json.RawMessage) error {
	q.state[id] = models.StateDone
	return nil
}

func (q *fakeQueue) MarkError(_ context.Context, ids []int64, reason string) error {
	for _, id := range ids {
		q.state[id] = models.StateError
		q.reason[id] = reason
	}
	return nil
}

func (q *fakeQueue) RevertToPending(_ context.Context, ids []int64) error {
	for _, id := range ids {
		if q.state[id] == models.StateFetching {
			q.state[id] = models.StatePending
		}
	}
	return nil
}

func (q *fakeQueue) count(s models.State) int {
	n := 0
	for _, st := range q.state {
		if st == s {
			n++
		}
	}
	return n
}

type fakeMirror struct {
	orders    map[int64]models.Order
	customers map[string]models.Customer
	items     int
	failOrder int64
	synced    []int64
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{orders: map[int64]models.Order{}, customers: map[string]models.Customer{}}
}

func (m *fakeMirror) UpsertOrder(_ context.Context, o models.Order) bool {
	if o.EntityID == m.failOrder {
		return false
	}
	m.orders[o.EntityID] = o
	return true
}

func (m *fakeMirror) UpsertCustomer(_ context.Context, c models.Customer) bool {
	m.customers[c.Email] = c
	return true
}

func (m *fakeMirror) UpsertItem(context.Context, models.OrderItem) bool {
	m.items++
	return true
}

func (m *fakeMirror) UpsertProduct(context.Context, models.Product) bool   { return true }
func (m *fakeMirror) UpsertCategory(context.Context, models.Category) bool { return true }

func (m *fakeMirror) RefreshCustomerStats(context.Context, []string) error { return nil }

func (m *fakeMirror) OrdersPendingItems(_ context.Context, limit int) ([]int64, error) {
	var ids []int64
	for id := range m.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *fakeMirror) MarkItemsSynced(_ context.Context, ids []int64) error {
	m.synced = append(m.synced, ids...)
	return nil
}

type recordingPacer struct {
	waits map[infra.Phase]int
}

func (p *recordingPacer) Wait(_ context.Context, phase infra.Phase) error {
	p.waits[phase]++
	return nil
}

type harness struct {
	src     *fakeSource
	cursors *fakeCursors
	queue   *fakeQueue
	mirror  *fakeMirror
	pacer   *recordingPacer
	f       *Fetcher
}

func newHarness(src *fakeSource) *harness {
	h := &harness{
		src:     src,
		cursors: &fakeCursors{cur: map[models.Resource]models.Cursor{}},
		queue:   newFakeQueue(),
		mirror:  newFakeMirror(),
		pacer:   &recordingPacer{waits: map[infra.Phase]int{}},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.f = New(src, h.cursors, h.queue, h.mirror, h.pacer, DefaultChunkSize, logger)
	return h
}

func ids(from, to int64) []int64 {
	var out []int64
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestFetchCycle_SeedsWholePages(t *testing.T) {
	h := newHarness(&fakeSource{orderIDs: ids(1, 250)})

	res, err := h.f.FetchCycle(context.Background(), models.ResourceOrders, 250)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, h.src.listCalls)
	assert.Equal(t, 250, res.Seen)
	assert.Equal(t, 250, res.Upserted)
	assert.Equal(t, 3, h.cursors.cur[models.ResourceOrders].Page)
	assert.Equal(t, 1, h.pacer.waits[infra.PhaseBetweenPages])
	assert.Equal(t, 250, h.queue.count(models.StatePending))
	assert.Contains(t, res.Summary(), "seen 250 / inserted 250")
}

func TestFetchCycle_ReseedingNeverDuplicates(t *testing.T) {
	h := newHarness(&fakeSource{orderIDs: ids(1, 100)})
	_, err := h.f.FetchCycle(context.Background(), models.ResourceOrders, 200)
	require.NoError(t, err)
	h.cursors.cur[models.ResourceOrders] = models.NewCursor(models.ResourceOrders)

	res, err := h.f.FetchCycle(context.Background(), models.ResourceOrders, 200)
	require.NoError(t, err)
	assert.Equal(t, 100, res.Seen)
	assert.Equal(t, 0, res.Upserted)
	assert.Len(t, h.queue.state, 100)
}

func TestFetchCycle_EmptyPageWrapsCursor(t *testing.T) {
	h := newHarness(&fakeSource{orderIDs: ids(1, 10)})
	h.cursors.cur[models.ResourceOrders] = models.Cursor{Page: 4, PageSize: 200}

	res, err := h.f.FetchCycle(context.Background(), models.ResourceOrders, 600)
	require.NoError(t, err)
	assert.True(t, res.Wrapped)
	assert.Equal(t, 1, h.cursors.cur[models.ResourceOrders].Page)
	assert.Equal(t, []int{4}, h.src.listCalls)
}

func TestFetchCycle_StopsOnFailedPageWithoutAdvancing(t *testing.T) {
	h := newHarness(&fakeSource{
		orderIDs: ids(1, 1000),
		listErr:  map[int]error{2: &syncerr.UpstreamHTTPError{Op: "orders", Status: 502}},
	})

	res, err := h.f.FetchCycle(context.Background(), models.ResourceOrders, 600)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 200, res.Seen)
	assert.Equal(t, 2, h.cursors.cur[models.ResourceOrders].Page)
}

func TestFetchCycle_SeedFailureKeepsCursorOnPage(t *testing.T) {
	h := newHarness(&fakeSource{orderIDs: ids(1, 1000)})
	h.cursors.cur[models.ResourceOrders] = models.Cursor{Page: 2, PageSize: 200}
	h.queue.seedErr = errors.New("connection reset")

	res, err := h.f.FetchCycle(context.Background(), models.ResourceOrders, 600)
	require.NoError(t, err)
	assert.Equal(t, 200, res.Errors)
	assert.Contains(t, res.LastErr, "connection reset")
	assert.Equal(t, []int{2}, h.src.listCalls)
	assert.Equal(t, 2, h.cursors.cur[models.ResourceOrders].Page, "unseeded page is fetched again next cycle")

	h.queue.seedErr = nil
	_, err = h.f.FetchCycle(context.Background(), models.ResourceOrders, 200)
	require.NoError(t, err)
	assert.Equal(t, 200, h.queue.count(models.StatePending))
}

func TestFetchCycle_AuthErrorPersistsCursorAndSurfaces(t *testing.T) {
	authErr := &syncerr.AuthError{Integration: models.IntegrationSource, Status: 401, Diagnostic: "bad credentials"}
	h := newHarness(&fakeSource{orderIDs: ids(1, 1000), listErr: map[int]error{3: authErr}})

	_, err := h.f.FetchCycle(context.Background(), models.ResourceOrders, 1000)
	require.ErrorIs(t, err, authErr)
	assert.Equal(t, 3, h.cursors.cur[models.ResourceOrders].Page)
}

func TestFetchCycle_CustomersWithoutEmailAreSkipped(t *testing.T) {
	h := newHarness(&fakeSource{customers: []string{
		`{"id":1,"email":"A@x.com"}`,
		`{"id":2,"email":""}`,
		`not json`,
	}})

	res, err := h.f.FetchCycle(context.Background(), models.ResourceCustomers, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Upserted)
	assert.Equal(t, 2, res.Skipped)
	assert.Contains(t, h.mirror.customers, "a@x.com")
}

func TestFetchDetails_MarksMissingIDsAsError(t *testing.T) {
	h := newHarness(&fakeSource{detailSkip: map[int64]bool{3: true, 17: true}})
	_, _ = h.queue.Seed(context.Background(), ids(1, 20))

	res, err := h.f.FetchDetails(context.Background(), 20)
	require.NoError(t, err)

	assert.Equal(t, 18, res.OK)
	assert.Equal(t, 2, res.Errors)
	assert.Len(t, h.src.bulkCalls, 1)
	assert.Equal(t, models.StateError, h.queue.state[3])
	assert.Equal(t, reasonNotReturned, h.queue.reason[17])
	assert.Equal(t, 18, h.queue.count(models.StateDone))
	assert.Equal(t, "Details: processed 20 (OK=18, errors=2).", res.Summary())
}

func TestFetchDetails_ChunksAndPaces(t *testing.T) {
	h := newHarness(&fakeSource{})
	_, _ = h.queue.Seed(context.Background(), ids(1, 45))

	res, err := h.f.FetchDetails(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 45, res.OK)
	require.Len(t, h.src.bulkCalls, 3)
	assert.Len(t, h.src.bulkCalls[2], 5)
	assert.Equal(t, 2, h.pacer.waits[infra.PhaseBetweenChunks])
}

func TestFetchDetails_FailedChunkAndWriteFailure(t *testing.T) {
	h := newHarness(&fakeSource{detailErr: errors.New("boom")})
	_, _ = h.queue.Seed(context.Background(), ids(1, 5))

	res, err := h.f.FetchDetails(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Errors)
	assert.Equal(t, "boom", h.queue.reason[1])

	h2 := newHarness(&fakeSource{})
	h2.mirror.failOrder = 2
	_, _ = h2.queue.Seed(context.Background(), ids(1, 3))
	res, err = h2.f.FetchDetails(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 2, res.OK)
	assert.Contains(t, h2.queue.reason[2], "write failed")
}

func TestFetchDetails_AuthErrorRevertsClaims(t *testing.T) {
	authErr := &syncerr.AuthError{Integration: models.IntegrationSource, Status: 401}
	h := newHarness(&fakeSource{detailErr: authErr})
	_, _ = h.queue.Seed(context.Background(), ids(1, 30))

	res, err := h.f.FetchDetails(context.Background(), 30)
	require.ErrorIs(t, err, authErr)
	assert.Equal(t, 30, res.Reverted)
	assert.Equal(t, 30, h.queue.count(models.StatePending))
}

func TestFetchItems_UpsertsTopLevelLines(t *testing.T) {
	h := newHarness(&fakeSource{})
	for _, id := range ids(1, 3) {
		h.mirror.orders[id] = models.Order{EntityID: id}
	}

	res, err := h.f.FetchItems(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Orders)
	assert.Equal(t, 6, res.Lines)
	assert.ElementsMatch(t, []int64{1, 2, 3}, h.mirror.synced)
}

func TestRemoteTotals_CachesCount(t *testing.T) {
	src := &fakeSource{orderIDs: ids(1, 42)}
	totals := NewRemoteTotals(src, cache.NewMemoryStore(), 0, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, cached, err := totals.Total(context.Background(), models.ResourceOrders)
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.False(t, cached)

	n, cached, err = totals.Total(context.Background(), models.ResourceOrders)
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.True(t, cached)
	assert.Equal(t, 1, src.totalCalls)
}

func TestChunks(t *testing.T) {
	assert.Nil(t, chunks(nil, 20))
	got := chunks(ids(1, 41), 20)
	require.Len(t, got, 3)
	assert.Len(t, got[0], 20)
	assert.Equal(t, []int64{41}, got[2])
}
