package channel

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/shop-sync/internal/models"
)

type stubChannel struct{ name string }

func (s stubChannel) Name() string { return s.name }

func (s stubChannel) Send(context.Context, Request) Result { return OK("") }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubChannel{"mautic"}))
	require.NoError(t, r.Register(stubChannel{"file"}))
	assert.Error(t, r.Register(stubChannel{"mautic"}))
	assert.Error(t, r.Register(stubChannel{""}))

	primary, mirrors, err := r.Resolve("mautic", []string{"file", "mautic", ""})
	require.NoError(t, err)
	assert.Equal(t, "mautic", primary.Name())
	require.Len(t, mirrors, 1)
	assert.Equal(t, "file", mirrors[0].Name())

	_, _, err = r.Resolve("whatsapp", nil)
	assert.Error(t, err)
	_, _, err = r.Resolve("mautic", []string{"nope"})
	assert.Error(t, err)

	assert.Equal(t, []string{"file", "mautic"}, r.Names())
}

func TestFile_WritesOneDocumentPerDispatch(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(filepath.Join(dir, "out"))
	f.now = func() time.Time { return time.Unix(1700000000, 0) }

	req := sampleRequest()
	res := f.Send(context.Background(), req)
	require.Equal(t, StatusOK, res.Status, res.Err)

	data, err := os.ReadFile(filepath.Join(dir, "out", res.ContactID))
	require.NoError(t, err)

	var doc fileDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, int64(10), doc.RemoteID)
	assert.Equal(t, "ana@shop.com", doc.Email)
	assert.Equal(t, []string{"magento", "vip"}, doc.Tags)
	assert.Equal(t, "Order 10", doc.Note)

	entries, err := os.ReadDir(filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

type fakePublisher struct {
	events []models.ContactEvent
	err    error
}

func (p *fakePublisher) PublishContactEvent(_ context.Context, ev models.ContactEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func TestBroker_PublishesContactEvent(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBroker(pub, "mautic")

	req := sampleRequest()
	req.ContactID = "77"
	res := b.Send(context.Background(), req)

	require.Equal(t, StatusOK, res.Status)
	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, res.ContactID, ev.EventID)
	assert.Equal(t, "mautic", ev.Channel)
	assert.Equal(t, "77", ev.ContactID)
	assert.Equal(t, "ana@shop.com", ev.Email)
	assert.Equal(t, int64(10), ev.RemoteID)

	pub.err = errors.New("nack")
	assert.Equal(t, StatusRetry, b.Send(context.Background(), req).Status)
}
