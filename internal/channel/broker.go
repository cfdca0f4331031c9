package channel

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Guizzs26/shop-sync/internal/models"
)

const BrokerName = "broker"

// Publisher sends contact events with publisher confirms
type Publisher interface {
	PublishContactEvent(ctx context.Context, ev models.ContactEvent) error
}

// Broker announces every dispatch as a contact.dispatched event
type Broker struct {
	pub     Publisher
	channel string
}

// NewBroker publishes events tagged with the name of the primary channel
func NewBroker(pub Publisher, primary string) *Broker {
	return &Broker{pub: pub, channel: primary}
}

func (b *Broker) Name() string { return BrokerName }

func (b *Broker) Send(ctx context.Context, req Request) Result {
	ev := models.ContactEvent{
		EventID:   uuid.NewString(),
		RemoteID:  req.RemoteID,
		Email:     req.Email(),
		Channel:   b.channel,
		ContactID: req.ContactID,
		Fields:    req.Fields,
		Tags:      req.Payload.Tags,
		Timestamp: time.Now().UTC(),
	}
	if err := b.pub.PublishContactEvent(ctx, ev); err != nil {
		return Retry(err)
	}
	return OK(ev.EventID)
}
