package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchPages counts page/chunk requests against the source API by outcome
	FetchPages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_fetch_pages_total",
		Help: "Page and bulk chunk requests issued against the source API",
	}, []string{"resource", "status"}) // status: ok, empty, error

	// MirrorWrites tracks local upserts; errors here are contained, not fatal
	MirrorWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_mirror_writes_total",
		Help: "Local mirror upserts by table and outcome",
	}, []string{"table", "status"})

	// QueueTransitions counts records moved into a state
	QueueTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_queue_transitions_total",
		Help: "Queue records moved into a state",
	}, []string{"lifecycle", "state"})

	// DispatchResults counts dispatch outcomes per channel
	DispatchResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_dispatch_results_total",
		Help: "Dispatch outcomes per channel (ok, retry, fatal)",
	}, []string{"channel", "status"})

	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_dispatch_duration_seconds",
		Help:    "Time spent reconciling one record downstream",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"channel"})

	// TokenGrants counts network grant attempts; cache hits are not counted
	TokenGrants = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_token_grants_total",
		Help: "Token grant requests by integration, grant type and outcome",
	}, []string{"integration", "grant", "status"})

	// LeaseSkips counts scheduler ticks dropped because the lease was held
	LeaseSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_lease_skips_total",
		Help: "Scheduler ticks skipped because another run held the lease",
	}, []string{"job"})

	// ActionDuration measures every operator or scheduled action
	ActionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_action_duration_seconds",
		Help:    "Duration of fetch, dispatch and maintenance actions",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"action", "status"})

	// QueueBacklog exposes the queue size per ingestion state
	QueueBacklog = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sync_queue_records",
		Help: "Queue records per lifecycle and state",
	}, []string{"lifecycle", "state"})

	// BrokerReconnections counts how many times the broker link had to be restored
	BrokerReconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_broker_reconnections_total",
		Help: "Total number of RabbitMQ reconnection attempts",
	})

	// BrokerHealthy is 1 while the RabbitMQ connection and channel are open
	BrokerHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_broker_healthy",
		Help: "Current health of the RabbitMQ link (1 healthy, 0 down)",
	})
)
