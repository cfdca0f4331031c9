package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandDuration tracks how long a consumed operator command takes end to end
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consumer_command_duration_seconds",
		Help:    "Time taken to run a command consumed from the broker",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"status", "action"}) // status: success, fatal_error, transient_error

	// CommandMessages tracks consumed broker messages by routing kind and outcome
	CommandMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_messages_total",
		Help: "Total number of messages consumed from the broker",
	}, []string{"kind", "status"})
)
