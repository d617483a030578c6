// Package metrics holds the daemon's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuraldrift_requests_total",
			Help: "Total number of daemon API requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "neuraldrift_request_duration_seconds",
			Help: "Daemon API request duration in seconds",
		},
		[]string{"method", "route"},
	)

	Facts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neuraldrift_facts",
			Help: "Number of facts in the ledger",
		},
	)

	Topics = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neuraldrift_topics",
			Help: "Number of topics in the ledger",
		},
	)

	XP = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neuraldrift_xp",
			Help: "Current experience points",
		},
	)

	Level = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neuraldrift_level",
			Help: "Current level",
		},
	)

	Events = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuraldrift_events_total",
			Help: "Events published by the daemon",
		},
		[]string{"kind"},
	)

	LedgerReloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neuraldrift_ledger_reloads_total",
			Help: "Times the ledger was reloaded after an external write",
		},
	)

	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neuraldrift_stream_clients",
			Help: "Connected websocket event clients",
		},
	)
)
