// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wahala"

var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_rooms",
		Help:      "Rooms with a running actor.",
	})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_active_connections",
		Help:      "Open WebSocket connections.",
	})

	Messages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_messages_total",
		Help:      "WebSocket messages by direction and type.",
	}, []string{"direction", "type"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_rate_limited_total",
		Help:      "Inbound messages rejected by the per-connection rate limit.",
	})

	SlowClients = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_slow_clients_total",
		Help:      "Connections dropped because their send buffer was full.",
	})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "room_transitions_total",
		Help:      "Room phase transitions by target phase.",
	}, []string{"phase"})

	PlansComputed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_plans_total",
		Help:      "Settlement plans computed by reward mode.",
	}, []string{"mode"})

	Payouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payouts_total",
		Help:      "Payout transfer outcomes by status.",
	}, []string{"status"})

	OutboxDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "room_outbox_dropped_total",
		Help:      "Domain events dropped because a room outbox was full.",
	})

	MarketTrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "market_trades_total",
		Help:      "Prediction market trades by side.",
	}, []string{"side"})

	IndexFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "market_index_fallbacks_total",
		Help:      "Market totals served from the index because the chain could not be read.",
	})
)
