// Package metrics holds the engine's Prometheus collectors. They are
// registered with the default registry once, at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	BrokerCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_broker_calls_total",
		Help: "Broker calls by operation and outcome (ok, rejected, timeout, error)",
	}, []string{"op", "outcome"})

	BrokerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riskengine_broker_call_seconds",
		Help:    "Broker call latency by operation",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	PendingOrders = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "riskengine_pending_orders",
		Help: "Orders currently PENDING in the monitor",
	})

	OrderTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_order_transitions_total",
		Help: "Pending order status changes by new status",
	}, []string{"status"})

	BracketTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_bracket_transitions_total",
		Help: "Bracket status changes by new status",
	}, []string{"status"})

	LimitCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_limit_cache_total",
		Help: "Broker limit cache lookups (hit, miss, default, forced)",
	}, []string{"result"})

	LimitAdjustments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_limit_adjustments_total",
		Help: "Order values adjusted by the limit validator, by field",
	}, []string{"field"})
)

func init() {
	prometheus.MustRegister(
		BrokerCalls, BrokerLatency, PendingOrders,
		OrderTransitions, BracketTransitions,
		LimitCache, LimitAdjustments,
	)
}
