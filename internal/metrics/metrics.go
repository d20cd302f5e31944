// Package metrics provides Prometheus metrics for sdnctl.
//
// This package exposes:
// - Decisions by action and reason
// - Packets rejected at the observation boundary
// - Switch effect results (flood/install/drop, success/failure)
// - Decision latency
// - Configuration loads and reloads
//
// Metrics live on a dedicated Registry and are served by Handler when the
// metrics endpoint is enabled.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace is the Prometheus metrics namespace
	Namespace = "sdnctl"

	SubsystemController = "controller"
	SubsystemExecutor   = "executor"
	SubsystemProvider   = "provider"
)

var (
	registerOnce sync.Once

	// Registry holds every sdnctl metric
	Registry = prometheus.NewRegistry()

	// ---- Controller Metrics ----

	// DecisionsTotal counts decisions
	// Labels: action (FLOOD/ACCEPT/DROP), reason
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemController,
			Name:      "decisions_total",
			Help:      "Total number of packet decisions",
		},
		[]string{"action", "reason"},
	)

	// DecisionDuration measures classification, lookup and policy evaluation
	DecisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemController,
			Name:      "decision_duration_seconds",
			Help:      "Time taken to decide one packet in seconds",
			Buckets:   []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		},
	)

	// RejectedPacketsTotal counts observations rejected before the decision core
	// Labels: reason (incomplete/non_ip)
	RejectedPacketsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemController,
			Name:      "rejected_packets_total",
			Help:      "Total number of packet observations rejected at the boundary",
		},
		[]string{"reason"},
	)

	// ReloadsTotal counts snapshot swaps
	// Labels: result (success/failure)
	ReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemController,
			Name:      "reloads_total",
			Help:      "Total number of configuration reloads",
		},
		[]string{"result"},
	)

	// ---- Executor Metrics ----

	// EffectsTotal counts effects handed to the switch channel
	// Labels: effect (flood/install_forward/install_drop), result (success/failure)
	EffectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemExecutor,
			Name:      "effects_total",
			Help:      "Total number of switch effects issued",
		},
		[]string{"effect", "result"},
	)

	// ---- Provider Metrics ----

	// ProviderLoadDuration measures configuration loading
	// Labels: provider (yaml/script/mariadb), result (success/failure)
	ProviderLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemProvider,
			Name:      "load_duration_seconds",
			Help:      "Time taken to load the network spec in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"provider", "result"},
	)

	// DBConnectAttemptsTotal counts database connection attempts
	// Labels: result (success/failure)
	DBConnectAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemProvider,
			Name:      "db_connect_attempts_total",
			Help:      "Total number of database connection attempts",
		},
		[]string{"result"},
	)
)

// Register registers all metrics with Registry.
// This function is safe to call multiple times; metrics will only be registered once.
func Register() {
	registerOnce.Do(func() {
		Registry.MustRegister(DecisionsTotal)
		Registry.MustRegister(DecisionDuration)
		Registry.MustRegister(RejectedPacketsTotal)
		Registry.MustRegister(ReloadsTotal)

		Registry.MustRegister(EffectsTotal)

		Registry.MustRegister(ProviderLoadDuration)
		Registry.MustRegister(DBConnectAttemptsTotal)
	})
}

// Handler returns the /metrics HTTP handler for Registry
func Handler() http.Handler {
	Register()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
