// Package metrics defines the Prometheus instrumentation surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderCalls counts provider round-trips by provider name.
	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultbrain_provider_calls_total",
		Help: "Provider round-trips by provider.",
	}, []string{"provider"})

	// ProviderErrors counts in-band provider error events.
	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultbrain_provider_errors_total",
		Help: "Provider error events by provider.",
	}, []string{"provider"})

	// ToolExecutions counts tool executions by tool and outcome.
	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultbrain_tool_executions_total",
		Help: "Tool executions by tool name and status.",
	}, []string{"tool", "status"})

	// TurnsPerRequest observes provider round-trips used per chat request.
	TurnsPerRequest = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vaultbrain_turns_per_request",
		Help:    "Provider round-trips per chat request.",
		Buckets: []float64{1, 2, 3, 4, 5},
	})

	// TokensUsed counts tokens by provider and direction.
	TokensUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultbrain_tokens_total",
		Help: "Token usage by provider and direction (input/output).",
	}, []string{"provider", "direction"})
)
