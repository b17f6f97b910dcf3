// Package metrics holds the Prometheus collectors for the chat service.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChatRequestsTotal counts chat requests by HTTP status.
	ChatRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "piggy",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of chat requests",
		},
		[]string{"status"},
	)

	// LoopOutcomesTotal counts how conversation loops ended.
	LoopOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "piggy",
			Subsystem: "chat",
			Name:      "loop_outcomes_total",
			Help:      "Conversation loop terminations by outcome",
		},
		[]string{"outcome"},
	)

	// LoopRounds observes model-call rounds per loop.
	LoopRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "piggy",
			Subsystem: "chat",
			Name:      "loop_rounds",
			Help:      "Model-call rounds per conversation loop",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		},
	)

	// ToolCallsTotal counts tool executions.
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "piggy",
			Name:      "tool_calls_total",
			Help:      "Tool executions by tool and success",
		},
		[]string{"tool", "success"},
	)

	// ToolDuration observes tool execution latency.
	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "piggy",
			Name:      "tool_duration_seconds",
			Help:      "Tool execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 20},
		},
		[]string{"tool"},
	)

	// WeatherProviderTotal counts weather provider attempts.
	WeatherProviderTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "piggy",
			Name:      "weather_provider_total",
			Help:      "Weather provider attempts by provider and status",
		},
		[]string{"provider", "status"},
	)

	// BackgroundTasksTotal counts detached task completions.
	BackgroundTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "piggy",
			Name:      "background_tasks_total",
			Help:      "Background tasks by name and status",
		},
		[]string{"task", "status"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTool records one tool execution.
func RecordTool(tool string, success bool, seconds float64) {
	ToolCallsTotal.WithLabelValues(tool, strconv.FormatBool(success)).Inc()
	ToolDuration.WithLabelValues(tool).Observe(seconds)
}
