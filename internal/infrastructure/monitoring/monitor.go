// Package monitoring exposes the process metrics over a private prometheus
// registry, mounted at /metrics by the HTTP server.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor owns the metric families. It implements the gateway's Metrics
// interface, so every provider call and error lands here.
type Monitor struct {
	registry *prometheus.Registry
	started  time.Time

	requests       *prometheus.CounterVec
	llmCalls       *prometheus.CounterVec
	llmErrors      *prometheus.CounterVec
	toolCalls      *prometheus.CounterVec
	toolLatency    prometheus.Histogram
	activeSessions prometheus.Gauge
}

func NewMonitor() *Monitor {
	reg := prometheus.NewRegistry()
	m := &Monitor{
		registry: reg,
		started:  time.Now(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "salmalm_requests_total",
			Help: "Inbound requests by channel.",
		}, []string{"channel"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "salmalm_llm_calls_total",
			Help: "Provider calls by provider, model, and cache hit.",
		}, []string{"provider", "model", "cached"}),
		llmErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "salmalm_llm_errors_total",
			Help: "Failed provider calls by provider.",
		}, []string{"provider"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "salmalm_tool_calls_total",
			Help: "Tool executions by tool and outcome.",
		}, []string{"tool", "success"}),
		toolLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "salmalm_tool_latency_seconds",
			Help:    "Tool execution latency.",
			Buckets: prometheus.DefBuckets,
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "salmalm_active_sessions",
			Help: "Currently connected live sessions (websocket + SSE).",
		}),
	}
	reg.MustRegister(
		m.requests, m.llmCalls, m.llmErrors, m.toolCalls, m.toolLatency,
		m.activeSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// LLMCall records one provider call. Implements the gateway Metrics surface.
func (m *Monitor) LLMCall(provider, model string, cached bool) {
	m.llmCalls.WithLabelValues(provider, model, strconv.FormatBool(cached)).Inc()
}

// LLMError records a failed provider call.
func (m *Monitor) LLMError(provider string) {
	m.llmErrors.WithLabelValues(provider).Inc()
}

// Request counts one inbound request on a channel ("http", "ws", "telegram",
// "cli", "cron").
func (m *Monitor) Request(channel string) {
	m.requests.WithLabelValues(channel).Inc()
}

// ToolCall records one tool execution.
func (m *Monitor) ToolCall(tool string, success bool, elapsed time.Duration) {
	m.toolCalls.WithLabelValues(tool, strconv.FormatBool(success)).Inc()
	m.toolLatency.Observe(elapsed.Seconds())
}

// SessionOpened / SessionClosed track live connections.
func (m *Monitor) SessionOpened() { m.activeSessions.Inc() }
func (m *Monitor) SessionClosed() { m.activeSessions.Dec() }

// Uptime reports how long the process has been running.
func (m *Monitor) Uptime() time.Duration { return time.Since(m.started) }

// Handler serves the prometheus exposition endpoint.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
