// Package metrics exposes the gateway's Prometheus surface: request,
// tool-error, composite-step and upstream-call counters, a tools/call
// duration histogram, and session/stream gauges, served as plain text at
// the configured metrics path.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns an isolated Prometheus registry (rather than the global
// DefaultRegisterer) so a test process can construct more than one without
// a "duplicate metrics collector registration" panic.
type Registry struct {
	reg *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolCallErrors   *prometheus.CounterVec
	compositeSteps   *prometheus.CounterVec
	upstreamRequests *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	activeStreams    prometheus.Gauge
	oauthExchanges   *prometheus.CounterVec
}

// New builds a Registry with every collector registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Registry{
		reg: reg,

		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_mcp_requests_total",
			Help: "Total JSON-RPC requests handled, by method and outcome.",
		}, []string{"method", "outcome"}),

		toolCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_tool_call_duration_seconds",
			Help:    "Duration of tools/call dispatch, by tool name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),

		toolCallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tool_call_errors_total",
			Help: "Total tools/call failures, by tool name and error kind.",
		}, []string{"tool", "kind"}),

		compositeSteps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_composite_steps_total",
			Help: "Total composite tool steps executed, by tool and outcome.",
		}, []string{"tool", "outcome"}),

		upstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_upstream_requests_total",
			Help: "Total upstream HTTP requests, by operationId and status class.",
		}, []string{"operation_id", "status_class"}),

		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_active_sessions",
			Help: "Current number of live MCP sessions.",
		}),

		activeStreams: f.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_active_streams",
			Help: "Current number of open SSE connections.",
		}),

		oauthExchanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_oauth_exchanges_total",
			Help: "Total OAuth code/refresh exchanges, by grant type and outcome.",
		}, []string{"grant_type", "outcome"}),
	}
}

// Handler serves the registry's collected metrics in Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) RecordRequest(method string, outcome string) {
	r.requestsTotal.WithLabelValues(method, outcome).Inc()
}

func (r *Registry) ObserveToolCall(tool string, seconds float64) {
	r.toolCallDuration.WithLabelValues(tool).Observe(seconds)
}

func (r *Registry) RecordToolCallError(tool string, kind string) {
	r.toolCallErrors.WithLabelValues(tool, kind).Inc()
}

func (r *Registry) RecordCompositeStep(tool string, outcome string) {
	r.compositeSteps.WithLabelValues(tool, outcome).Inc()
}

func (r *Registry) RecordUpstreamRequest(operationID string, statusClass string) {
	r.upstreamRequests.WithLabelValues(operationID, statusClass).Inc()
}

func (r *Registry) SetActiveSessions(n int) {
	r.activeSessions.Set(float64(n))
}

func (r *Registry) SetActiveStreams(n int) {
	r.activeStreams.Set(float64(n))
}

func (r *Registry) RecordOAuthExchange(grantType string, outcome string) {
	r.oauthExchanges.WithLabelValues(grantType, outcome).Inc()
}
