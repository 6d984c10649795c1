// Package metrics keeps in-process counters exposed on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter names shared across packages.
const (
	HTTPRequests        = "http_requests_total"
	HTTPErrors          = "http_errors_total"
	ChatRequests        = "chat_requests_total"
	ChatCompletions     = "chat_stream_completions_total"
	ChatStreamErrors    = "chat_stream_errors_total"
	LLMRequests         = "llm_requests_total"
	LLMNotConfigured    = "llm_not_configured_total"
	RateLimitedRequests = "rate_limited_requests_total"
	RAGErrors           = "rag_errors_total"
	ToolCalls           = "tool_calls_total"
	ToolErrors          = "tool_errors_total"
	UnhandledPanics     = "unhandled_exceptions_total"
	StartupErrors       = "startup_errors_total"
)

// LLMRequestsFor names the per-provider request counter.
func LLMRequestsFor(provider string) string {
	return "llm_requests_" + provider + "_total"
}

// ProviderErrors names the per-provider error counter.
func ProviderErrors(provider string) string {
	return provider + "_errors_total"
}

// ErrorType names the counter for a classified error kind.
func ErrorType(kind string) string { return "error_type_" + kind + "_total" }

// counterName is the Prometheus family every named counter lives in; the
// counter key is its "name" label.
const counterName = "kcp_events_total"

// Registry is a set of named monotonic counters backed by a private
// Prometheus registry.
type Registry struct {
	reg      *prometheus.Registry
	counters *prometheus.CounterVec
}

// New returns an empty registry.
func New() *Registry {
	counters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: counterName,
		Help: "Named service events.",
	}, []string{"name"})
	reg := prometheus.NewRegistry()
	reg.MustRegister(counters)
	return &Registry{reg: reg, counters: counters}
}

// Default is the process-wide registry.
var Default = New()

// Add increments key by n. Non-positive n is ignored.
func (r *Registry) Add(key string, n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.counters.WithLabelValues(key).Add(float64(n))
}

// Incr increments key by one.
func (r *Registry) Incr(key string) {
	r.Add(key, 1)
}

// Get returns the current value of key.
func (r *Registry) Get(key string) int64 {
	return r.Snapshot()[key]
}

// Snapshot copies every counter that has been incremented.
func (r *Registry) Snapshot() map[string]int64 {
	out := map[string]int64{}
	if r == nil {
		return out
	}
	families, err := r.reg.Gather()
	if err != nil {
		return out
	}
	for _, mf := range families {
		if mf.GetName() != counterName {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "name" {
					out[l.GetValue()] = int64(m.GetCounter().GetValue())
				}
			}
		}
	}
	return out
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Incr increments key on the default registry.
func Incr(key string) { Default.Incr(key) }

// Snapshot copies the default registry.
func Snapshot() map[string]int64 { return Default.Snapshot() }
