package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryConcurrentIncr(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Incr(ChatRequests)
			r.Incr(ErrorType("timeout"))
		}()
	}
	wg.Wait()
	r.Add(LLMRequestsFor("openai"), 3)

	snap := r.Snapshot()
	assert.Equal(t, int64(50), snap["chat_requests_total"])
	assert.Equal(t, int64(50), snap["error_type_timeout_total"])
	assert.Equal(t, int64(3), snap["llm_requests_openai_total"])
	assert.Equal(t, int64(0), r.Get("missing"))
}

func TestNilRegistry(t *testing.T) {
	var r *Registry
	r.Incr("x")
	assert.Empty(t, r.Snapshot())
	assert.Equal(t, "anthropic_errors_total", ProviderErrors("anthropic"))
}

func TestAddIgnoresNonPositive(t *testing.T) {
	r := New()
	r.Add(ToolCalls, 0)
	r.Add(ToolCalls, -2)
	assert.Empty(t, r.Snapshot())
	r.Add(ToolCalls, 2)
	assert.Equal(t, int64(2), r.Get(ToolCalls))
}

func TestHandlerServesPrometheusText(t *testing.T) {
	r := New()
	r.Incr(RateLimitedRequests)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `kcp_events_total{name="rate_limited_requests_total"} 1`)
}
