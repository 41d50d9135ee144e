package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_HandlerServesRecordedMetrics(t *testing.T) {
	r := New()
	r.RecordRequest("tools/call", "ok")
	r.ObserveToolCall("get_widget", 0.01)
	r.SetActiveSessions(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, "gateway_mcp_requests_total")
	assert.Contains(t, body, "gateway_active_sessions 3")
}

func TestRegistry_IndependentInstancesDoNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
