package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reflow/openapi-mcp-gateway/internal/config"
)

func TestOriginAllowed_LoopbackAlwaysAllowed(t *testing.T) {
	assert.True(t, originAllowed("http://127.0.0.1:3000", "0.0.0.0", nil))
	assert.True(t, originAllowed("http://localhost:3000", "0.0.0.0", nil))
}

func TestOriginAllowed_MatchesBoundHost(t *testing.T) {
	assert.True(t, originAllowed("https://gateway.internal", "gateway.internal", nil))
}

func TestOriginAllowed_ExactAllowListEntry(t *testing.T) {
	assert.True(t, originAllowed("https://app.example.com", "0.0.0.0", []string{"app.example.com"}))
}

func TestOriginAllowed_WildcardAllowListEntry(t *testing.T) {
	assert.True(t, originAllowed("https://tenant1.example.com", "0.0.0.0", []string{"*.example.com"}))
}

func TestOriginAllowed_CIDRAllowListEntry(t *testing.T) {
	assert.True(t, originAllowed("http://10.0.0.5", "0.0.0.0", []string{"10.0.0.0/8"}))
}

func TestOriginAllowed_RejectsUnlisted(t *testing.T) {
	assert.False(t, originAllowed("https://evil.example", "0.0.0.0", []string{"app.example.com"}))
}

func TestOriginCheckMiddleware_RejectsWithForbidden(t *testing.T) {
	mw := originCheck("0.0.0.0", nil)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOriginCheckMiddleware_AllowsNoOriginHeader(t *testing.T) {
	mw := originCheck("0.0.0.0", nil)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPerIPLimiter_BlocksAfterMax(t *testing.T) {
	limiter := newPerIPLimiter(config.RateLimitConfig{Enabled: true, WindowMs: 60_000, MaxRequests: 2})

	assert.True(t, limiter.allow("1.2.3.4", 2))
	assert.True(t, limiter.allow("1.2.3.4", 2))
	assert.False(t, limiter.allow("1.2.3.4", 2))
}

func TestPerIPLimiter_TracksPerIPIndependently(t *testing.T) {
	limiter := newPerIPLimiter(config.RateLimitConfig{Enabled: true, WindowMs: 60_000, MaxRequests: 1})

	assert.True(t, limiter.allow("1.1.1.1", 1))
	assert.True(t, limiter.allow("2.2.2.2", 1))
}
