// Package httpclient implements the InterceptorChain + HttpClient (C2) and
// the HttpClientFactory (C6): the upstream request pipeline (auth injection,
// token-bucket rate limiting, retry with backoff) and its per-identity
// client cache.
package httpclient

import "net/http"

// AuthType is the closed set of AuthSpec variants that participate in the
// interceptor chain (oauth is handled at the transport layer instead).
type AuthType string

const (
	AuthBearer       AuthType = "bearer"
	AuthQuery        AuthType = "query"
	AuthCustomHeader AuthType = "custom-header"
	AuthOAuth        AuthType = "oauth"
)

// AuthSpec describes one credential-injection strategy, ordered against
// its peers by Priority (lower wins).
type AuthSpec struct {
	Type                AuthType
	ValueFromEnv        string
	HeaderName          string
	QueryParam          string
	ValidationEndpoint  string
	ValidationTimeoutMs int
	Priority            int

	// SessionToken overrides ValueFromEnv for per-session clients built by
	// HttpClientFactory.getOrCreateForSession.
	SessionToken string
}

// ArrayFormat is the closed set of array-parameter serialization styles.
type ArrayFormat string

const (
	ArrayBrackets ArrayFormat = "brackets"
	ArrayIndices  ArrayFormat = "indices"
	ArrayRepeat   ArrayFormat = "repeat"
	ArrayComma    ArrayFormat = "comma"
)

// RateLimitSpec is one token-bucket's static parameters: capacity is
// requests/minute: refill rate is derived as capacity/60000 per ms.
type RateLimitSpec struct {
	CapacityPerMinute float64
}

// RateLimitConfig is the global bucket plus optional per-operationId
// overrides.
type RateLimitConfig struct {
	Global       RateLimitSpec
	PerOperation map[string]RateLimitSpec
}

// RetryConfig bounds the retry interceptor.
type RetryConfig struct {
	MaxAttempts   int
	BackoffMs     []int
	RetryOnStatus []int
}

// InterceptorConfig configures one InterceptorChain.
type InterceptorConfig struct {
	Auth           []AuthSpec
	BaseURLEnvVar  string
	BaseURLDefault string
	RateLimit      RateLimitConfig
	Retry          RetryConfig
	ArrayFormat    ArrayFormat
	RequestTimeout int // ms, per-attempt timeout of the underlying http.Client (0 means 30s); a timed-out attempt is transient and retried while attempts remain
}

// RequestContext is one logical upstream call, mutated as it passes
// through the chain.
type RequestContext struct {
	Method      string
	URL         string // absolute
	Headers     map[string]string
	Query       map[string]any // array values preserved; serialized here per ArrayFormat
	Body        []byte
	OperationID string
}

// ResponseContext is the terminal result of one RequestContext's execution.
type ResponseContext struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}
