package httpclient

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/reflow/openapi-mcp-gateway/internal/errs"
)

// HttpClient is the execution contract exposed by an InterceptorChain.
type HttpClient interface {
	Execute(ctx context.Context, req *RequestContext) (*ResponseContext, *errs.Error)
}

// InterceptorChain composes auth -> rate-limit -> retry around one upstream
// *http.Client, built once per identity (global, or per-session) per §4.2.
type InterceptorChain struct {
	cfg         InterceptorConfig
	http        *http.Client
	rateLimiter *rateLimiter
}

// NewInterceptorChain builds a chain over cfg. A missing env-backed token
// required by the chain's primary auth spec is a fatal configuration error,
// surfaced immediately rather than deferred to the first request.
func NewInterceptorChain(cfg InterceptorConfig) (*InterceptorChain, *errs.Error) {
	if spec, ok := primaryAuthSpec(cfg.Auth); ok && spec.Type != AuthOAuth {
		if spec.SessionToken == "" && spec.ValueFromEnv != "" {
			if _, err := resolveToken(*spec); err != nil {
				return nil, err
			}
		}
	}

	timeout := 30 * time.Second
	if cfg.RequestTimeout > 0 {
		timeout = time.Duration(cfg.RequestTimeout) * time.Millisecond
	}

	return &InterceptorChain{
		cfg:         cfg,
		http:        &http.Client{Timeout: timeout},
		rateLimiter: newRateLimiter(cfg.RateLimit),
	}, nil
}

// Execute runs req through auth -> rate-limit -> retry (outermost to
// innermost) and returns the terminal response or a classified error.
func (c *InterceptorChain) Execute(ctx context.Context, req *RequestContext) (*ResponseContext, *errs.Error) {
	if req.Headers == nil {
		req.Headers = make(map[string]string)
	}

	if err := applyAuth(req, c.cfg.Auth); err != nil {
		return nil, err
	}

	if err := serializeQuery(req, c.cfg.ArrayFormat); err != nil {
		return nil, errs.Configuration(err.Error())
	}

	if err := c.rateLimiter.acquire(ctx, req.OperationID); err != nil {
		return nil, errs.NetworkClient("rate limit wait cancelled: "+err.Error(), 0)
	}

	return c.retryingSend(ctx, req)
}

func (c *InterceptorChain) retryingSend(ctx context.Context, req *RequestContext) (*ResponseContext, *errs.Error) {
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryOn := toIntSet(c.cfg.Retry.RetryOnStatus)

	bo := &tableBackoff{table: c.cfg.Retry.BackoffMs}

	result, err := backoff.Retry(ctx, func() (*ResponseContext, error) {
		resp, sendErr, transient := send(ctx, c.http, req)
		if sendErr != nil {
			if transient {
				return nil, sendErr
			}
			return nil, backoff.Permanent(sendErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		classified := classifyStatus(resp)
		if shouldRetryStatus(resp.StatusCode, retryOn) {
			return resp, &retryableStatus{resp: resp, classified: classified}
		}
		return resp, backoff.Permanent(&retryableStatus{resp: resp, classified: classified})
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(maxAttempts)),
	)

	if err == nil {
		return result, nil
	}

	var rs *retryableStatus
	if asRetryableStatus(err, &rs) {
		return rs.resp, rs.classified
	}
	return nil, errs.NetworkClient(err.Error(), 0)
}

// shouldRetryStatus reports whether status should trigger another attempt:
// only statuses explicitly listed in retry_on_status are retried, per spec
// §4.2 ("response status ∈ retry_on_status"); a 5xx not listed there is
// surfaced as a ServerError on the first response rather than retried.
func shouldRetryStatus(status int, retryOn map[int]bool) bool {
	return retryOn[status]
}

func toIntSet(items []int) map[int]bool {
	out := make(map[int]bool, len(items))
	for _, i := range items {
		out[i] = true
	}
	return out
}

// retryableStatus carries both the raw response and its classified error so
// the final attempt's outcome survives backoff.Retry's error-only signaling.
type retryableStatus struct {
	resp       *ResponseContext
	classified *errs.Error
}

func (r *retryableStatus) Error() string {
	if r.classified != nil {
		return r.classified.Error()
	}
	return "unclassified status error"
}

func asRetryableStatus(err error, out **retryableStatus) bool {
	type permanent interface{ Unwrap() error }
	for e := err; e != nil; {
		if rs, ok := e.(*retryableStatus); ok {
			*out = rs
			return true
		}
		p, ok := e.(permanent)
		if !ok {
			return false
		}
		e = p.Unwrap()
	}
	return false
}

// tableBackoff returns backoff_ms[attempt], reusing the last entry once the
// table is exhausted, per spec §4.2.
type tableBackoff struct {
	table   []int
	attempt int
}

func (b *tableBackoff) NextBackOff() time.Duration {
	if len(b.table) == 0 {
		b.attempt++
		return 0
	}
	idx := b.attempt
	if idx >= len(b.table) {
		idx = len(b.table) - 1
	}
	b.attempt++
	return time.Duration(b.table[idx]) * time.Millisecond
}
