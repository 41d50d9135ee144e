package transport

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/reflow/openapi-mcp-gateway/internal/config"
)

const maxBodyBytes = 4 << 20 // 4 MiB

var nonLoopbackWarnOnce sync.Once

// bodyLimit rejects requests whose body exceeds maxBodyBytes, per spec
// §4.8 security middleware step 1.
func bodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// warnNonLoopback logs once, at startup, if the server binds to a
// non-loopback host without an explicit origin allow-list, per step 2.
func warnNonLoopback(host string, allowedOrigins []string) {
	if isLoopbackHost(host) || len(allowedOrigins) > 0 {
		return
	}
	nonLoopbackWarnOnce.Do(func() {
		log.Warn().Str("host", host).Msg("binding to a non-loopback host with no ALLOWED_ORIGINS configured; this exposes the gateway to any origin")
	})
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// originCheck enforces step 3: allow loopback, the bound host, an exact or
// wildcard allow-list entry, or a CIDR allow-list entry; reject with 403
// otherwise. A request with no Origin header (most non-browser MCP clients)
// is allowed through, mirroring standard CORS semantics for same-origin /
// non-browser callers.
func originCheck(boundHost string, allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || originAllowed(origin, boundHost, allowed) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "origin not allowed", http.StatusForbidden)
		})
	}
}

func originAllowed(origin, boundHost string, allowed []string) bool {
	u, err := parseOriginHost(origin)
	if err != nil {
		return false
	}
	if isLoopbackHost(u) || u == boundHost {
		return true
	}
	for _, a := range allowed {
		if a == origin || a == u {
			return true
		}
		if strings.HasPrefix(a, "*.") && strings.HasSuffix(u, a[1:]) {
			return true
		}
		if _, cidr, cerr := net.ParseCIDR(a); cerr == nil {
			if ip := net.ParseIP(u); ip != nil && cidr.Contains(ip) {
				return true
			}
		}
	}
	return false
}

func parseOriginHost(origin string) (string, error) {
	trimmed := origin
	if i := strings.Index(trimmed, "://"); i != -1 {
		trimmed = trimmed[i+3:]
	}
	host, _, err := net.SplitHostPort(trimmed)
	if err != nil {
		return trimmed, nil
	}
	return host, nil
}

// perIPLimiter is a token-bucket-per-client-IP rate limiter for step 5.
type perIPLimiter struct {
	mu       sync.Mutex
	cfg      config.RateLimitConfig
	limiters map[string]*rate.Limiter
}

func newPerIPLimiter(cfg config.RateLimitConfig) *perIPLimiter {
	return &perIPLimiter{cfg: cfg, limiters: make(map[string]*rate.Limiter)}
}

func (p *perIPLimiter) allow(ip string, max int) bool {
	p.mu.Lock()
	lim, ok := p.limiters[ip]
	if !ok {
		perSecond := rate.Limit(float64(max) / (float64(p.cfg.WindowMs) / 1000.0))
		lim = rate.NewLimiter(perSecond, max)
		p.limiters[ip] = lim
	}
	p.mu.Unlock()
	return lim.Allow()
}

func ipRateLimit(limiter *perIPLimiter, max int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || !limiter.cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			ip := clientIP(r)
			if !limiter.allow(ip, max) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
