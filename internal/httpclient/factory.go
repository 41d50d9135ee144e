package httpclient

import (
	"sync"

	"github.com/reflow/openapi-mcp-gateway/internal/errs"
)

// Factory maintains an optional global client and a session_id -> HttpClient
// map, per spec §4.6. All map access goes through a single mutex; concurrent
// getOrCreateForSession calls for the same id observe one instance.
type Factory struct {
	mu       sync.Mutex
	global   *InterceptorChain
	sessions map[string]*InterceptorChain
	baseCfg  InterceptorConfig
}

// NewFactory returns a Factory that builds session clients from baseCfg,
// with SessionToken substituted in per getOrCreateForSession.
func NewFactory(baseCfg InterceptorConfig) *Factory {
	return &Factory{baseCfg: baseCfg, sessions: make(map[string]*InterceptorChain)}
}

// CreateGlobal builds the single global client bound to env credentials,
// for stdio-only deployments where every call shares one identity. It must
// be called at most once.
func (f *Factory) CreateGlobal() (*InterceptorChain, *errs.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.global != nil {
		return f.global, nil
	}
	chain, err := NewInterceptorChain(f.baseCfg)
	if err != nil {
		return nil, err
	}
	f.global = chain
	return chain, nil
}

// GetOrCreateForSession returns the cached client for sessionID, building a
// new InterceptorChain with sessionToken overriding value_from_env the
// first time a given session is seen.
func (f *Factory) GetOrCreateForSession(sessionID, sessionToken string) (*InterceptorChain, *errs.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if chain, ok := f.sessions[sessionID]; ok {
		return chain, nil
	}

	cfg := f.baseCfg
	cfg.Auth = make([]AuthSpec, len(f.baseCfg.Auth))
	copy(cfg.Auth, f.baseCfg.Auth)
	if spec, ok := primaryAuthSpec(cfg.Auth); ok {
		for i := range cfg.Auth {
			if cfg.Auth[i].Priority == spec.Priority && cfg.Auth[i].Type == spec.Type {
				cfg.Auth[i].SessionToken = sessionToken
			}
		}
	}

	chain, err := NewInterceptorChain(cfg)
	if err != nil {
		return nil, err
	}
	f.sessions[sessionID] = chain
	return chain, nil
}

// Destroy removes and releases the client cached for sessionID. Safe to
// call for an unknown or already-destroyed session.
func (f *Factory) Destroy(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
}

// Global returns the client built by CreateGlobal, if any. The dispatcher
// consults this before falling back to GetOrCreateForSession, so that a
// stdio deployment's single implicit session shares the one global client
// its auth config was built for rather than minting a redundant per-session
// copy, per spec §4.6.
func (f *Factory) Global() (*InterceptorChain, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.global, f.global != nil
}
