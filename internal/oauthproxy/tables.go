package oauthproxy

import (
	"sync"
	"time"
)

const codeTTL = 5 * time.Minute

// pendingAuth is one local authorization code minted by Authorize, tracking
// both the MCP client's PKCE challenge and (once the IdP redirects back to
// our callback) the upstream code we must still redeem.
type pendingAuth struct {
	clientID            string
	redirectURI         string
	codeChallenge       string
	codeChallengeMethod string
	scope               string
	state               string
	createdAt           time.Time
	upstreamCode        string
	upstreamReceived    bool
}

// codeTable is the authorization_code -> pendingAuth map, mutated under a
// single mutex per spec §5's "OAuth code and token tables are mutated
// under exclusion."
type codeTable struct {
	mu    sync.Mutex
	codes map[string]*pendingAuth
}

func newCodeTable() *codeTable {
	return &codeTable{codes: make(map[string]*pendingAuth)}
}

func (t *codeTable) put(code string, p *pendingAuth) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.codes[code] = p
}

func (t *codeTable) get(code string) (*pendingAuth, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.codes[code]
	return p, ok
}

// take returns and deletes code, enforcing single-use semantics.
func (t *codeTable) take(code string) (*pendingAuth, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.codes[code]
	if ok {
		delete(t.codes, code)
	}
	return p, ok
}

func (t *codeTable) setUpstream(code, upstreamCode string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.codes[code]
	if !ok {
		return false
	}
	p.upstreamCode = upstreamCode
	p.upstreamReceived = true
	return true
}

// sweepExpired drops codes older than codeTTL. Called opportunistically
// rather than on a dedicated timer, since codes are short-lived and the
// table is already visited on every authorize/exchange call.
func (t *codeTable) sweepExpired(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, p := range t.codes {
		if now.Sub(p.createdAt) > codeTTL {
			delete(t.codes, k)
		}
	}
}

// verifierTable holds the proxy's own PKCE verifiers for its leg with the
// upstream IdP, keyed by the local authorization code. Kept separate from
// codeTable since this verifier is never shared with the MCP client.
type verifierTable struct {
	mu        sync.Mutex
	verifiers map[string]string
}

func newVerifierTable() *verifierTable {
	return &verifierTable{verifiers: make(map[string]string)}
}

func (t *verifierTable) put(code, verifier string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.verifiers[code] = verifier
}

func (t *verifierTable) take(code string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.verifiers[code]
	if ok {
		delete(t.verifiers, code)
	}
	return v, ok
}

// tokenTable is the access_token -> TokenInfo cache.
type tokenTable struct {
	mu     sync.Mutex
	tokens map[string]TokenInfo
}

func newTokenTable() *tokenTable {
	return &tokenTable{tokens: make(map[string]TokenInfo)}
}

func (t *tokenTable) put(token string, info TokenInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[token] = info
}

func (t *tokenTable) get(token string) (TokenInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.tokens[token]
	if !ok {
		return TokenInfo{}, false
	}
	if time.Now().After(info.ExpiresAt) {
		delete(t.tokens, token)
		return TokenInfo{}, false
	}
	return info, true
}

func (t *tokenTable) delete(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tokens, token)
}
