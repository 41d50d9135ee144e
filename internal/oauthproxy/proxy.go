package oauthproxy

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/reflow/openapi-mcp-gateway/internal/errs"
)

// Proxy is the OAuthProxy (C9): it issues its own authorization codes and
// access tokens to MCP clients while redeeming them against cfg's upstream
// IdP, per spec §4.9.
type Proxy struct {
	cfg        OAuthConfig
	clients    map[string]Client
	codes      *codeTable
	verifiers  *verifierTable
	tokens     *tokenTable
	httpClient *http.Client
}

// New builds a Proxy. cfg must already have ${env:NAME} references resolved
// via ResolveConfigEnv.
func New(cfg OAuthConfig, clients []Client, httpClient *http.Client) *Proxy {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	byID := make(map[string]Client, len(clients))
	for _, c := range clients {
		byID[c.ID] = c
	}
	return &Proxy{
		cfg:        cfg,
		clients:    byID,
		codes:      newCodeTable(),
		verifiers:  newVerifierTable(),
		tokens:     newTokenTable(),
		httpClient: httpClient,
	}
}

func (p *Proxy) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		RedirectURL:  p.cfg.RedirectURI,
		Scopes:       p.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.cfg.AuthorizationEndpoint,
			TokenURL: p.cfg.TokenEndpoint,
		},
	}
}

// Authorize implements the authorize(client, params, response_writer)
// operation: it mints a local code correlating the MCP client's own PKCE
// challenge, then redirects the user-agent to the upstream IdP carrying a
// second, proxy-generated PKCE challenge for the proxy's own leg with the
// IdP. The IdP is expected to redirect back to cfg.RedirectURI, which
// HandleCallback completes.
func (p *Proxy) Authorize(w http.ResponseWriter, r *http.Request, client Client, params AuthorizeParams) *errs.Error {
	if !redirectURIAllowed(client, params.RedirectURI) {
		return errs.Authorization("redirect_uri is not registered for this client")
	}

	p.codes.sweepExpired(time.Now())

	localCode := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	p.codes.put(localCode, &pendingAuth{
		clientID:            client.ID,
		redirectURI:         params.RedirectURI,
		codeChallenge:       params.CodeChallenge,
		codeChallengeMethod: params.CodeChallengeMethod,
		scope:               params.Scope,
		state:               params.State,
		createdAt:           time.Now(),
	})
	p.verifiers.put(localCode, verifier)

	conf := p.oauth2Config()
	authURL := conf.AuthCodeURL(localCode, oauth2.S256ChallengeOption(verifier))

	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// HandleCallback completes the proxy's own leg with the IdP: it receives
// the IdP's authorization code (correlated via the state/localCode we
// supplied in Authorize), stores it against the pending local code, and
// redirects the user-agent back to the MCP client's original redirect_uri
// carrying our local code and its original state.
func (p *Proxy) HandleCallback(w http.ResponseWriter, r *http.Request) *errs.Error {
	q := r.URL.Query()
	localCode := q.Get("state")
	upstreamCode := q.Get("code")
	if localCode == "" || upstreamCode == "" {
		return errs.Validation("callback missing code or state", nil)
	}

	pending, ok := p.codes.get(localCode)
	if !ok {
		return errs.Authentication("unknown or expired authorization attempt")
	}
	p.codes.setUpstream(localCode, upstreamCode)

	redirectURL, err := url.Parse(pending.redirectURI)
	if err != nil {
		return errs.Configuration("stored redirect_uri is invalid: " + err.Error())
	}
	q2 := redirectURL.Query()
	q2.Set("code", localCode)
	if pending.state != "" {
		q2.Set("state", pending.state)
	}
	redirectURL.RawQuery = q2.Encode()

	http.Redirect(w, r, redirectURL.String(), http.StatusFound)
	return nil
}

// ChallengeForAuthorizationCode returns the MCP client's stored PKCE
// challenge for code, erroring on an unknown code or a client mismatch.
func (p *Proxy) ChallengeForAuthorizationCode(client Client, code string) (challenge, method string, classified *errs.Error) {
	pending, ok := p.codes.get(code)
	if !ok {
		return "", "", errs.Authentication("unknown or expired authorization code")
	}
	if pending.clientID != client.ID {
		return "", "", errs.Authentication("authorization code does not belong to this client")
	}
	return pending.codeChallenge, pending.codeChallengeMethod, nil
}

// ExchangeAuthorizationCode implements
// exchangeAuthorizationCode(client, code, verifier?, redirect_uri?): it
// validates the code's age/ownership and the MCP client's PKCE verifier,
// deletes the code, then redeems the upstream code captured by
// HandleCallback against the IdP's token endpoint.
func (p *Proxy) ExchangeAuthorizationCode(ctx context.Context, client Client, code, verifier, redirectURI string) (*TokenEnvelope, *errs.Error) {
	pending, ok := p.codes.take(code)
	if !ok {
		return nil, errs.Authentication("unknown or expired authorization code")
	}
	if pending.clientID != client.ID {
		return nil, errs.Authentication("authorization code does not belong to this client")
	}
	if redirectURI != "" && redirectURI != pending.redirectURI {
		return nil, errs.Validation("redirect_uri does not match the authorization request", nil)
	}
	if time.Since(pending.createdAt) > codeTTL {
		return nil, errs.Authentication("authorization code has expired")
	}
	if pending.codeChallenge != "" {
		if verifier == "" || !pkceMatches(pending.codeChallenge, pending.codeChallengeMethod, verifier) {
			return nil, errs.Authentication("code_verifier does not match code_challenge")
		}
	}
	if !pending.upstreamReceived {
		return nil, errs.Authentication("authorization flow has not completed with the upstream server")
	}

	upstreamVerifier, _ := p.verifiers.take(code)
	conf := p.oauth2Config()

	httpCtx := context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := conf.Exchange(httpCtx, pending.upstreamCode, oauth2.VerifierOption(upstreamVerifier))
	if err != nil {
		return nil, errs.NetworkServer("token exchange with upstream authorization server failed: "+err.Error(), 0)
	}

	envelope := tokenFromOAuth2(tok, pending.scope)
	p.tokens.put(envelope.AccessToken, TokenInfo{
		ClientID:  client.ID,
		Scopes:    splitScope(envelope.Scope),
		ExpiresAt: tok.Expiry,
	})
	return envelope, nil
}

// ExchangeRefreshToken implements exchangeRefreshToken(client, refresh_token, scopes?).
func (p *Proxy) ExchangeRefreshToken(ctx context.Context, client Client, refreshToken string, scopes []string) (*TokenEnvelope, *errs.Error) {
	conf := p.oauth2Config()
	if len(scopes) > 0 {
		conf.Scopes = scopes
	}

	httpCtx := context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	src := conf.TokenSource(httpCtx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, errs.NetworkServer("refresh token exchange failed: "+err.Error(), 0)
	}

	envelope := tokenFromOAuth2(tok, joinScope(scopes))
	p.tokens.put(envelope.AccessToken, TokenInfo{
		ClientID:  client.ID,
		Scopes:    scopes,
		ExpiresAt: tok.Expiry,
	})
	return envelope, nil
}

// VerifyAccessToken implements verifyAccessToken(token): a cache hit
// returns immediately; a miss falls back to the IdP's introspection
// endpoint when configured, otherwise the token is rejected.
func (p *Proxy) VerifyAccessToken(ctx context.Context, token string) (*TokenInfo, *errs.Error) {
	if info, ok := p.tokens.get(token); ok {
		return &info, nil
	}
	if p.cfg.IntrospectionEndpoint == "" {
		return nil, errs.Authentication("invalid or unknown access token")
	}

	info, classified := p.introspect(ctx, token)
	if classified != nil {
		return nil, classified
	}
	p.tokens.put(token, *info)
	return info, nil
}

// RevokeToken implements revokeToken(client, req): it always drops the
// token from the local cache and, when a revocation endpoint is
// configured, makes a best-effort POST to the IdP without failing the
// caller on error.
func (p *Proxy) RevokeToken(ctx context.Context, client Client, token string) *errs.Error {
	p.tokens.delete(token)
	if p.cfg.RevocationEndpoint == "" {
		return nil
	}

	form := url.Values{"token": {token}, "client_id": {p.cfg.ClientID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.RevocationEndpoint, nil)
	if err != nil {
		return nil
	}
	req.URL.RawQuery = form.Encode()
	if p.cfg.ClientSecret != "" {
		req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	}
	resp, doErr := p.httpClient.Do(req)
	if doErr == nil {
		resp.Body.Close()
	}
	return nil
}

func redirectURIAllowed(client Client, redirectURI string) bool {
	for _, u := range client.RedirectURIs {
		if u == redirectURI {
			return true
		}
	}
	return false
}

func pkceMatches(challenge, method, verifier string) bool {
	if method == "" || method == "S256" {
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]) == challenge
	}
	return verifier == challenge // method == "plain"
}

func tokenFromOAuth2(tok *oauth2.Token, scope string) *TokenEnvelope {
	expiresIn := 0
	if !tok.Expiry.IsZero() {
		expiresIn = int(time.Until(tok.Expiry).Seconds())
	}
	return &TokenEnvelope{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    expiresIn,
		RefreshToken: tok.RefreshToken,
		Scope:        scope,
	}
}

func splitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(scope); i++ {
		if i == len(scope) || scope[i] == ' ' {
			if i > start {
				out = append(out, scope[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func joinScope(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}
