package oauthproxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/reflow/openapi-mcp-gateway/internal/errs"
)

type introspectionResponse struct {
	Active   bool   `json:"active"`
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
	Exp      int64  `json:"exp"`
	Resource string `json:"aud,omitempty"`
}

// introspect POSTs token to cfg.IntrospectionEndpoint per RFC 7662 and
// maps an active response to a TokenInfo.
func (p *Proxy) introspect(ctx context.Context, token string) (*TokenInfo, *errs.Error) {
	form := url.Values{"token": {token}}
	req, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.IntrospectionEndpoint, nil)
	if buildErr != nil {
		return nil, errs.Configuration("building introspection request: " + buildErr.Error())
	}
	req.URL.RawQuery = form.Encode()
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if p.cfg.ClientSecret != "" {
		req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	}

	resp, doErr := p.httpClient.Do(req)
	if doErr != nil {
		return nil, errs.NetworkServer("introspection request failed: "+doErr.Error(), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.NetworkServer("introspection endpoint returned a non-200 status", resp.StatusCode)
	}

	var parsed introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errs.NetworkServer("introspection response was not valid JSON: "+err.Error(), 0)
	}
	if !parsed.Active {
		return nil, errs.Authentication("token is not active")
	}

	expiresAt := time.Now().Add(5 * time.Minute)
	if parsed.Exp > 0 {
		expiresAt = time.Unix(parsed.Exp, 0)
	}

	return &TokenInfo{
		ClientID:  parsed.ClientID,
		Scopes:    splitScope(parsed.Scope),
		ExpiresAt: expiresAt,
		Resource:  parsed.Resource,
	}, nil
}
