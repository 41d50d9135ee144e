package profile

import (
	"encoding/json"
	"fmt"

	"github.com/reflow/openapi-mcp-gateway/internal/httpclient"
	"github.com/reflow/openapi-mcp-gateway/internal/oauthproxy"
)

// AuthSpecConfig is the JSON form of one entry of interceptors.auth, per
// spec §3's AuthSpec. OAuthConfig is only populated (and only meaningful)
// when Type == "oauth".
type AuthSpecConfig struct {
	Type                string           `json:"type"`
	ValueFromEnv        string           `json:"value_from_env,omitempty"`
	HeaderName          string           `json:"header_name,omitempty"`
	QueryParam          string           `json:"query_param,omitempty"`
	ValidationEndpoint  string           `json:"validation_endpoint,omitempty"`
	ValidationTimeoutMs int              `json:"validation_timeout_ms,omitempty"`
	Priority            int              `json:"priority,omitempty"`
	OAuth               *OAuthConfigJSON `json:"oauth,omitempty"`
}

// OAuthConfigJSON is the JSON form of spec §3's OAuthConfig, carried by an
// AuthSpecConfig of type "oauth". String fields may reference ${env:NAME}.
type OAuthConfigJSON struct {
	AuthorizationEndpoint string            `json:"authorization_endpoint"`
	TokenEndpoint         string            `json:"token_endpoint"`
	IntrospectionEndpoint string            `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint    string            `json:"revocation_endpoint,omitempty"`
	ClientID              string            `json:"client_id,omitempty"`
	ClientSecret          string            `json:"client_secret,omitempty"`
	Scopes                []string          `json:"scopes,omitempty"`
	RedirectURI           string            `json:"redirect_uri,omitempty"`
	Clients               []OAuthClientJSON `json:"clients,omitempty"`
}

// OAuthClientJSON registers one MCP client the proxy will issue codes/tokens
// to, per spec §4.9.
type OAuthClientJSON struct {
	ID           string   `json:"id"`
	RedirectURIs []string `json:"redirect_uris"`
}

// AuthSpecList unmarshals either a single AuthSpecConfig object or an
// ordered list of them, per spec §3 ("one or a priority-ordered list").
type AuthSpecList []AuthSpecConfig

func (l *AuthSpecList) UnmarshalJSON(data []byte) error {
	trimmed := json.RawMessage(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []AuthSpecConfig
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*l = list
		return nil
	}
	var single AuthSpecConfig
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*l = AuthSpecList{single}
	return nil
}

// RateLimitSpecConfig is one token bucket's JSON form.
type RateLimitSpecConfig struct {
	CapacityPerMinute float64 `json:"capacity_per_minute,omitempty"`
}

// RateLimitConfigJSON is the global bucket plus optional per-operationId
// overrides, per spec §3.
type RateLimitConfigJSON struct {
	Global       RateLimitSpecConfig            `json:"global,omitempty"`
	PerOperation map[string]RateLimitSpecConfig `json:"per_operation,omitempty"`
}

// RetryConfigJSON bounds the retry interceptor, per spec §4.2.
type RetryConfigJSON struct {
	MaxAttempts   int   `json:"max_attempts,omitempty"`
	BackoffMs     []int `json:"backoff_ms,omitempty"`
	RetryOnStatus []int `json:"retry_on_status,omitempty"`
}

// BaseURLConfig is the profile's base_url block: an env var name and a
// fallback default. ToHTTPClientConfig copies it into
// httpclient.InterceptorConfig, where no code reads it; upstream request
// URLs are always built from the OpenAPI document's server URL
// (OperationIndex.GetBaseUrl).
type BaseURLConfig struct {
	EnvVar  string `json:"env_var,omitempty"`
	Default string `json:"default,omitempty"`
}

// InterceptorConfig is the profile's optional cross-cutting configuration
// for the upstream HTTP client (C2), per spec §3.
type InterceptorConfig struct {
	Auth        AuthSpecList        `json:"auth,omitempty"`
	BaseURL     BaseURLConfig       `json:"base_url,omitempty"`
	RateLimit   RateLimitConfigJSON `json:"rate_limit,omitempty"`
	Retry       RetryConfigJSON     `json:"retry,omitempty"`
	ArrayFormat string              `json:"array_format,omitempty"`
}

// ToHTTPClientConfig converts the non-oauth auth specs and the rest of the
// interceptor config into the form httpclient.NewInterceptorChain expects.
// baseURLFallback fills BaseURLDefault when the profile declares no
// base_url.default (normally the OpenAPI document's own server URL); as
// BaseURLConfig notes, neither base-URL field changes the request URL.
func (c InterceptorConfig) ToHTTPClientConfig(baseURLFallback string) httpclient.InterceptorConfig {
	out := httpclient.InterceptorConfig{
		BaseURLEnvVar:  c.BaseURL.EnvVar,
		BaseURLDefault: c.BaseURL.Default,
		ArrayFormat:    httpclient.ArrayFormat(c.ArrayFormat),
		RateLimit: httpclient.RateLimitConfig{
			Global: httpclient.RateLimitSpec{CapacityPerMinute: c.RateLimit.Global.CapacityPerMinute},
		},
		Retry: httpclient.RetryConfig{
			MaxAttempts:   c.Retry.MaxAttempts,
			BackoffMs:     c.Retry.BackoffMs,
			RetryOnStatus: c.Retry.RetryOnStatus,
		},
	}
	if out.BaseURLDefault == "" {
		out.BaseURLDefault = baseURLFallback
	}
	if out.ArrayFormat == "" {
		out.ArrayFormat = httpclient.ArrayRepeat
	}
	if out.Retry.MaxAttempts == 0 {
		out.Retry.MaxAttempts = 1
	}
	if len(c.RateLimit.PerOperation) > 0 {
		out.RateLimit.PerOperation = make(map[string]httpclient.RateLimitSpec, len(c.RateLimit.PerOperation))
		for op, spec := range c.RateLimit.PerOperation {
			out.RateLimit.PerOperation[op] = httpclient.RateLimitSpec{CapacityPerMinute: spec.CapacityPerMinute}
		}
	}

	for _, a := range c.Auth {
		if httpclient.AuthType(a.Type) == httpclient.AuthOAuth {
			continue // oauth never participates in the interceptor chain, per §4.2
		}
		out.Auth = append(out.Auth, httpclient.AuthSpec{
			Type:                httpclient.AuthType(a.Type),
			ValueFromEnv:        a.ValueFromEnv,
			HeaderName:          a.HeaderName,
			QueryParam:          a.QueryParam,
			ValidationEndpoint:  a.ValidationEndpoint,
			ValidationTimeoutMs: a.ValidationTimeoutMs,
			Priority:            a.Priority,
		})
	}
	return out
}

// OAuthAuthSpec returns the profile's oauth-typed AuthSpecConfig, if any.
// At most one is meaningful since the proxy fronts exactly one IdP.
func (c InterceptorConfig) OAuthAuthSpec() (AuthSpecConfig, bool) {
	for _, a := range c.Auth {
		if httpclient.AuthType(a.Type) == httpclient.AuthOAuth {
			return a, true
		}
	}
	return AuthSpecConfig{}, false
}

// ResolvedOAuth returns the oauthproxy-ready config and registered client
// list for this profile's oauth AuthSpec, with ${env:NAME} references
// resolved. Returns ok=false when the profile declares no oauth auth spec.
func (c InterceptorConfig) ResolvedOAuth() (oauthproxy.OAuthConfig, []oauthproxy.Client, bool, error) {
	spec, ok := c.OAuthAuthSpec()
	if !ok || spec.OAuth == nil {
		return oauthproxy.OAuthConfig{}, nil, false, nil
	}
	raw := oauthproxy.OAuthConfig{
		AuthorizationEndpoint: spec.OAuth.AuthorizationEndpoint,
		TokenEndpoint:         spec.OAuth.TokenEndpoint,
		IntrospectionEndpoint: spec.OAuth.IntrospectionEndpoint,
		RevocationEndpoint:    spec.OAuth.RevocationEndpoint,
		ClientID:              spec.OAuth.ClientID,
		ClientSecret:          spec.OAuth.ClientSecret,
		Scopes:                spec.OAuth.Scopes,
		RedirectURI:           spec.OAuth.RedirectURI,
	}
	resolved, err := oauthproxy.ResolveConfigEnv(raw)
	if err != nil {
		return oauthproxy.OAuthConfig{}, nil, false, err
	}
	clients := make([]oauthproxy.Client, 0, len(spec.OAuth.Clients))
	for _, cl := range spec.OAuth.Clients {
		if cl.ID == "" {
			return oauthproxy.OAuthConfig{}, nil, false, fmt.Errorf("profile: oauth client with empty id")
		}
		clients = append(clients, oauthproxy.Client{ID: cl.ID, RedirectURIs: cl.RedirectURIs})
	}
	return resolved, clients, true, nil
}
