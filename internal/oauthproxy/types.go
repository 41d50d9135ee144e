// Package oauthproxy implements the OAuthProxy (component C9): a thin
// authorization server that sits in front of an external IdP. The MCP
// client sees this gateway as the authorization server; the gateway
// authenticates against the IdP on the client's behalf and never hands
// the IdP's own credentials to the client.
package oauthproxy

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Client is one registered MCP client the proxy will issue codes/tokens to.
type Client struct {
	ID           string
	RedirectURIs []string
}

// OAuthConfig carries the upstream IdP's endpoints and this proxy's
// credentials with that IdP. String fields may use ${env:NAME} and are
// resolved once at construction time.
type OAuthConfig struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
	IntrospectionEndpoint string
	RevocationEndpoint    string
	ClientID              string
	ClientSecret          string
	Scopes                []string
	RedirectURI           string
}

// AuthorizeParams is the parsed query string of an incoming /authorize
// request from the MCP client.
type AuthorizeParams struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
	Scope               string
}

// TokenEnvelope is the response handed back to the MCP client on a
// successful code or refresh-token exchange.
type TokenEnvelope struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenInfo is what verifyAccessToken returns for a live token.
type TokenInfo struct {
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
	Resource  string
}

var envPattern = "${env:"

// resolveEnv substitutes every ${env:NAME} occurrence in s with the value
// of the named environment variable. A reference to an unset variable is
// a fatal startup error, per spec.
func resolveEnv(s string) (string, error) {
	out := s
	for {
		start := strings.Index(out, envPattern)
		if start == -1 {
			return out, nil
		}
		end := strings.Index(out[start:], "}")
		if end == -1 {
			return "", fmt.Errorf("oauthproxy: unterminated ${env:...} in %q", s)
		}
		name := out[start+len(envPattern) : start+end]
		val, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("oauthproxy: required environment variable %q is not set", name)
		}
		out = out[:start] + val + out[start+end+1:]
	}
}

// ResolveConfigEnv returns cfg with every ${env:NAME} field resolved.
func ResolveConfigEnv(cfg OAuthConfig) (OAuthConfig, error) {
	fields := []*string{
		&cfg.AuthorizationEndpoint,
		&cfg.TokenEndpoint,
		&cfg.IntrospectionEndpoint,
		&cfg.RevocationEndpoint,
		&cfg.ClientID,
		&cfg.ClientSecret,
		&cfg.RedirectURI,
	}
	for _, f := range fields {
		resolved, err := resolveEnv(*f)
		if err != nil {
			return OAuthConfig{}, err
		}
		*f = resolved
	}
	return cfg, nil
}
