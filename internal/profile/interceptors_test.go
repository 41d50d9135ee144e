package profile

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflow/openapi-mcp-gateway/internal/httpclient"
)

func TestAuthSpecList_UnmarshalSingleObject(t *testing.T) {
	var l AuthSpecList
	require.NoError(t, json.Unmarshal([]byte(`{"type":"bearer","value_from_env":"API_TOKEN"}`), &l))
	require.Len(t, l, 1)
	assert.Equal(t, "bearer", l[0].Type)
	assert.Equal(t, "API_TOKEN", l[0].ValueFromEnv)
}

func TestAuthSpecList_UnmarshalArray(t *testing.T) {
	var l AuthSpecList
	raw := `[{"type":"bearer","priority":1},{"type":"query","priority":2,"query_param":"token"}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &l))
	require.Len(t, l, 2)
	assert.Equal(t, "query", l[1].Type)
	assert.Equal(t, "token", l[1].QueryParam)
}

func TestInterceptorConfig_ToHTTPClientConfig_Defaults(t *testing.T) {
	ic := InterceptorConfig{}
	out := ic.ToHTTPClientConfig("https://api.example.com")

	assert.Equal(t, "https://api.example.com", out.BaseURLDefault)
	assert.Equal(t, httpclient.ArrayRepeat, out.ArrayFormat)
	assert.Equal(t, 1, out.Retry.MaxAttempts)
	assert.Empty(t, out.Auth)
}

func TestInterceptorConfig_ToHTTPClientConfig_DropsOAuthFromChain(t *testing.T) {
	ic := InterceptorConfig{
		Auth: AuthSpecList{
			{Type: "bearer", ValueFromEnv: "TOKEN", Priority: 1},
			{Type: "oauth", OAuth: &OAuthConfigJSON{AuthorizationEndpoint: "https://idp/authorize"}},
		},
		BaseURL: BaseURLConfig{Default: "https://api.example.com"},
	}
	out := ic.ToHTTPClientConfig("fallback")

	require.Len(t, out.Auth, 1)
	assert.Equal(t, httpclient.AuthBearer, out.Auth[0].Type)
	assert.Equal(t, "https://api.example.com", out.BaseURLDefault)
}

func TestInterceptorConfig_ResolvedOAuth_NotConfigured(t *testing.T) {
	ic := InterceptorConfig{Auth: AuthSpecList{{Type: "bearer"}}}
	_, _, ok, err := ic.ResolvedOAuth()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInterceptorConfig_ResolvedOAuth_ResolvesEnv(t *testing.T) {
	require.NoError(t, os.Setenv("GATEWAY_TEST_OAUTH_CLIENT_SECRET", "s3cret"))
	defer os.Unsetenv("GATEWAY_TEST_OAUTH_CLIENT_SECRET")

	ic := InterceptorConfig{
		Auth: AuthSpecList{{
			Type: "oauth",
			OAuth: &OAuthConfigJSON{
				AuthorizationEndpoint: "https://idp/authorize",
				TokenEndpoint:         "https://idp/token",
				ClientID:              "gateway",
				ClientSecret:          "${env:GATEWAY_TEST_OAUTH_CLIENT_SECRET}",
				Clients: []OAuthClientJSON{
					{ID: "claude", RedirectURIs: []string{"https://claude.ai/callback"}},
				},
			},
		}},
	}

	cfg, clients, ok, err := ic.ResolvedOAuth()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s3cret", cfg.ClientSecret)
	require.Len(t, clients, 1)
	assert.Equal(t, "claude", clients[0].ID)
}

func TestInterceptorConfig_ResolvedOAuth_MissingEnvIsFatal(t *testing.T) {
	ic := InterceptorConfig{
		Auth: AuthSpecList{{
			Type: "oauth",
			OAuth: &OAuthConfigJSON{
				ClientSecret: "${env:GATEWAY_TEST_OAUTH_DEFINITELY_UNSET}",
			},
		}},
	}
	_, _, _, err := ic.ResolvedOAuth()
	assert.Error(t, err)
}
