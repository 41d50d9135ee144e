package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflow/openapi-mcp-gateway/internal/errs"
	"github.com/reflow/openapi-mcp-gateway/internal/httpclient"
	"github.com/reflow/openapi-mcp-gateway/internal/mcpproto"
	"github.com/reflow/openapi-mcp-gateway/internal/openapi"
	"github.com/reflow/openapi-mcp-gateway/internal/profile"
	"github.com/reflow/openapi-mcp-gateway/internal/session"
)

const fixtureSpec = `{
  "openapi": "3.0.3",
  "info": {"title": "Widgets API", "version": "1.0.0"},
  "servers": [{"url": "https://api.example.com/v1"}],
  "paths": {
    "/widgets/{widgetId}": {
      "get": {
        "operationId": "getWidget",
        "parameters": [
          {"name": "widgetId", "in": "path", "required": true, "schema": {"type": "string"}}
        ]
      }
    },
    "/widgets": {
      "get": {
        "operationId": "listWidgets",
        "parameters": [
          {"name": "status", "in": "query", "required": false, "schema": {"type": "string"}}
        ]
      }
    }
  }
}`

func testIndex(t *testing.T) *openapi.OperationIndex {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "spec.json")
	require.NoError(t, os.WriteFile(path, []byte(fixtureSpec), 0o644))
	idx, err := openapi.Load(t.Context(), path)
	require.NoError(t, err)
	return idx
}

type fakeHttpClient struct {
	responses map[string]*httpclient.ResponseContext
	errs      map[string]*errs.Error
	calls     []string
}

func (f *fakeHttpClient) Execute(ctx context.Context, req *httpclient.RequestContext) (*httpclient.ResponseContext, *errs.Error) {
	key := req.Method + " " + req.URL
	f.calls = append(f.calls, key)
	if e, ok := f.errs[key]; ok {
		return nil, e
	}
	if r, ok := f.responses[key]; ok {
		return r, nil
	}
	return &httpclient.ResponseContext{StatusCode: 200, Body: []byte(`{}`)}, nil
}

func jsonBody(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

func autogenProfile() *profile.Profile {
	return &profile.Profile{
		ProfileName: "default",
		Tools: []profile.Tool{
			{
				Name:       "getWidget",
				Parameters: map[string]profile.ParameterSpec{"widgetId": {Type: profile.TypeString, Required: true}},
				Operations: map[string]string{"call": "getWidget"},
			},
			{
				Name:       "listWidgets",
				Parameters: map[string]profile.ParameterSpec{"status": {Type: profile.TypeString}},
				Operations: map[string]string{"call": "listWidgets"},
			},
		},
	}
}

func TestToolsList_ReturnsGeneratedDescriptors(t *testing.T) {
	idx := testIndex(t)
	d := New(ServerInfo{Name: "gateway", Version: "test"}, idx, autogenProfile(), httpclient.NewFactory(httpclient.InterceptorConfig{}), nil)

	result := d.ToolsList(t.Context())
	require.Len(t, result.Tools, 2)
}

func TestInitialize_ReturnsProtocolVersionAndServerInfo(t *testing.T) {
	idx := testIndex(t)
	d := New(ServerInfo{Name: "gateway", Version: "1.2.3"}, idx, autogenProfile(), httpclient.NewFactory(httpclient.InterceptorConfig{}), nil)

	result, err := d.Initialize(t.Context(), mcpproto.InitializeParams{})
	require.Nil(t, err)
	assert.Equal(t, mcpproto.ProtocolVersion, result.ProtocolVersion)
	assert.Equal(t, "gateway", result.ServerInfo.Name)
}

func TestToolsCall_UnknownToolIsOperationNotFound(t *testing.T) {
	idx := testIndex(t)
	d := New(ServerInfo{}, idx, autogenProfile(), httpclient.NewFactory(httpclient.InterceptorConfig{}), nil)

	_, err := d.ToolsCall(t.Context(), &session.Session{ID: "s1"}, mcpproto.ToolCallParams{Name: "nope"})
	require.NotNil(t, err)
	assert.Equal(t, errs.KindOperationNotFound, err.K)
}

func TestToolsCall_MissingRequiredParameterIsValidationError(t *testing.T) {
	idx := testIndex(t)
	d := New(ServerInfo{}, idx, autogenProfile(), httpclient.NewFactory(httpclient.InterceptorConfig{}), nil)

	_, err := d.ToolsCall(t.Context(), &session.Session{ID: "s1"}, mcpproto.ToolCallParams{Name: "getWidget", Arguments: map[string]any{}})
	require.NotNil(t, err)
	assert.Equal(t, errs.KindValidation, err.K)
}

func TestToolsCall_SimpleToolSucceeds(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jsonBody(map[string]any{"id": "w-1"}))
	}))
	defer upstream.Close()

	path := filepath.Join(t.TempDir(), "spec.json")
	spec := strings.Replace(fixtureSpec, "https://api.example.com/v1", upstream.URL, 1)
	require.NoError(t, os.WriteFile(path, []byte(spec), 0o644))
	idx, lerr := openapi.Load(t.Context(), path)
	require.NoError(t, lerr)
	d := New(ServerInfo{}, idx, autogenProfile(), httpclient.NewFactory(httpclient.InterceptorConfig{}), nil)

	result, err := d.ToolsCall(t.Context(), &session.Session{ID: "s1"}, mcpproto.ToolCallParams{
		Name:      "getWidget",
		Arguments: map[string]any{"widgetId": "w-1"},
	})
	require.Nil(t, err)
	require.Len(t, result.Content, 1)
	assert.False(t, result.IsError)
}

func TestToolsCall_UpstreamErrorIsClassified(t *testing.T) {
	idx := testIndex(t)
	prof := autogenProfile()
	d := New(ServerInfo{}, idx, prof, httpclient.NewFactory(httpclient.InterceptorConfig{
		Retry: httpclient.RetryConfig{MaxAttempts: 1},
	}), nil)

	_, err := d.ToolsCall(t.Context(), &session.Session{ID: "s1"}, mcpproto.ToolCallParams{
		Name:      "getWidget",
		Arguments: map[string]any{"widgetId": "missing"},
	})
	// The fake upstream (default client against api.example.com) will fail
	// to connect in this sandboxed test environment, which is itself a
	// NetworkClient-classified failure — asserting only that ToolsCall
	// surfaces a classified error rather than a panic or a raw Go error.
	require.NotNil(t, err)
}

func TestSoleOperation_ReturnsTheOnlyEntry(t *testing.T) {
	tool := &profile.Tool{Operations: map[string]string{"call": "getWidget"}}
	opID, ok := soleOperation(tool)
	require.True(t, ok)
	assert.Equal(t, "getWidget", opID)
}

func TestSoleOperation_FalseWhenAmbiguous(t *testing.T) {
	tool := &profile.Tool{Operations: map[string]string{"create": "createWidget", "delete": "deleteWidget"}}
	_, ok := soleOperation(tool)
	assert.False(t, ok)
}

var _ = http.MethodGet
var _ = jsonBody
