package composite

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflow/openapi-mcp-gateway/internal/errs"
	"github.com/reflow/openapi-mcp-gateway/internal/httpclient"
	"github.com/reflow/openapi-mcp-gateway/internal/openapi"
	"github.com/reflow/openapi-mcp-gateway/internal/profile"
)

// fakeClient is a minimal httpclient.HttpClient for exercising the executor
// without a real interceptor chain.
type fakeClient struct {
	responses map[string]*httpclient.ResponseContext
	errs      map[string]*errs.Error
	calls     []string
}

func (f *fakeClient) Execute(_ context.Context, req *httpclient.RequestContext) (*httpclient.ResponseContext, *errs.Error) {
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

func indexFromSpec(t *testing.T, widgetPath string) *openapi.OperationIndex {
	t.Helper()
	dir := t.TempDir()
	specPath := dir + "/spec.json"
	spec := `{
		"openapi": "3.0.0",
		"info": {"title": "t", "version": "1"},
		"servers": [{"url": "https://api.example.com"}],
		"paths": {
			"` + widgetPath + `": {
				"get": {
					"operationId": "getWidget",
					"parameters": [{"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}],
					"responses": {"200": {"description": "ok"}}
				}
			},
			"/widgets/{id}/parts": {
				"get": {
					"operationId": "listParts",
					"parameters": [{"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}],
					"responses": {"200": {"description": "ok"}}
				}
			}
		}
	}`
	require.NoError(t, os.WriteFile(specPath, []byte(spec), 0o644))
	idx, err := openapi.Load(context.Background(), specPath)
	require.NoError(t, err)
	return idx
}

func TestExecute_RunsDependentStepsInOrder(t *testing.T) {
	idx := indexFromSpec(t, "/widgets/{id}")

	tool := &profile.Tool{
		Steps: []profile.CompositeStep{
			{Call: "GET /widgets/{id}", StoreAs: "widget"},
			{Call: "GET /widgets/{id}/parts", StoreAs: "parts", DependsOn: []string{"widget"}},
		},
	}

	client := &fakeClient{
		responses: map[string]*httpclient.ResponseContext{
			"GET https://api.example.com/widgets/42":       {StatusCode: 200, Body: []byte(`{"name":"gizmo"}`)},
			"GET https://api.example.com/widgets/42/parts":  {StatusCode: 200, Body: []byte(`[{"id":1}]`)},
		},
	}

	result, err := Execute(context.Background(), idx, tool, client, map[string]any{"id": "42"}, false)
	require.Nil(t, err)
	assert.Equal(t, 2, result.CompletedSteps)
	assert.Equal(t, 2, result.TotalSteps)
	assert.Empty(t, result.Errors)
	assert.Equal(t, map[string]any{"name": "gizmo"}, result.Data["widget"])
}

func TestExecute_AbortsOnFailureWithoutPartialResults(t *testing.T) {
	idx := indexFromSpec(t, "/widgets/{id}")

	tool := &profile.Tool{
		Steps: []profile.CompositeStep{
			{Call: "GET /widgets/{id}", StoreAs: "widget"},
		},
	}

	client := &fakeClient{
		errs: map[string]*errs.Error{
			"GET https://api.example.com/widgets/42": errs.NetworkServer("boom", 500),
		},
	}

	result, err := Execute(context.Background(), idx, tool, client, map[string]any{"id": "42"}, false)
	require.NotNil(t, err)
	require.NotNil(t, result)
	assert.Len(t, result.Errors, 1)
	assert.Equal(t, 0, result.CompletedSteps)
}

func TestExecute_PartialResultsContinuesOnFailure(t *testing.T) {
	idx := indexFromSpec(t, "/widgets/{id}")

	tool := &profile.Tool{
		Steps: []profile.CompositeStep{
			{Call: "GET /widgets/{id}", StoreAs: "widget"},
			{Call: "GET /widgets/{id}/parts", StoreAs: "parts"},
		},
	}

	client := &fakeClient{
		errs: map[string]*errs.Error{
			"GET https://api.example.com/widgets/42": errs.NetworkServer("boom", 500),
		},
		responses: map[string]*httpclient.ResponseContext{
			"GET https://api.example.com/widgets/42/parts": {StatusCode: 200, Body: []byte(`[]`)},
		},
	}

	result, err := Execute(context.Background(), idx, tool, client, map[string]any{"id": "42"}, true)
	require.Nil(t, err)
	assert.Equal(t, 1, result.CompletedSteps)
	assert.Len(t, result.Errors, 1)
	assert.Contains(t, result.Data, "widget_error")
}

func TestExecute_StoresNestedDotPath(t *testing.T) {
	idx := indexFromSpec(t, "/widgets/{id}")

	tool := &profile.Tool{
		Steps: []profile.CompositeStep{
			{Call: "GET /widgets/{id}", StoreAs: "widget.summary"},
		},
	}

	client := &fakeClient{
		responses: map[string]*httpclient.ResponseContext{
			"GET https://api.example.com/widgets/42": {StatusCode: 200, Body: []byte(`{"name":"gizmo"}`)},
		},
	}

	result, err := Execute(context.Background(), idx, tool, client, map[string]any{"id": "42"}, false)
	require.Nil(t, err)
	widget, ok := result.Data["widget"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "gizmo"}, widget["summary"])
}

func TestExecute_MissingPathParameterFailsStep(t *testing.T) {
	idx := indexFromSpec(t, "/widgets/{id}")

	tool := &profile.Tool{
		Steps: []profile.CompositeStep{
			{Call: "GET /widgets/{id}", StoreAs: "widget"},
		},
	}

	client := &fakeClient{}
	result, err := Execute(context.Background(), idx, tool, client, map[string]any{}, false)
	require.NotNil(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "missing path parameter")
}

func TestLevelize_DetectsCycle(t *testing.T) {
	steps := []profile.CompositeStep{
		{Call: "GET /a", StoreAs: "a", DependsOn: []string{"b"}},
		{Call: "GET /b", StoreAs: "b", DependsOn: []string{"a"}},
	}
	_, err := levelize(steps)
	require.NotNil(t, err)
}
