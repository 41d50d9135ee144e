package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeQuery_Brackets(t *testing.T) {
	req := &RequestContext{URL: "https://x.example/widgets", Query: map[string]any{"tag": []any{"a", "b"}}}
	require.NoError(t, serializeQuery(req, ArrayBrackets))
	assert.Contains(t, req.URL, "tag%5B%5D=a")
}

func TestSerializeQuery_Repeat(t *testing.T) {
	req := &RequestContext{URL: "https://x.example/widgets", Query: map[string]any{"tag": []any{"a", "b"}}}
	require.NoError(t, serializeQuery(req, ArrayRepeat))
	assert.Contains(t, req.URL, "tag=a")
	assert.Contains(t, req.URL, "tag=b")
}

func TestSerializeQuery_Comma(t *testing.T) {
	req := &RequestContext{URL: "https://x.example/widgets", Query: map[string]any{"tag": []any{"a", "b"}}}
	require.NoError(t, serializeQuery(req, ArrayComma))
	assert.Contains(t, req.URL, "tag=a%2Cb")
}

func TestSerializeQuery_Indices(t *testing.T) {
	req := &RequestContext{URL: "https://x.example/widgets", Query: map[string]any{"tag": []any{"a", "b"}}}
	require.NoError(t, serializeQuery(req, ArrayIndices))
	assert.Contains(t, req.URL, "tag%5B0%5D=a")
	assert.Contains(t, req.URL, "tag%5B1%5D=b")
}

func TestSend_ReturnsResponseContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	resp, err, transient := send(context.Background(), srv.Client(), &RequestContext{Method: "GET", URL: srv.URL, Headers: map[string]string{}})
	require.NoError(t, err)
	assert.False(t, transient)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestClassifyStatus_MapsKnownCodes(t *testing.T) {
	cases := []struct {
		status int
		kind   string
	}{
		{401, "Authentication"},
		{403, "Authorization"},
		{404, "NetworkClient"},
		{429, "RateLimit"},
		{400, "NetworkClient"},
		{503, "NetworkServer"},
	}
	for _, c := range cases {
		resp := &ResponseContext{StatusCode: c.status, Headers: http.Header{}, Body: []byte(`{"message":"boom"}`)}
		err := classifyStatus(resp)
		require.NotNil(t, err)
		assert.Equal(t, c.kind, string(err.K))
	}
}

func TestClassifyStatus_ExtractsMessageFromBody(t *testing.T) {
	resp := &ResponseContext{StatusCode: 400, Headers: http.Header{}, Body: []byte(`{"error_description":"bad widget id"}`)}
	err := classifyStatus(resp)
	require.NotNil(t, err)
	assert.Equal(t, "bad widget id", err.Msg)
}

func TestClassifyStatus_FallsBackToHTTPStatus(t *testing.T) {
	resp := &ResponseContext{StatusCode: 500, Headers: http.Header{}, Body: nil}
	err := classifyStatus(resp)
	require.NotNil(t, err)
	assert.Equal(t, "HTTP 500", err.Msg)
}

func TestClassifyStatus_RateLimitHonorsRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "30")
	resp := &ResponseContext{StatusCode: 429, Headers: h, Body: []byte(`{"message":"slow down"}`)}
	err := classifyStatus(resp)
	require.NotNil(t, err)
	require.NotNil(t, err.RetryAfter)
	assert.Equal(t, 30, *err.RetryAfter)
}

func TestClassifyStatus_2xxIsNil(t *testing.T) {
	resp := &ResponseContext{StatusCode: 204}
	assert.Nil(t, classifyStatus(resp))
}
