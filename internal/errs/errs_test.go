package errs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode_StableMapping(t *testing.T) {
	assert.Equal(t, -32601, OperationNotFound("foo").Code())
	assert.Equal(t, -32602, Validation("bad", nil).Code())
	assert.Equal(t, -32001, Authentication("no token").Code())
	assert.Equal(t, -32002, Authorization("forbidden").Code())
	assert.Equal(t, -32003, RateLimit("slow down", nil).Code())
	assert.Equal(t, -32603, NetworkServer("boom", 503).Code())
}

func TestCorrelationID_StableAcrossCalls(t *testing.T) {
	e := Validation("bad arg", nil)
	id1 := e.CorrelationID()
	id2 := e.CorrelationID()
	assert.Equal(t, id1, id2)
	assert.NotEmpty(t, id1)
}

func TestFormatForClient_ServerErrorIsGeneric(t *testing.T) {
	e := NetworkServer("upstream said 503 with a stack trace and a db password", 503)
	msg := FormatForClient(e)
	assert.Contains(t, msg, "Internal error")
	assert.Contains(t, msg, e.CorrelationID())
	assert.NotContains(t, msg, "stack trace")
}

func TestFormatForClient_RateLimitIncludesRetryAfter(t *testing.T) {
	retryAfter := 30
	e := RateLimit("too many requests", &retryAfter)
	msg := FormatForClient(e)
	assert.Contains(t, msg, "Retry after 30 seconds")
}

func TestFormatForClient_RateLimitWithoutRetryAfter(t *testing.T) {
	e := RateLimit("too many requests", nil)
	msg := FormatForClient(e)
	assert.NotContains(t, msg, "Retry after")
	assert.Contains(t, msg, e.CorrelationID())
}

func TestAs_DistinguishesClassifiedErrors(t *testing.T) {
	e := Configuration("missing env var")
	classified, ok := As(e)
	require := assert.New(t)
	require.True(ok)
	require.Equal(e, classified)

	_, ok = As(assertPlainError{})
	require.False(ok)
}

type assertPlainError struct{}

func (assertPlainError) Error() string { return "plain" }
