package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/reflow/openapi-mcp-gateway/internal/errs"
)

// serializeQuery encodes req.Query into req.URL's query string per the
// configured ArrayFormat, per spec §4.2.
func serializeQuery(req *RequestContext, format ArrayFormat) error {
	if len(req.Query) == 0 {
		return nil
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return fmt.Errorf("invalid request URL %q: %w", req.URL, err)
	}
	q := u.Query()

	for key, val := range req.Query {
		arr, isArray := val.([]any)
		if !isArray {
			q.Add(key, fmt.Sprint(val))
			continue
		}
		switch format {
		case ArrayIndices:
			for i, elem := range arr {
				q.Add(fmt.Sprintf("%s[%d]", key, i), fmt.Sprint(elem))
			}
		case ArrayRepeat:
			for _, elem := range arr {
				q.Add(key, fmt.Sprint(elem))
			}
		case ArrayComma:
			parts := make([]string, len(arr))
			for i, elem := range arr {
				parts[i] = fmt.Sprint(elem)
			}
			q.Add(key, strings.Join(parts, ","))
		case ArrayBrackets:
			fallthrough
		default:
			for _, elem := range arr {
				q.Add(key+"[]", fmt.Sprint(elem))
			}
		}
	}

	u.RawQuery = q.Encode()
	req.URL = u.String()
	return nil
}

// send issues one terminal HTTP request/response with no retry logic of its
// own; isTransient reports whether the failure is a network-level transient
// condition the retry interceptor should consider retrying.
func send(ctx context.Context, client *http.Client, req *RequestContext) (*ResponseContext, error, bool) {
	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err), false
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err, isTransient(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err), true
	}

	return &ResponseContext{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}, nil, false
}

// isTransient classifies a transport-level error (not an HTTP status) as
// retryable: timeouts (including context.DeadlineExceeded), connection
// resets, refused connections, and errors whose text contains "EOF".
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "EOF")
}

// classifyStatus maps a non-2xx ResponseContext to the structured error
// kinds of spec §4.2/§4.10.
func classifyStatus(resp *ResponseContext) *errs.Error {
	message := extractMessage(resp.Body, resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return errs.Authentication(message)
	case resp.StatusCode == http.StatusForbidden:
		return errs.Authorization(message)
	case resp.StatusCode == http.StatusNotFound:
		return errs.NetworkClient(message, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Headers.Get("Retry-After"))
		return errs.RateLimit(message, retryAfter)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return errs.NetworkClient(message, resp.StatusCode)
	case resp.StatusCode >= 500:
		return errs.NetworkServer(message, resp.StatusCode)
	default:
		return nil
	}
}

func extractMessage(body []byte, status int) string {
	var parsed map[string]any
	if json.Unmarshal(body, &parsed) == nil {
		for _, key := range []string{"error_description", "error", "message"} {
			if v, ok := parsed[key]; ok {
				if s, ok := v.(string); ok && s != "" {
					return s
				}
			}
		}
	}
	if len(body) > 0 {
		return string(body)
	}
	return fmt.Sprintf("HTTP %d", status)
}

func parseRetryAfter(header string) *int {
	if header == "" {
		return nil
	}
	seconds, err := strconv.Atoi(header)
	if err != nil {
		return nil
	}
	return &seconds
}
