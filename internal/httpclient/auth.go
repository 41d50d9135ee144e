package httpclient

import (
	"fmt"
	"net/url"
	"os"
	"sort"

	"github.com/reflow/openapi-mcp-gateway/internal/errs"
)

// primaryAuthSpec returns the lowest-priority-number non-oauth AuthSpec, if
// any. OAuth specs never participate here; they are handled at the
// transport layer per spec §4.2.
func primaryAuthSpec(specs []AuthSpec) (*AuthSpec, bool) {
	var candidates []AuthSpec
	for _, s := range specs {
		if s.Type != AuthOAuth {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Priority < candidates[j].Priority })
	return &candidates[0], true
}

// resolveToken returns the effective credential for spec: SessionToken
// overrides ValueFromEnv, matching HttpClientFactory.getOrCreateForSession.
func resolveToken(spec AuthSpec) (string, *errs.Error) {
	if spec.SessionToken != "" {
		return spec.SessionToken, nil
	}
	if spec.ValueFromEnv == "" {
		return "", nil
	}
	token := os.Getenv(spec.ValueFromEnv)
	if token == "" {
		return "", errs.Configuration(fmt.Sprintf(
			"missing token: environment variable %q is required by auth spec (expected header %q)",
			spec.ValueFromEnv, spec.HeaderName))
	}
	return token, nil
}

// applyAuth mutates req in place, injecting the primary non-oauth auth
// spec's credential per its Type.
func applyAuth(req *RequestContext, specs []AuthSpec) *errs.Error {
	spec, ok := primaryAuthSpec(specs)
	if !ok {
		return nil
	}

	token, err := resolveToken(*spec)
	if err != nil {
		return err
	}
	if token == "" {
		return nil
	}

	switch spec.Type {
	case AuthBearer:
		req.Headers["Authorization"] = "Bearer " + token
	case AuthCustomHeader:
		name := spec.HeaderName
		if name == "" {
			name = "X-API-Token"
		}
		req.Headers[name] = token
	case AuthQuery:
		param := spec.QueryParam
		if param == "" {
			param = "token"
		}
		u, parseErr := url.Parse(req.URL)
		if parseErr != nil {
			return errs.Configuration(fmt.Sprintf("invalid request URL %q: %v", req.URL, parseErr))
		}
		q := u.Query()
		q.Set(param, token)
		u.RawQuery = q.Encode()
		req.URL = u.String()
	}

	return nil
}
