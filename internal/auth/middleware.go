// Package auth implements ingress token extraction for the Streamable HTTP
// transport: reading the caller's opaque bearer/X-API-Token credential off
// the incoming request, per spec §4.2/§4.8. It does not verify the token
// against any local user store — verification is the upstream API's job;
// this gateway only captures the shape-valid token, which the transport
// then carries on the session (Session.AuthToken) rather than the request
// context, since it must outlive any single request.
package auth

import (
	"net/http"
	"strings"
)

// ExtractToken reads the caller's credential from Authorization: Bearer or
// X-API-Token, in that order. Returns ok=false if neither header is present;
// callers decide whether that is fatal (some tools/operations require no
// auth at all).
func ExtractToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1], true
		}
		return "", false
	}
	if h := r.Header.Get("X-API-Token"); h != "" {
		return h, true
	}
	return "", false
}
