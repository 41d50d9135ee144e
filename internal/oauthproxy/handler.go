package oauthproxy

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reflow/openapi-mcp-gateway/internal/errs"
)

// Handler exposes the Proxy's operations (§4.9) as the HTTP surface the MCP
// client actually talks to: /authorize, /callback (the IdP's redirect
// target), /token, and /revoke.
type Handler struct {
	proxy *Proxy
}

// NewHandler wraps proxy for HTTP serving.
func NewHandler(proxy *Proxy) *Handler {
	return &Handler{proxy: proxy}
}

// Router builds the chi.Router serving the proxy's endpoints.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/authorize", h.handleAuthorize)
	r.Get("/callback", h.handleCallback)
	r.Post("/token", h.handleToken)
	r.Post("/revoke", h.handleRevoke)
	return r
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	client, ok := h.proxy.clients[clientID]
	if !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client", "unknown client_id")
		return
	}
	if q.Get("response_type") != "code" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_response_type", "response_type must be code")
		return
	}

	params := AuthorizeParams{
		ResponseType:        q.Get("response_type"),
		ClientID:            clientID,
		RedirectURI:         q.Get("redirect_uri"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		State:               q.Get("state"),
		Scope:               q.Get("scope"),
	}

	if err := h.proxy.Authorize(w, r, client, params); err != nil {
		writeOAuthError(w, statusForKind(err), string(err.K), errs.FormatForClient(err))
	}
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	if err := h.proxy.HandleCallback(w, r); err != nil {
		writeOAuthError(w, statusForKind(err), string(err.K), errs.FormatForClient(err))
	}
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "failed to parse form body")
		return
	}

	clientID := r.Form.Get("client_id")
	client, ok := h.proxy.clients[clientID]
	if !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client", "unknown client_id")
		return
	}

	ctx := r.Context()
	switch r.Form.Get("grant_type") {
	case "authorization_code":
		envelope, err := h.proxy.ExchangeAuthorizationCode(ctx, client,
			r.Form.Get("code"), r.Form.Get("code_verifier"), r.Form.Get("redirect_uri"))
		if err != nil {
			writeOAuthError(w, statusForKind(err), "invalid_grant", errs.FormatForClient(err))
			return
		}
		writeJSON(w, http.StatusOK, envelope)
	case "refresh_token":
		var scopes []string
		if s := r.Form.Get("scope"); s != "" {
			scopes = splitScope(s)
		}
		envelope, err := h.proxy.ExchangeRefreshToken(ctx, client, r.Form.Get("refresh_token"), scopes)
		if err != nil {
			writeOAuthError(w, statusForKind(err), "invalid_grant", errs.FormatForClient(err))
			return
		}
		writeJSON(w, http.StatusOK, envelope)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be authorization_code or refresh_token")
	}
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "failed to parse form body")
		return
	}
	clientID := r.Form.Get("client_id")
	client, ok := h.proxy.clients[clientID]
	if !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client", "unknown client_id")
		return
	}
	if err := h.proxy.RevokeToken(r.Context(), client, r.Form.Get("token")); err != nil {
		writeOAuthError(w, statusForKind(err), string(err.K), errs.FormatForClient(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func statusForKind(err *errs.Error) int {
	switch err.Code() {
	case -32001:
		return http.StatusUnauthorized
	case -32002:
		return http.StatusForbidden
	case -32602:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": description})
}
