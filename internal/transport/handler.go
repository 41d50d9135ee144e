// Package transport implements the StreamTransport (component C8): the
// single HTTP endpoint multiplexing the MCP Streamable HTTP protocol's
// POST/GET/DELETE verbs, its security middleware chain, and the resumable
// SSE push mechanism. Grounded on the teacher's gateway.Handler method-switch
// structure and gateway.SSEHub's connection/broadcast pattern.
package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/reflow/openapi-mcp-gateway/internal/auth"
	"github.com/reflow/openapi-mcp-gateway/internal/config"
	"github.com/reflow/openapi-mcp-gateway/internal/errs"
	"github.com/reflow/openapi-mcp-gateway/internal/mcpproto"
	"github.com/reflow/openapi-mcp-gateway/internal/session"
)

// Dispatcher is what the transport needs from the Dispatcher (C11); it is
// satisfied by internal/dispatch.Dispatcher. Kept as a narrow interface
// here so transport never imports dispatch (which in turn depends on
// transport-unaware business logic only).
type Dispatcher interface {
	Initialize(ctx context.Context, params mcpproto.InitializeParams) (*mcpproto.InitializeResult, *errs.Error)
	ToolsList(ctx context.Context) mcpproto.ToolsListResult
	ToolsCall(ctx context.Context, sess *session.Session, params mcpproto.ToolCallParams) (*mcpproto.ToolCallResult, *errs.Error)
}

// Transport wires the session store, dispatcher, and SSE hub into chi
// routes for /mcp, /health, and an optional metrics path.
type Transport struct {
	cfg        *config.Config
	sessions   *session.Store
	dispatcher Dispatcher
	hub        *hub
	limiter    *perIPLimiter
	metrics    http.Handler
}

// New builds a Transport. sessions must already be running its sweep loop;
// Transport registers a destroy listener so expired/deleted sessions also
// drop their SSE stream state.
func New(cfg *config.Config, sessions *session.Store, dispatcher Dispatcher, metrics http.Handler) *Transport {
	t := &Transport{
		cfg:        cfg,
		sessions:   sessions,
		dispatcher: dispatcher,
		hub:        newHub(),
		limiter:    newPerIPLimiter(cfg.RateLimit),
		metrics:    metrics,
	}
	sessions.OnDestroy(func(sessionID string) { t.hub.remove(sessionID) })
	return t
}

// Router builds the chi.Router serving the transport's endpoints.
func (t *Transport) Router() chi.Router {
	warnNonLoopback(t.cfg.Host, t.cfg.AllowedOrigins)

	r := chi.NewRouter()
	r.Use(bodyLimit)
	r.Use(originCheck(t.cfg.Host, t.cfg.AllowedOrigins))

	r.With(ipRateLimit(t.limiter, t.cfg.RateLimit.MaxRequests)).Handle("/mcp", http.HandlerFunc(t.handleMCP))
	r.Get("/health", t.handleHealth)

	if t.cfg.MetricsEnabled && t.metrics != nil {
		r.With(ipRateLimit(t.limiter, t.cfg.RateLimit.MetricsMax)).Handle(t.cfg.MetricsPath, t.metrics)
	}

	return r
}

func (t *Transport) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		t.handlePost(w, r)
	case http.MethodGet:
		t.handleGet(w, r)
	case http.MethodDelete:
		t.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handlePost implements the POST /mcp verb: accepts a JSON-RPC request,
// notification, response, or a batch (array) thereof.
func (t *Transport) handlePost(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	if !strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/event-stream") && !strings.Contains(accept, "*/*") {
		writeJSONError(w, http.StatusNotAcceptable, "Accept must include application/json or text/event-stream")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	msgs, batch, perr := parseMessages(body)
	if perr != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC payload")
		return
	}

	var requests []*mcpproto.Request
	for _, m := range msgs {
		if m.Method != "" && !m.IsNotification() {
			requests = append(requests, m)
		}
	}

	if len(requests) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	// This gateway replies to exactly one request per POST (batches of
	// multiple concurrent requests are not meaningful for a single
	// upstream API): the first request wins, further requests in the same
	// batch get no response, and notifications/responses were skipped above.
	req := requests[0]

	ctx := r.Context()
	token, hasToken := auth.ExtractToken(r)
	if hasToken {
		if verr := session.ValidateToken(token, t.cfg.TokenMaxLength); verr != nil {
			writeJSONError(w, http.StatusUnauthorized, "malformed authentication token")
			return
		}
	}

	if req.Method == mcpproto.MethodInitialize {
		t.handleInitialize(w, r.WithContext(ctx), req, token)
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, mcpproto.NewError(req.ID, mcpproto.InvalidRequest, "Mcp-Session-Id header required"))
		return
	}
	sess, ok := t.sessions.Get(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, mcpproto.NewError(req.ID, mcpproto.InvalidRequest, "session not found or expired"))
		return
	}

	resp := t.dispatch(ctx, sess, req)
	t.reply(w, r, resp, batch)
}

func (t *Transport) handleInitialize(w http.ResponseWriter, r *http.Request, req *mcpproto.Request, token string) {
	var params mcpproto.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSON(w, http.StatusBadRequest, mcpproto.NewError(req.ID, mcpproto.InvalidParams, "invalid initialize params"))
			return
		}
	}

	sessionID := t.sessions.Create(token)

	result, err := t.dispatcher.Initialize(r.Context(), params)
	if err != nil {
		t.sessions.Destroy(sessionID)
		writeJSON(w, http.StatusInternalServerError, errorResponse(req.ID, err))
		return
	}
	result.SessionID = sessionID

	resp, merr := mcpproto.NewResult(req.ID, result)
	if merr != nil {
		writeJSON(w, http.StatusInternalServerError, mcpproto.NewError(req.ID, mcpproto.InternalError, "failed to marshal result"))
		return
	}

	w.Header().Set("Mcp-Session-Id", sessionID)
	t.reply(w, r, resp, false)
}

func (t *Transport) dispatch(ctx context.Context, sess *session.Session, req *mcpproto.Request) *mcpproto.Response {
	switch req.Method {
	case mcpproto.MethodToolsList:
		result := t.dispatcher.ToolsList(ctx)
		resp, err := mcpproto.NewResult(req.ID, result)
		if err != nil {
			return mcpproto.NewError(req.ID, mcpproto.InternalError, "failed to marshal result")
		}
		return resp
	case mcpproto.MethodToolsCall:
		var params mcpproto.ToolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return mcpproto.NewError(req.ID, mcpproto.InvalidParams, "invalid tools/call params")
		}
		result, cerr := t.dispatcher.ToolsCall(ctx, sess, params)
		if cerr != nil {
			return errorResponse(req.ID, cerr)
		}
		resp, merr := mcpproto.NewResult(req.ID, result)
		if merr != nil {
			return mcpproto.NewError(req.ID, mcpproto.InternalError, "failed to marshal result")
		}
		return resp
	case mcpproto.MethodPing:
		resp, _ := mcpproto.NewResult(req.ID, map[string]any{})
		return resp
	default:
		return mcpproto.NewError(req.ID, mcpproto.MethodNotFound, "method not found: "+req.Method)
	}
}

// reply writes resp as a plain JSON body, unless the client's Accept header
// prefers SSE-only, in which case it opens a single-event SSE response and
// closes it, per spec §4.8.
func (t *Transport) reply(w http.ResponseWriter, r *http.Request, resp *mcpproto.Response, batch bool) {
	accept := r.Header.Get("Accept")
	sseOnly := strings.Contains(accept, "text/event-stream") && !strings.Contains(accept, "application/json")
	if sseOnly {
		sw, err := mcpproto.NewSSEWriter(w)
		if err != nil {
			writeJSON(w, http.StatusOK, resp)
			return
		}
		_ = sw.WriteResponse(resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGet opens a resumable SSE stream for an existing session.
func (t *Transport) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Mcp-Session-Id header required", http.StatusBadRequest)
		return
	}
	if _, ok := t.sessions.Get(sessionID); !ok {
		http.Error(w, "session not found or expired", http.StatusNotFound)
		return
	}

	lastEventID := int64(0)
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastEventID = n
		}
	}

	sw, err := mcpproto.NewSSEWriter(w)
	if err != nil {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	s := t.hub.getOrCreate(sessionID)
	connID := sessionID + ":" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := s.attach(connID, sw, lastEventID); err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("failed to replay buffered events")
	}
	defer s.detach(connID)

	ctx := r.Context()
	var heartbeat <-chan time.Time
	if t.cfg.HeartbeatEnabled {
		ticker := time.NewTicker(t.cfg.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat:
			if err := sw.Ping(); err != nil {
				return
			}
		}
	}
}

// handleDelete terminates a session.
func (t *Transport) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Mcp-Session-Id header required", http.StatusBadRequest)
		return
	}
	if _, ok := t.sessions.Get(sessionID); !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	t.sessions.Destroy(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (t *Transport) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": t.sessions.Count()})
}

// PushNotification enqueues a server-initiated JSON-RPC notification onto
// sessionID's stream, to be delivered to every attached GET connection and
// buffered for subsequent replay. Used by the dispatcher for asynchronous
// pushes outside the request/response cycle.
func (t *Transport) PushNotification(sessionID string, n *mcpproto.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	t.hub.push(sessionID, string(data))
}

func parseMessages(body []byte) ([]*mcpproto.Request, bool, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var batch []*mcpproto.Request
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, true, err
		}
		return batch, true, nil
	}
	var single mcpproto.Request
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, false, err
	}
	return []*mcpproto.Request{&single}, false, nil
}

func errorResponse(id json.RawMessage, err *errs.Error) *mcpproto.Response {
	return mcpproto.NewError(id, err.Code(), errs.FormatForClient(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": http.StatusText(status), "message": message})
}
