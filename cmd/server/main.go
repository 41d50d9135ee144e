// Command server boots the gateway: it loads the OpenAPI document and
// (optional) profile, wires the runtime components described in spec.md
// §2, and serves either the Streamable HTTP transport or a single-session
// stdio transport, per MCP_TRANSPORT.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/reflow/openapi-mcp-gateway/internal/config"
	"github.com/reflow/openapi-mcp-gateway/internal/dispatch"
	"github.com/reflow/openapi-mcp-gateway/internal/errs"
	"github.com/reflow/openapi-mcp-gateway/internal/httpclient"
	"github.com/reflow/openapi-mcp-gateway/internal/mcpproto"
	"github.com/reflow/openapi-mcp-gateway/internal/metrics"
	"github.com/reflow/openapi-mcp-gateway/internal/oauthproxy"
	"github.com/reflow/openapi-mcp-gateway/internal/openapi"
	"github.com/reflow/openapi-mcp-gateway/internal/profile"
	"github.com/reflow/openapi-mcp-gateway/internal/session"
	"github.com/reflow/openapi-mcp-gateway/internal/transport"
)

const (
	serverName    = "openapi-mcp-gateway"
	serverVersion = "0.1.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	setupLogging(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("transport", string(cfg.Transport)).Msg("starting gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idx, err := openapi.Load(ctx, cfg.OpenAPISpecPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load OpenAPI document")
	}

	prof, err := loadProfile(cfg, idx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load profile")
	}

	interceptorCfg := buildInterceptorConfig(prof, idx, cfg)
	clients := httpclient.NewFactory(interceptorCfg)

	var reg *metrics.Registry
	if cfg.MetricsEnabled {
		reg = metrics.New()
	}

	server := dispatch.ServerInfo{Name: serverName, Version: serverVersion}
	dispatcher := dispatch.New(server, idx, prof, clients, reg)

	oauthProxy, oauthHandler := buildOAuthProxy(prof)

	switch cfg.Transport {
	case config.TransportHTTP:
		runHTTP(ctx, cancel, cfg, clients, dispatcher, reg, oauthHandler)
	default:
		if oauthProxy != nil {
			log.Warn().Msg("oauth auth spec configured but MCP_TRANSPORT=stdio has no HTTP surface to serve it on")
		}
		// stdio has exactly one implicit session and one identity: build the
		// global client up front so every tool call shares it, per §4.6,
		// instead of minting a redundant per-session copy.
		if _, err := clients.CreateGlobal(); err != nil {
			log.Fatal().Err(err).Msg("failed to build global http client")
		}
		runStdio(ctx, cfg, dispatcher)
	}

	log.Info().Msg("gateway stopped")
}

// loadProfile reads MCP_PROFILE_PATH when set, otherwise synthesizes a
// default profile from every operation in idx, per spec §4.3.
func loadProfile(cfg *config.Config, idx *openapi.OperationIndex) (*profile.Profile, error) {
	if cfg.ProfilePath != "" {
		return profile.Load(cfg.ProfilePath)
	}

	opts := profile.DefaultAutogenOptions()
	prof := profile.Autogenerate(idx.GetAllOperations(), opts)

	if cfg.Auth.Force {
		prof.Interceptors.Auth = profile.AuthSpecList{{
			Type:         strings.ToLower(cfg.Auth.Type),
			ValueFromEnv: cfg.Auth.EnvVar,
			QueryParam:   cfg.Auth.QueryParam,
			HeaderName:   cfg.Auth.HeaderName,
		}}
	}
	return prof, nil
}

// buildInterceptorConfig derives the InterceptorChain config for the
// gateway's HttpClientFactory: the profile's own interceptors block, falling
// back to the OpenAPI document's security scheme and the AUTH_* env
// overrides when the profile (or autogenerated default) declares none.
func buildInterceptorConfig(prof *profile.Profile, idx *openapi.OperationIndex, cfg *config.Config) httpclient.InterceptorConfig {
	ic := prof.Interceptors
	if len(ic.Auth) == 0 {
		if spec, ok := defaultAuthSpec(idx, cfg); ok {
			ic.Auth = profile.AuthSpecList{spec}
		}
	}
	return ic.ToHTTPClientConfig(idx.GetBaseUrl())
}

// defaultAuthSpec maps the OpenAPI document's collapsed security scheme (or
// an explicit AUTH_* override) into a single AuthSpecConfig, used only when
// the profile itself declares no interceptors.auth.
func defaultAuthSpec(idx *openapi.OperationIndex, cfg *config.Config) (profile.AuthSpecConfig, bool) {
	if cfg.Auth.Type != "" {
		return profile.AuthSpecConfig{
			Type:         strings.ToLower(cfg.Auth.Type),
			ValueFromEnv: cfg.Auth.EnvVar,
			QueryParam:   cfg.Auth.QueryParam,
			HeaderName:   cfg.Auth.HeaderName,
		}, true
	}

	scheme := idx.GetSecurityScheme()
	envVar := cfg.Auth.EnvVar
	if envVar == "" {
		envVar = "API_TOKEN"
	}
	switch scheme.Type {
	case "bearer":
		return profile.AuthSpecConfig{Type: "bearer", ValueFromEnv: envVar}, true
	case "apiKey":
		switch scheme.In {
		case "query":
			return profile.AuthSpecConfig{Type: "query", ValueFromEnv: envVar, QueryParam: scheme.Name}, true
		default:
			return profile.AuthSpecConfig{Type: "custom-header", ValueFromEnv: envVar, HeaderName: scheme.Name}, true
		}
	default:
		return profile.AuthSpecConfig{}, false
	}
}

// buildOAuthProxy constructs the OAuthProxy (C9) and its HTTP handler when
// the profile declares an oauth auth spec. Returns nil, nil otherwise.
func buildOAuthProxy(prof *profile.Profile) (*oauthproxy.Proxy, *oauthproxy.Handler) {
	oauthCfg, clients, ok, err := prof.Interceptors.ResolvedOAuth()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid oauth configuration")
	}
	if !ok {
		return nil, nil
	}
	p := oauthproxy.New(oauthCfg, clients, http.DefaultClient)
	return p, oauthproxy.NewHandler(p)
}

func runHTTP(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, clients *httpclient.Factory, dispatcher *dispatch.Dispatcher, reg *metrics.Registry, oauthHandler *oauthproxy.Handler) {
	sessions := session.NewStore(cfg.SessionTimeout, 60*time.Second)
	sessions.OnDestroy(clients.Destroy)
	defer sessions.Stop()

	var metricsHandler http.Handler
	if reg != nil {
		metricsHandler = reg.Handler()
	}

	t := transport.New(cfg, sessions, dispatcher, metricsHandler)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization", "X-API-Token", "Mcp-Session-Id", "Last-Event-ID"},
		ExposedHeaders:   []string{"Mcp-Session-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Mount("/", t.Router())
	if oauthHandler != nil {
		r.Mount("/oauth", oauthHandler.Router())
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE (GET /mcp) holds the connection open
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}
		sessions.DestroyAll()
		cancel()
	}()

	log.Info().Str("addr", addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}

// runStdio implements the MCP_TRANSPORT=stdio mode: newline-delimited
// JSON-RPC requests on stdin, responses on stdout, one implicit session
// whose client is built directly from env credentials (the "global client"
// use-case named in spec §4.6).
func runStdio(ctx context.Context, cfg *config.Config, dispatcher *dispatch.Dispatcher) {
	sessions := session.NewStore(cfg.SessionTimeout, time.Hour)
	defer sessions.Stop()

	sessionID := sessions.Create("")
	sess, _ := sessions.Get(sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	writer := bufio.NewWriter(os.Stdout)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var req mcpproto.Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			writeStdioLine(writer, mcpproto.NewError(nil, mcpproto.ParseError, "invalid JSON-RPC message"))
			continue
		}
		if req.IsNotification() {
			continue
		}
		writeStdioLine(writer, dispatchStdio(ctx, dispatcher, sess, &req))
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		log.Error().Err(err).Msg("stdio read error")
	}
}

func dispatchStdio(ctx context.Context, dispatcher *dispatch.Dispatcher, sess *session.Session, req *mcpproto.Request) *mcpproto.Response {
	switch req.Method {
	case mcpproto.MethodInitialize:
		var params mcpproto.InitializeParams
		if len(req.Params) > 0 {
			json.Unmarshal(req.Params, &params)
		}
		result, err := dispatcher.Initialize(ctx, params)
		if err != nil {
			return mcpproto.NewError(req.ID, err.Code(), errs.FormatForClient(err))
		}
		resp, _ := mcpproto.NewResult(req.ID, result)
		return resp
	case mcpproto.MethodToolsList:
		resp, _ := mcpproto.NewResult(req.ID, dispatcher.ToolsList(ctx))
		return resp
	case mcpproto.MethodToolsCall:
		var params mcpproto.ToolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return mcpproto.NewError(req.ID, mcpproto.InvalidParams, "invalid tools/call params")
		}
		result, err := dispatcher.ToolsCall(ctx, sess, params)
		if err != nil {
			return mcpproto.NewError(req.ID, err.Code(), errs.FormatForClient(err))
		}
		resp, _ := mcpproto.NewResult(req.ID, result)
		return resp
	case mcpproto.MethodPing:
		resp, _ := mcpproto.NewResult(req.ID, map[string]any{})
		return resp
	default:
		return mcpproto.NewError(req.ID, mcpproto.MethodNotFound, "method not found: "+req.Method)
	}
}

func writeStdioLine(w *bufio.Writer, resp *mcpproto.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	w.Write(data)
	w.WriteByte('\n')
	w.Flush()
}

func setupLogging(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = log.Output(os.Stderr)
	}
	zerolog.TimeFieldFormat = time.RFC3339
}
