// Package dispatch implements the Dispatcher (component C11): it wires
// ToolModel validation, RequestBuilder, the simple or composite execution
// path, and ErrorClassifier into the three operations the transport layer
// calls into per message.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/reflow/openapi-mcp-gateway/internal/composite"
	"github.com/reflow/openapi-mcp-gateway/internal/errs"
	"github.com/reflow/openapi-mcp-gateway/internal/httpclient"
	"github.com/reflow/openapi-mcp-gateway/internal/mcpproto"
	"github.com/reflow/openapi-mcp-gateway/internal/metrics"
	"github.com/reflow/openapi-mcp-gateway/internal/openapi"
	"github.com/reflow/openapi-mcp-gateway/internal/profile"
	"github.com/reflow/openapi-mcp-gateway/internal/reqbuild"
	"github.com/reflow/openapi-mcp-gateway/internal/session"
)

// ServerInfo names the gateway in the initialize handshake.
type ServerInfo struct {
	Name    string
	Version string
}

// Dispatcher is the concrete C11 implementation, satisfying the transport
// package's Dispatcher interface structurally.
type Dispatcher struct {
	server  ServerInfo
	idx     *openapi.OperationIndex
	models  map[string]*profile.ToolModel
	tools   []mcpproto.Tool
	clients *httpclient.Factory
	metrics *metrics.Registry
}

// New builds a Dispatcher over prof's tools and idx's operations. metrics
// may be nil, in which case calls are simply not recorded.
func New(server ServerInfo, idx *openapi.OperationIndex, prof *profile.Profile, clients *httpclient.Factory, reg *metrics.Registry) *Dispatcher {
	models := make(map[string]*profile.ToolModel, len(prof.Tools))
	tools := make([]mcpproto.Tool, 0, len(prof.Tools))
	for i := range prof.Tools {
		m := profile.NewToolModel(&prof.Tools[i])
		models[prof.Tools[i].Name] = m
		tools = append(tools, m.Generate())
	}
	return &Dispatcher{server: server, idx: idx, models: models, tools: tools, clients: clients, metrics: reg}
}

// Initialize implements the "initialize" operation.
func (d *Dispatcher) Initialize(ctx context.Context, params mcpproto.InitializeParams) (*mcpproto.InitializeResult, *errs.Error) {
	return &mcpproto.InitializeResult{
		ProtocolVersion: mcpproto.ProtocolVersion,
		Capabilities:    mcpproto.ServerCapabilities{Tools: &mcpproto.ToolsCapability{}},
		ServerInfo:      mcpproto.ServerInfo{Name: d.server.Name, Version: d.server.Version},
	}, nil
}

// ToolsList implements "tools/list".
func (d *Dispatcher) ToolsList(ctx context.Context) mcpproto.ToolsListResult {
	return mcpproto.ToolsListResult{Tools: d.tools}
}

// ToolsCall implements "tools/call": validate args, resolve the session's
// upstream client, run the simple or composite path, classify any failure,
// and package the result as a single MCP text content item.
func (d *Dispatcher) ToolsCall(ctx context.Context, sess *session.Session, params mcpproto.ToolCallParams) (*mcpproto.ToolCallResult, *errs.Error) {
	model, ok := d.models[params.Name]
	if !ok {
		d.recordError(params.Name, "OperationNotFound")
		return nil, errs.OperationNotFound(params.Name)
	}

	args := params.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if err := model.Validate(args); err != nil {
		d.recordError(params.Name, string(err.K))
		return nil, err
	}

	var err *errs.Error
	client, hasGlobal := d.clients.Global()
	if !hasGlobal {
		client, err = d.clients.GetOrCreateForSession(sess.ID, sess.AuthToken)
		if err != nil {
			d.recordError(params.Name, string(err.K))
			return nil, err
		}
	}

	var result any
	if model.IsComposite() {
		result, err = d.runComposite(ctx, model, client, args)
	} else {
		result, err = d.runSimple(ctx, model, client, args)
	}
	if err != nil {
		d.recordError(params.Name, string(err.K))
		return nil, err
	}

	if d.metrics != nil {
		d.metrics.RecordRequest("tools/call", "ok")
	}
	return mcpproto.TextResult(result), nil
}

func (d *Dispatcher) runComposite(ctx context.Context, model *profile.ToolModel, client httpclient.HttpClient, args map[string]any) (any, *errs.Error) {
	tool := model.Tool()
	result, err := composite.Execute(ctx, d.idx, tool, client, args, tool.PartialResults)
	if err != nil {
		return nil, err
	}

	action, _ := args["action"].(string)
	filtered := reqbuild.FilterResponse(tool, action, result.Data)

	out := map[string]any{
		"data":            filtered,
		"completed_steps": result.CompletedSteps,
		"total_steps":     result.TotalSteps,
	}
	if len(result.Errors) > 0 {
		out["errors"] = result.Errors
	}
	return out, nil
}

func (d *Dispatcher) runSimple(ctx context.Context, model *profile.ToolModel, client httpclient.HttpClient, args map[string]any) (any, *errs.Error) {
	tool := model.Tool()

	operationID, ok := model.MapActionToOperation(args)
	if !ok {
		operationID, ok = soleOperation(tool)
	}
	if !ok {
		return nil, errs.Validation("no operation matched the given action/resource_type", map[string]any{"tool": tool.Name})
	}

	op, ok := d.idx.GetOperation(operationID)
	if !ok {
		return nil, errs.OperationNotFound(operationID)
	}

	built, err := reqbuild.Build(op, tool, args)
	if err != nil {
		return nil, err
	}

	var bodyBytes []byte
	if built.Body != nil {
		bodyBytes, _ = json.Marshal(built.Body)
	}

	req := &httpclient.RequestContext{
		Method:      op.Method,
		URL:         d.idx.GetBaseUrl() + built.Path,
		Query:       built.Query,
		Body:        bodyBytes,
		OperationID: op.OperationID,
	}

	resp, err := client.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	var parsed any
	if len(resp.Body) > 0 {
		if jsonErr := json.Unmarshal(resp.Body, &parsed); jsonErr != nil {
			parsed = string(resp.Body)
		}
	}

	action, _ := args["action"].(string)
	return reqbuild.FilterResponse(tool, action, parsed), nil
}

// soleOperation returns the single operationId of a simple tool that has
// exactly one, for tools with no action-based dispatch (autogenerated
// tools always take this path, since they carry no "action" parameter).
func soleOperation(tool *profile.Tool) (string, bool) {
	if len(tool.Operations) != 1 {
		return "", false
	}
	for _, opID := range tool.Operations {
		return opID, true
	}
	return "", false
}

func (d *Dispatcher) recordError(tool, kind string) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordRequest("tools/call", "error")
	d.metrics.RecordToolCallError(tool, kind)
}
