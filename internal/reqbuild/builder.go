// Package reqbuild implements the RequestBuilder (component C4): turning
// an OperationInfo, a Tool's metadata, and validated arguments into a
// path, a query parameter set, and a request body.
package reqbuild

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/reflow/openapi-mcp-gateway/internal/errs"
	"github.com/reflow/openapi-mcp-gateway/internal/openapi"
	"github.com/reflow/openapi-mcp-gateway/internal/profile"
)

var pathParamPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// Built is the output of RequestBuilder.Build: a resolved path, a query
// parameter set (array values preserved for C2 to serialize per
// array_format), and an optional request body.
type Built struct {
	Path  string
	Query map[string]any
	Body  map[string]any
}

// Build constructs path, query, and body for one invocation of op, given
// the args already validated by ToolModel.Validate and the owning tool's
// metadata (metadata_params, parameter_aliases, requestBody schema).
func Build(op *openapi.OperationInfo, tool *profile.Tool, args map[string]any) (*Built, *errs.Error) {
	path, consumed, err := resolvePath(op, tool, args)
	if err != nil {
		return nil, err
	}

	query := make(map[string]any)
	for _, p := range op.Parameters {
		if p.In != openapi.InQuery {
			continue
		}
		if v, ok := args[p.Name]; ok {
			query[p.Name] = v
			consumed[p.Name] = true
		}
	}

	metadataParams := toSet(tool.MetadataParamsOrDefault())
	body := make(map[string]any)
	for k, v := range args {
		if consumed[k] || metadataParams[k] {
			continue
		}
		body[k] = v
	}
	var bodyOut map[string]any
	if len(body) > 0 {
		bodyOut = body
	}

	if op.RequestBody != nil && op.RequestBody.Schema != nil {
		if verr := validateBody(op.RequestBody.Schema, bodyOut); verr != nil {
			return nil, verr
		}
	}

	return &Built{Path: path, Query: query, Body: bodyOut}, nil
}

// resolvePath fills every {name} placeholder in op.Path from args, falling
// back to tool.ParameterAliases[name] substitutes in declared order. It
// returns the set of argument keys it consumed so the body-collection pass
// can exclude them.
func resolvePath(op *openapi.OperationInfo, tool *profile.Tool, args map[string]any) (string, map[string]bool, *errs.Error) {
	consumed := make(map[string]bool)
	path := op.Path

	var resolveErr *errs.Error
	path = pathParamPattern.ReplaceAllStringFunc(path, func(match string) string {
		if resolveErr != nil {
			return match
		}
		name := match[1 : len(match)-1]

		if v, ok := args[name]; ok {
			consumed[name] = true
			return fmt.Sprint(v)
		}

		for _, alias := range tool.ParameterAliases[name] {
			if v, ok := args[alias]; ok {
				consumed[alias] = true
				return fmt.Sprint(v)
			}
		}

		resolveErr = errs.Validation(
			fmt.Sprintf("missing path parameter %q (no alias matched either)", name),
			map[string]any{"parameter": name},
		)
		return match
	})

	if resolveErr != nil {
		return "", nil, resolveErr
	}
	return path, consumed, nil
}

// validateBody runs the request body through the declared JSON schema,
// converting validation failures into a ValidationError naming field paths.
func validateBody(schema *openapi3.Schema, body map[string]any) *errs.Error {
	raw, err := json.Marshal(schema)
	if err != nil {
		return errs.Configuration(fmt.Sprintf("failed to marshal request body schema: %v", err))
	}

	var js jsonschema.Schema
	if err := json.Unmarshal(raw, &js); err != nil {
		return errs.Configuration(fmt.Sprintf("invalid request body schema: %v", err))
	}
	resolved, err := js.Resolve(nil)
	if err != nil {
		return errs.Configuration(fmt.Sprintf("failed to resolve request body schema: %v", err))
	}

	var value any = body
	if body == nil {
		value = map[string]any{}
	}
	if err := resolved.Validate(value); err != nil {
		return errs.Validation(fmt.Sprintf("request body failed schema validation: %v", err),
			map[string]any{"schema_error": err.Error()})
	}
	return nil
}

// FilterResponse keeps only response_fields[action] top-level keys, applied
// to an object or to each element of an array. Returns result unchanged
// when the tool declares no response_fields for action.
func FilterResponse(tool *profile.Tool, action string, result any) any {
	fields, ok := tool.ResponseFields[action]
	if !ok || len(fields) == 0 {
		return result
	}

	switch v := result.(type) {
	case map[string]any:
		return filterKeys(v, fields)
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			if m, ok := elem.(map[string]any); ok {
				out[i] = filterKeys(m, fields)
			} else {
				out[i] = elem
			}
		}
		return out
	default:
		return result
	}
}

func filterKeys(m map[string]any, keep []string) map[string]any {
	out := make(map[string]any, len(keep))
	for _, k := range keep {
		if v, ok := m[k]; ok {
			out[k] = v
		}
	}
	return out
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}
