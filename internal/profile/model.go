package profile

import (
	"fmt"

	"github.com/reflow/openapi-mcp-gateway/internal/errs"
	"github.com/reflow/openapi-mcp-gateway/internal/mcpproto"
)

// ToolModel wraps one profile Tool, exposing the generate/validate/
// mapActionToOperation contract of spec §4.3.
type ToolModel struct {
	tool *Tool
}

// NewToolModel wraps a validated Tool. Callers must only construct
// ToolModels from Tools that already passed Profile.Validate.
func NewToolModel(t *Tool) *ToolModel {
	return &ToolModel{tool: t}
}

// Tool returns the wrapped profile Tool.
func (m *ToolModel) Tool() *Tool { return m.tool }

// IsComposite reports whether this tool runs a CompositeStep DAG.
func (m *ToolModel) IsComposite() bool { return m.tool.Composite }

// Generate produces an MCP tool descriptor with a JSON-schema-shaped
// inputSchema derived from the tool's ParameterSpecs.
func (m *ToolModel) Generate() mcpproto.Tool {
	properties := make(map[string]any, len(m.tool.Parameters))
	var required []string

	for name, spec := range m.tool.Parameters {
		properties[name] = parameterSchema(spec)
		if spec.Required {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return mcpproto.Tool{
		Name:        m.tool.Name,
		Description: m.tool.Description,
		InputSchema: marshalRaw(schema),
	}
}

func parameterSchema(spec ParameterSpec) map[string]any {
	out := map[string]any{"type": spec.Type}
	if spec.Description != "" {
		out["description"] = spec.Description
	}
	if len(spec.Enum) > 0 {
		out["enum"] = spec.Enum
	}
	if spec.Items != nil {
		out["items"] = map[string]any{"type": spec.Items.Type}
	}
	if spec.Default != nil {
		out["default"] = spec.Default
	}
	if spec.Example != nil {
		out["example"] = spec.Example
	}
	return out
}

// Validate checks args against the tool's ParameterSpecs: missing
// required/required_for[action], enum violations, and type mismatches.
func (m *ToolModel) Validate(args map[string]any) *errs.Error {
	action, _ := args["action"].(string)

	for name, spec := range m.tool.Parameters {
		val, present := args[name]

		required := spec.Required
		if !required {
			for _, a := range spec.RequiredFor {
				if a == action {
					required = true
					break
				}
			}
		}
		if required && !present {
			return errs.Validation(fmt.Sprintf("missing required parameter %q", name), map[string]any{"parameter": name})
		}
		if !present {
			continue
		}

		if len(spec.Enum) > 0 {
			str, ok := val.(string)
			if !ok || !containsString(spec.Enum, str) {
				return errs.Validation(fmt.Sprintf("parameter %q must be one of %v", name, spec.Enum),
					map[string]any{"parameter": name, "enum": spec.Enum})
			}
		}

		if err := checkType(name, spec, val); err != nil {
			return err
		}
	}

	return nil
}

func checkType(name string, spec ParameterSpec, val any) *errs.Error {
	mismatch := func() *errs.Error {
		return errs.Validation(fmt.Sprintf("parameter %q must be of type %s", name, spec.Type),
			map[string]any{"parameter": name, "expected_type": spec.Type})
	}

	switch spec.Type {
	case TypeString:
		if _, ok := val.(string); !ok {
			return mismatch()
		}
	case TypeBoolean:
		if _, ok := val.(bool); !ok {
			return mismatch()
		}
	case TypeInteger, TypeNumber:
		switch v := val.(type) {
		case float64:
			if spec.Type == TypeInteger && v != float64(int64(v)) {
				return mismatch()
			}
		case int, int64:
		default:
			return mismatch()
		}
	case TypeArray:
		if _, ok := val.([]any); !ok {
			return mismatch()
		}
	case TypeObject:
		if _, ok := val.(map[string]any); !ok {
			return mismatch()
		}
	}
	return nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// MapActionToOperation picks the operation key by action or
// {action}_{resource_type} and returns the corresponding operationId.
func (m *ToolModel) MapActionToOperation(args map[string]any) (string, bool) {
	if !m.tool.isSimple() {
		return "", false
	}
	action, _ := args["action"].(string)
	if action == "" {
		return "", false
	}

	if opID, ok := m.tool.Operations[action]; ok {
		return opID, true
	}

	resourceType, _ := args["resource_type"].(string)
	if resourceType != "" {
		key := action + "_" + resourceType
		if opID, ok := m.tool.Operations[key]; ok {
			return opID, true
		}
	}

	return "", false
}
