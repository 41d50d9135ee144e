// Package profile implements the profile-driven tool model: the Profile
// configuration tree, its semantic validation, and the ToolModel +
// ArgumentValidator that turn profile tools into MCP tool descriptors and
// route validated arguments to operations.
package profile

import "encoding/json"

// ParameterType is the closed set of JSON-schema-ish parameter types a
// Tool parameter may declare.
type ParameterType string

const (
	TypeString  ParameterType = "string"
	TypeInteger ParameterType = "integer"
	TypeNumber  ParameterType = "number"
	TypeBoolean ParameterType = "boolean"
	TypeArray   ParameterType = "array"
	TypeObject  ParameterType = "object"
)

// ItemsSpec describes the element type of an "array" ParameterSpec.
type ItemsSpec struct {
	Type ParameterType `json:"type"`
}

// ParameterSpec describes one parameter of a Tool.
type ParameterSpec struct {
	Type        ParameterType  `json:"type"`
	Description string         `json:"description,omitempty"`
	Required    bool           `json:"required,omitempty"`
	RequiredFor []string       `json:"required_for,omitempty"`
	Enum        []string       `json:"enum,omitempty"`
	Items       *ItemsSpec     `json:"items,omitempty"`
	Default     any            `json:"default,omitempty"`
	Example     any            `json:"example,omitempty"`
}

// CompositeStep is one step of a composite Tool's DAG.
type CompositeStep struct {
	Call      string   `json:"call"` // "METHOD /path/template"
	StoreAs   string   `json:"store_as"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// Tool is either simple (Operations non-empty) or composite
// (Composite=true, Steps non-empty); never both empty.
type Tool struct {
	Name             string                     `json:"name"`
	Description      string                     `json:"description,omitempty"`
	Parameters       map[string]ParameterSpec   `json:"parameters,omitempty"`
	Operations       map[string]string          `json:"operations,omitempty"` // operation_key -> operationId
	Composite        bool                       `json:"composite,omitempty"`
	Steps            []CompositeStep            `json:"steps,omitempty"`
	MetadataParams   []string                   `json:"metadata_params,omitempty"`
	ResponseFields   map[string][]string        `json:"response_fields,omitempty"` // action -> kept fields
	PartialResults   bool                       `json:"partial_results,omitempty"`
	ParameterAliases map[string][]string        `json:"parameter_aliases,omitempty"`
}

// Profile is the configuration tree loaded once at startup.
type Profile struct {
	ProfileName  string            `json:"profile_name"`
	Actions      []string          `json:"action_enum,omitempty"`
	Resources    []string          `json:"resource_type_enum,omitempty"`
	Tools        []Tool            `json:"tools"`
	Interceptors InterceptorConfig `json:"interceptors,omitempty"`
}

// MetadataParamsOrDefault returns t.MetadataParams, defaulting to
// {action, resource_type} per spec §3.
func (t *Tool) MetadataParamsOrDefault() []string {
	if len(t.MetadataParams) > 0 {
		return t.MetadataParams
	}
	return []string{"action", "resource_type"}
}

func (t *Tool) isSimple() bool {
	return !t.Composite && len(t.Operations) > 0
}

// marshalRaw is a small helper shared by generate() to produce
// json.RawMessage without repeating error handling at every call site.
func marshalRaw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
