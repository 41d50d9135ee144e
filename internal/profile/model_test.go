package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_BuildsInputSchemaFromParameters(t *testing.T) {
	tool := Tool{
		Name: "widget_tool",
		Parameters: map[string]ParameterSpec{
			"action": {Type: TypeString, Required: true, Enum: []string{"get", "list"}},
			"limit":  {Type: TypeInteger},
		},
	}
	m := NewToolModel(&tool)
	desc := m.Generate()

	assert.Equal(t, "widget_tool", desc.Name)
	assert.Contains(t, string(desc.InputSchema), `"action"`)
	assert.Contains(t, string(desc.InputSchema), `"required"`)
}

func TestValidate_MissingRequiredParameter(t *testing.T) {
	tool := Tool{
		Name: "t",
		Parameters: map[string]ParameterSpec{
			"action": {Type: TypeString, Required: true},
		},
	}
	m := NewToolModel(&tool)
	err := m.Validate(map[string]any{})
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "action")
}

func TestValidate_RequiredForAction(t *testing.T) {
	tool := Tool{
		Name: "t",
		Parameters: map[string]ParameterSpec{
			"widget_id": {Type: TypeString, RequiredFor: []string{"get"}},
		},
	}
	m := NewToolModel(&tool)

	err := m.Validate(map[string]any{"action": "get"})
	require.NotNil(t, err)

	err = m.Validate(map[string]any{"action": "list"})
	assert.Nil(t, err)
}

func TestValidate_EnumViolation(t *testing.T) {
	tool := Tool{
		Name: "t",
		Parameters: map[string]ParameterSpec{
			"action": {Type: TypeString, Enum: []string{"get", "list"}},
		},
	}
	m := NewToolModel(&tool)
	err := m.Validate(map[string]any{"action": "delete"})
	require.NotNil(t, err)
}

func TestValidate_TypeMismatch(t *testing.T) {
	tool := Tool{
		Name: "t",
		Parameters: map[string]ParameterSpec{
			"count": {Type: TypeInteger},
		},
	}
	m := NewToolModel(&tool)
	err := m.Validate(map[string]any{"count": "not-a-number"})
	require.NotNil(t, err)

	err = m.Validate(map[string]any{"count": float64(3)})
	assert.Nil(t, err)
}

func TestMapActionToOperation_ByActionAlone(t *testing.T) {
	tool := Tool{
		Name:       "t",
		Operations: map[string]string{"list": "listWidgets"},
	}
	m := NewToolModel(&tool)
	opID, ok := m.MapActionToOperation(map[string]any{"action": "list"})
	require.True(t, ok)
	assert.Equal(t, "listWidgets", opID)
}

func TestMapActionToOperation_ByActionAndResourceType(t *testing.T) {
	tool := Tool{
		Name:       "t",
		Operations: map[string]string{"get_widget": "getWidget"},
	}
	m := NewToolModel(&tool)
	opID, ok := m.MapActionToOperation(map[string]any{"action": "get", "resource_type": "widget"})
	require.True(t, ok)
	assert.Equal(t, "getWidget", opID)
}

func TestMapActionToOperation_NoMatch(t *testing.T) {
	tool := Tool{Name: "t", Operations: map[string]string{"list": "listWidgets"}}
	m := NewToolModel(&tool)
	_, ok := m.MapActionToOperation(map[string]any{"action": "delete"})
	assert.False(t, ok)
}

func TestDefaultShortener_LeavesShortNamesAlone(t *testing.T) {
	s := DefaultShortener{}
	assert.Equal(t, "short", s.Shorten("short", 64))
}

func TestDefaultShortener_TruncatesLongNamesDeterministically(t *testing.T) {
	s := DefaultShortener{}
	long := "a_very_long_operation_id_that_exceeds_the_configured_maximum_tool_name_length"
	short1 := s.Shorten(long, 40)
	short2 := s.Shorten(long, 40)
	assert.Equal(t, short1, short2)
	assert.LessOrEqual(t, len(short1), 40)
}
