package argschema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"toolrunner/engine/internal/chatmodel"
)

const catalog = `[
  {"type":"function","function":{"name":"get_weather","description":"d",
    "parameters":{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}}}
]`

func TestValidateFlagsMissingRequiredField(t *testing.T) {
	reg, err := Compile([]byte(catalog))
	require.NoError(t, err)

	call := chatmodel.ToolCall{
		Function: chatmodel.ToolCallFunction{Name: "get_weather", Arguments: `{}`},
	}
	warnings := reg.Validate(call)
	require.NotEmpty(t, warnings)
}

func TestValidateAcceptsWellFormedArguments(t *testing.T) {
	reg, err := Compile([]byte(catalog))
	require.NoError(t, err)

	call := chatmodel.ToolCall{
		Function: chatmodel.ToolCallFunction{Name: "get_weather", Arguments: `{"city":"lyon"}`},
	}
	require.Empty(t, reg.Validate(call))
}

func TestValidateUnknownToolNameProducesNoWarnings(t *testing.T) {
	reg, err := Compile([]byte(catalog))
	require.NoError(t, err)

	call := chatmodel.ToolCall{
		Function: chatmodel.ToolCallFunction{Name: "unregistered", Arguments: `{}`},
	}
	require.Empty(t, reg.Validate(call))
}

func TestNilRegistryValidateIsNoop(t *testing.T) {
	var reg *Registry
	require.Empty(t, reg.Validate(chatmodel.ToolCall{}))
}
