package toolschema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSingleTool(t *testing.T) {
	raw := []byte(`[{"type":"function","function":{"name":"get_weather","description":"lookup weather","parameters":{"type":"object","properties":{"location":{"type":"string"},"units":{"type":"string","enum":["celsius","fahrenheit"]}},"required":["location"]}}}]`)
	tools := Parse(raw)
	require.Len(t, tools, 1)
	tool := tools[0]
	require.Equal(t, "get_weather", tool.Name)
	require.True(t, tool.Required["location"])
	require.False(t, tool.Required["units"])
	require.Len(t, tool.Parameters, 2)
	require.Equal(t, "location", tool.Parameters[0].Name)
	require.Equal(t, "units", tool.Parameters[1].Name)
	require.Equal(t, []string{"celsius", "fahrenheit"}, tool.Parameters[1].Enum)
}

func TestParseZeroParameterTool(t *testing.T) {
	raw := []byte(`[{"type":"function","function":{"name":"ping"}}]`)
	tools := Parse(raw)
	require.Len(t, tools, 1)
	require.Equal(t, "ping", tools[0].Name)
	require.Empty(t, tools[0].Parameters)
}

func TestParseDoubleWrappedCatalog(t *testing.T) {
	raw := []byte(`[{"function":{"type":"function","function":{"name":"t","parameters":{"type":"object","properties":{},"required":[]}}}}]`)
	tools := Parse(raw)
	require.Len(t, tools, 1)
	require.Equal(t, "t", tools[0].Name)
}

func TestParseDropsFailingEntriesButKeepsRest(t *testing.T) {
	raw := []byte(`[{"type":"function","function":{"description":"missing name"}},{"type":"function","function":{"name":"ok"}}]`)
	tools := Parse(raw)
	require.Len(t, tools, 1)
	require.Equal(t, "ok", tools[0].Name)
}

func TestParseAllFailingYieldsEmptyList(t *testing.T) {
	raw := []byte(`[{"type":"function","function":{"description":"no name"}}]`)
	tools := Parse(raw)
	require.Empty(t, tools)
}

func TestParseUnknownTypePreservedAsString(t *testing.T) {
	raw := []byte(`[{"type":"function","function":{"name":"t","parameters":{"type":"object","properties":{"x":{"type":"weird"}},"required":[]}}}]`)
	tools := Parse(raw)
	require.Len(t, tools, 1)
	require.Equal(t, "string", tools[0].Parameters[0].Type)
}

func TestNormalizeEntryIsIdempotent(t *testing.T) {
	wrapped := []byte(`{"function":{"type":"function","function":{"name":"t"}}}`)
	once := NormalizeEntry(wrapped)
	twice := NormalizeEntry(once)
	require.Equal(t, once, twice)
}

func TestNormalizeEntryLeavesSingleWrappedUnchanged(t *testing.T) {
	single := []byte(`{"type":"function","function":{"name":"t"}}`)
	require.Equal(t, single, NormalizeEntry(single))
}

func TestParseHandlesEmbeddedBracesInStrings(t *testing.T) {
	raw := []byte(`[{"type":"function","function":{"name":"echo","description":"says {things} back"}}]`)
	tools := Parse(raw)
	require.Len(t, tools, 1)
	require.Equal(t, "says {things} back", tools[0].Description)
}
