package grammar

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"toolrunner/engine/internal/chatmodel"
)

func TestSynthesizeEmptyToolsReturnsEmpty(t *testing.T) {
	require.Empty(t, Synthesize(nil))
}

func TestSynthesizeZeroParamTool(t *testing.T) {
	tools := []chatmodel.ParsedTool{{Name: "ping", Required: map[string]bool{}}}
	g := Synthesize(tools)
	require.Contains(t, g, `args_t0 ::= "{" ws "}"`)
	require.Contains(t, g, `"\"ping\""`)
}

func TestSynthesizeRequiredOnly(t *testing.T) {
	tools := []chatmodel.ParsedTool{{
		Name: "get_weather",
		Parameters: []chatmodel.ParsedParameter{
			{Name: "location", Type: "string"},
		},
		Required: map[string]bool{"location": true},
	}}
	g := Synthesize(tools)
	require.Contains(t, g, "args_t0 ::= \"{\" ws kv_t0_p0 ws \"}\"")
	require.NotContains(t, strings.TrimSuffix(g, commonTerminals), "?")
}

func TestSynthesizeOptionalOnlyAllowsAnyPrefix(t *testing.T) {
	tools := []chatmodel.ParsedTool{{
		Name: "search",
		Parameters: []chatmodel.ParsedParameter{
			{Name: "query", Type: "string"},
			{Name: "limit", Type: "integer"},
		},
		Required: map[string]bool{},
	}}
	g := Synthesize(tools)
	require.Contains(t, g, `args_t0 ::= "{" ws (kv_t0_p0 (ws "," ws kv_t0_p1)?)? ws "}"`)
}

func TestSynthesizeRequiredPlusOptional(t *testing.T) {
	tools := []chatmodel.ParsedTool{{
		Name: "search",
		Parameters: []chatmodel.ParsedParameter{
			{Name: "query", Type: "string"},
			{Name: "limit", Type: "integer"},
		},
		Required: map[string]bool{"query": true},
	}}
	g := Synthesize(tools)
	require.Contains(t, g, `args_t0 ::= "{" ws kv_t0_p0 (ws "," ws kv_t0_p1)? ws "}"`)
}

func TestSynthesizeEnumRestrictsToLiterals(t *testing.T) {
	tools := []chatmodel.ParsedTool{{
		Name: "get_weather",
		Parameters: []chatmodel.ParsedParameter{
			{Name: "units", Type: "string", Enum: []string{"celsius", "fahrenheit"}},
		},
		Required: map[string]bool{"units": true},
	}}
	g := Synthesize(tools)
	require.Contains(t, g, `"\"celsius\"" | "\"fahrenheit\""`)
	require.NotContains(t, g, "kv_t0_p0 ::= \"\\\"units\\\"\" ws \":\" ws string")
}

func TestSynthesizeMultipleToolsProduceDisjunction(t *testing.T) {
	tools := []chatmodel.ParsedTool{
		{Name: "a", Required: map[string]bool{}},
		{Name: "b", Required: map[string]bool{}},
	}
	g := Synthesize(tools)
	firstLine := strings.Split(g, "\n")[2]
	require.Equal(t, "call ::= call_t0 | call_t1", firstLine)
}

func TestGenericFallback(t *testing.T) {
	g := Generic([]string{"a", "b"})
	require.Contains(t, g, `name ::= "\"a\"" | "\"b\""`)
	require.Empty(t, Generic(nil))
}
