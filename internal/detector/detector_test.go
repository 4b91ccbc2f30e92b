package detector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccumulateByteByByteCompletesOnBalancedObject(t *testing.T) {
	d := New()
	input := `{"tool_calls":[{"name":"get_weather","arguments":{"location":"London"}}]}`
	var complete bool
	for i := 0; i < len(input); i++ {
		complete = d.Accumulate([]byte{input[i]})
		if i < len(input)-1 {
			require.False(t, complete, "completed early at byte %d", i)
		}
	}
	require.True(t, complete)
	require.Equal(t, input, string(d.Buffered()))
}

func TestCollectingImpliesDepthAtLeastOne(t *testing.T) {
	d := New()
	d.Accumulate([]byte(`{"a":1`))
	require.True(t, d.Collecting())
	require.GreaterOrEqual(t, d.Depth(), 1)
}

func TestNotCollectingImpliesEmptyBufferAndZeroDepth(t *testing.T) {
	d := New()
	require.False(t, d.Collecting())
	require.Zero(t, d.Depth())
	require.Empty(t, d.Buffered())
}

func TestEmbeddedBracesInStringDoNotAffectDepth(t *testing.T) {
	d := New()
	input := `{"tool_calls":[{"name":"echo","arguments":{"text":"{not a brace}"}}]}`
	complete := d.Accumulate([]byte(input))
	require.True(t, complete)
	require.Equal(t, input, string(d.Buffered()))
}

func TestEscapedQuoteInsideStringDoesNotEndIt(t *testing.T) {
	d := New()
	input := `{"name":"echo","arguments":{"text":"a \"quoted\" } brace"}}`
	complete := d.Accumulate([]byte(input))
	require.True(t, complete)
}

func TestIgnoresLeadingBytesBeforeFirstBrace(t *testing.T) {
	d := New()
	complete := d.Accumulate([]byte(`garbage before `))
	require.False(t, complete)
	require.False(t, d.Collecting())
	complete = d.Accumulate([]byte(`{"name":"t","arguments":{}}`))
	require.True(t, complete)
}

func TestExtractWrapsBareToolCall(t *testing.T) {
	buf := []byte(`{"name":"get_weather","arguments":{"location":"London"}}`)
	env, ok := Extract(buf)
	require.True(t, ok)
	require.Len(t, env.ToolCalls, 1)
	require.Equal(t, "get_weather", env.ToolCalls[0].Function.Name)
	require.Equal(t, `{"location":"London"}`, env.ToolCalls[0].Function.Arguments)
}

func TestExtractPassesThroughToolCallsEnvelope(t *testing.T) {
	buf := []byte(`{"tool_calls":[{"name":"get_weather","arguments":{"location":"London"}}]}`)
	env, ok := Extract(buf)
	require.True(t, ok)
	require.Equal(t, "get_weather", env.ToolCalls[0].Function.Name)
	require.Equal(t, `{"location":"London"}`, env.ToolCalls[0].Function.Arguments)
}

func TestExtractFailsWithoutNameOrArguments(t *testing.T) {
	buf := []byte(`{"foo":"bar"}`)
	_, ok := Extract(buf)
	require.False(t, ok)
}

func TestExtractDefaultsNameToToolWhenMissing(t *testing.T) {
	buf := []byte(`{"tool_calls":[{"arguments":{}}]}`)
	env, ok := Extract(buf)
	require.True(t, ok)
	require.Equal(t, "tool", env.ToolCalls[0].Function.Name)
}
