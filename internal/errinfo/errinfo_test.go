package errinfo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCatalogErrors(t *testing.T) {
	invalid := CatalogInvalidSchema("missing name")
	require.Equal(t, CodeCatalogInvalidSchema, invalid.ErrorCode)
	require.Contains(t, invalid.Actions, ActionCheckCatalog)

	empty := CatalogEmpty()
	require.Equal(t, CodeCatalogEmpty, empty.ErrorCode)
	require.False(t, empty.Retryable)
}

func TestGrammarBuildFailedIsNotRetryable(t *testing.T) {
	err := GrammarBuildFailed(SubphaseNormalize, "typed build empty")
	require.Equal(t, CodeGrammarBuildFailed, err.ErrorCode)
	require.Equal(t, PhaseGrammar, err.Phase)
	require.False(t, err.Retryable)
}

func TestDecodeErrors(t *testing.T) {
	decode := DecodeFailed(SubphaseGenerate, "native decode step failed")
	require.Equal(t, CodeDecodeFailed, decode.ErrorCode)
	require.True(t, decode.Retryable)

	overflow := ContextOverflow("kv cache full")
	require.Equal(t, CodeContextOverflow, overflow.ErrorCode)
	require.False(t, overflow.Retryable)

	unavailable := DecoderUnavailable("circuit open")
	require.Equal(t, CodeDecoderUnavailable, unavailable.ErrorCode)
	require.Contains(t, unavailable.Actions, ActionRestartModel)
}

func TestRoundBudgetExceededDetail(t *testing.T) {
	err := RoundBudgetExceeded(2)
	require.Equal(t, CodeRoundBudgetExceeded, err.ErrorCode)
	require.Equal(t, "max rounds exceeded: 2", err.Detail)
}

func TestToolCallParseFailedCarriesToolName(t *testing.T) {
	err := ToolCallParseFailed("get_weather", "missing arguments")
	require.Equal(t, "get_weather", err.ToolName)
	require.Equal(t, PhaseDetect, err.Phase)
}
