package chattemplate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSupportsToolCallingAcceptsAnyModelWithATemplate(t *testing.T) {
	require.True(t, SupportsToolCalling("{{ bos_token }}{% for message in messages %}..."))
	require.False(t, SupportsToolCalling(""))
	require.False(t, SupportsToolCalling("   "))
}

func TestFindStopStringReturnsEarliestMatch(t *testing.T) {
	text := "Hello, Sam.\nUser: what now<|im_end|>"
	stop, idx, ok := FindStopString(text, KnownStopStrings())
	require.True(t, ok)
	require.Equal(t, "\nUser:", stop)
	require.Equal(t, 11, idx)
}

func TestFindStopStringNoMatch(t *testing.T) {
	_, _, ok := FindStopString("plain text", KnownStopStrings())
	require.False(t, ok)
}

func TestStripStopStringRemovesSuffix(t *testing.T) {
	out := StripStopString("Hello, Sam.<|im_end|>extra", "<|im_end|>")
	require.Equal(t, "Hello, Sam.", out)
}
