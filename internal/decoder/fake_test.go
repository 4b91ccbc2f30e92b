package decoder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeBackendStreamsScriptedBytes(t *testing.T) {
	backend := NewFakeBackend(`{"tool_calls":[]}`)
	chain, err := backend.NewChain()
	require.NoError(t, err)
	defer chain.Free()

	var out []byte
	for {
		tok, err := chain.Sample(context.Background())
		require.NoError(t, err)
		if tok == EndOfStream {
			break
		}
		b, err := backend.Detokenize(tok)
		require.NoError(t, err)
		out = append(out, b...)
	}
	require.Equal(t, `{"tool_calls":[]}`, string(out))
}

func TestFakeBackendGrammarCloneIsIndependent(t *testing.T) {
	backend := NewFakeBackend()
	canonical, err := backend.CompileGrammar("root ::= \"x\"", GrammarStrict)
	require.NoError(t, err)
	clone, err := canonical.Clone()
	require.NoError(t, err)
	require.NotSame(t, canonical, clone)
	clone.Free()
}

func TestFakeBackendStateRoundTrips(t *testing.T) {
	backend := NewFakeBackend()
	require.NoError(t, backend.Decode(context.Background(), []TokenID{1, 2, 3}))
	blob, err := backend.SaveState()
	require.NoError(t, err)

	other := NewFakeBackend()
	require.NoError(t, other.LoadState(blob))
	require.Equal(t, backend.kvCache, other.kvCache)
}

func TestFakeBackendRejectsEmptyGrammar(t *testing.T) {
	backend := NewFakeBackend()
	_, err := backend.CompileGrammar("", GrammarStrict)
	require.Error(t, err)
}
