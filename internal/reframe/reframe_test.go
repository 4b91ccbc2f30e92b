package reframe

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestFeedPassesThroughCompleteASCII(t *testing.T) {
	r := New()
	out := r.Feed([]byte("hello"))
	require.Equal(t, "hello", string(out))
	require.Nil(t, r.Flush())
}

func TestFeedHoldsBackIncompleteMultiByteSuffix(t *testing.T) {
	r := New()
	full := []byte("café") // "café", é is 2 bytes: 0xC3 0xA9
	partial := full[:len(full)-1]
	out := r.Feed(partial)
	require.Equal(t, "caf", string(out))

	out2 := r.Feed(full[len(full)-1:])
	require.Equal(t, "é", string(out2))
	require.Nil(t, r.Flush())
}

func TestFlushEmitsReplacementCharForDanglingBytes(t *testing.T) {
	r := New()
	full := []byte("é")
	r.Feed(full[:1])
	out := r.Flush()
	require.Equal(t, string(utf8.RuneError), string(out))
}

func TestRoundTripConcatenationEqualsInputWithTrailingReplacement(t *testing.T) {
	r := New()
	input := []byte("abcédef")
	var out []byte
	for i := 0; i < len(input); i++ {
		out = append(out, r.Feed(input[i:i+1])...)
	}
	require.Nil(t, r.Flush())
	require.Equal(t, string(input), string(out))
}
