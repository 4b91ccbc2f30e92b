package decoder

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FakeBackend is an in-memory Backend used by tests and the CLI's demo
// mode. It never claims functional coverage of the real decoder: it
// tokenizes by splitting on whitespace and plays back a scripted
// response instead of running a real forward pass.
type FakeBackend struct {
	mu sync.Mutex

	// Script is consumed one entry per ComposeChain/NewChain generation
	// round: each call to Decode followed by repeated Sample calls emits
	// the bytes of Script[roundIndex], then an end-of-stream sentinel.
	Script []string
	round  int

	kvCache []TokenID
	closed  bool
}

// NewFakeBackend returns a FakeBackend that will stream the given
// responses in order, one per round.
func NewFakeBackend(script ...string) *FakeBackend {
	return &FakeBackend{Script: script}
}

func (f *FakeBackend) Tokenize(text string) ([]TokenID, error) {
	fields := strings.Fields(text)
	toks := make([]TokenID, len(fields))
	for i := range fields {
		toks[i] = TokenID(i + 1)
	}
	return toks, nil
}

// Detokenize treats tok as a literal byte value: fakeChain.Sample streams
// scripted response text one byte per token, so detokenizing just
// reverses that.
func (f *FakeBackend) Detokenize(tok TokenID) ([]byte, error) {
	if tok < 0 || tok > 255 {
		return nil, fmt.Errorf("decoder: fake backend token %d out of byte range", tok)
	}
	return []byte{byte(tok)}, nil
}

func (f *FakeBackend) Decode(ctx context.Context, tokens []TokenID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kvCache = append(f.kvCache, tokens...)
	return nil
}

func (f *FakeBackend) ClearKVCache() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kvCache = nil
	return nil
}

func (f *FakeBackend) CompileGrammar(gbnf string, mode GrammarMode) (GrammarHandle, error) {
	if gbnf == "" {
		return nil, fmt.Errorf("decoder: empty grammar source")
	}
	return &fakeGrammar{mode: mode}, nil
}

func (f *FakeBackend) NewChain() (SamplerChain, error) {
	f.mu.Lock()
	text := ""
	if f.round < len(f.Script) {
		text = f.Script[f.round]
	}
	f.round++
	f.mu.Unlock()
	return &fakeChain{remaining: []byte(text)}, nil
}

func (f *FakeBackend) ApplyChatTemplate(messages []ChatMessageInput) (string, error) {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "<%s>%s</%s>", m.Role, m.Content, m.Role)
	}
	return b.String(), nil
}

func (f *FakeBackend) SaveState() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.kvCache)*4)
	for i, t := range f.kvCache {
		out[i*4] = byte(t)
	}
	return out, nil
}

func (f *FakeBackend) LoadState(blob []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kvCache = make([]TokenID, len(blob)/4)
	for i := range f.kvCache {
		f.kvCache[i] = TokenID(blob[i*4])
	}
	return nil
}

func (f *FakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeGrammar struct {
	mode GrammarMode
	freed bool
}

func (g *fakeGrammar) Clone() (GrammarHandle, error) {
	return &fakeGrammar{mode: g.mode}, nil
}

func (g *fakeGrammar) Reset() {}

func (g *fakeGrammar) Free() { g.freed = true }

// fakeChain plays back the bytes of a scripted response one at a time,
// ignoring every sampler stage it's configured with (the fake backend
// has no logits to mask). EndOfStream is signalled by TokenID(-1).
type fakeChain struct {
	remaining []byte
	grammar   GrammarHandle
	freed     bool
}

const EndOfStream TokenID = -1

func (c *fakeChain) AddGrammar(grammar GrammarHandle)          { c.grammar = grammar }
func (c *fakeChain) AddMirostat(mode int, tau, eta float64)    {}
func (c *fakeChain) AddTemperature(temperature float64)        {}
func (c *fakeChain) AddTopK(k int)                             {}
func (c *fakeChain) AddTopP(p float64)                          {}
func (c *fakeChain) AddMinP(p float64)                          {}
func (c *fakeChain) AddDist(seed int64)                        {}
func (c *fakeChain) AddGreedy()                                {}

func (c *fakeChain) Sample(ctx context.Context) (TokenID, error) {
	if len(c.remaining) == 0 {
		return EndOfStream, nil
	}
	b := c.remaining[0]
	c.remaining = c.remaining[1:]
	return TokenID(b), nil
}

func (c *fakeChain) Free() {
	c.freed = true
	if c.grammar != nil {
		c.grammar.Free()
	}
}
