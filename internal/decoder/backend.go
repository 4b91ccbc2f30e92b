// Package decoder defines the interface the orchestrator uses to drive an
// external decoder library (a native GGUF inference engine such as
// llama.cpp), and the sampler-chain/grammar types that flow through it.
// Backend has exactly one production implementation, CGOBackend, a cgo
// binding against llama.cpp's public C API; a second, in-memory fake
// backs tests and the CLI's demo mode.
package decoder

import "context"

// SamplerParams mirrors the spec's sampler-parameter record. The
// orchestrator passes the same record from its Config to the grammar
// lifecycle manager's ComposeChain each round, so the chain is rebuilt
// verbatim; the manager itself does not store it.
type SamplerParams struct {
	TopK          int
	TopP          float64
	Temperature   float64
	MinP          float64
	MirostatMode  int
	MirostatTau   float64
	MirostatEta   float64
	Seed          int64
}

// GrammarMode selects when a compiled grammar constraint activates.
type GrammarMode int

const (
	// GrammarStrict activates the constraint from the first sampled token.
	GrammarStrict GrammarMode = iota
	// GrammarLazy leaves generation unconstrained until a trigger literal
	// (`{`) appears in the stream.
	GrammarLazy
)

// GrammarHandle is an owned, compiled GBNF constraint. The manager holds
// exactly one canonical instance and clones it into each sampler chain;
// the canonical instance is never attached to a chain directly and Free
// on it must only ever be called once, at catalog replacement or
// shutdown.
type GrammarHandle interface {
	// Clone returns a new, independently-owned handle equivalent to this
	// one. The chain that receives it owns it and must Free it exactly
	// once when dropped.
	Clone() (GrammarHandle, error)
	// Reset clears the grammar's internal streaming state (its position
	// within the DFA/PDA) so the canonical instance can be reused for the
	// next turn without recompiling.
	Reset()
	Free()
}

// SamplerChain is an owned, ordered composition of sampler stages. The
// grammar lifecycle manager builds one per generation turn by calling the
// Add* methods in the order dictated by the spec's chain composition
// rule; the orchestrator then calls Sample per generated token and must
// Free the chain at turn end.
type SamplerChain interface {
	// AddGrammar prefixes the chain with a grammar-constraint clone. Must
	// be called first, if at all, so later stages see already-masked
	// logits. The chain takes ownership of grammar and frees it on Free.
	AddGrammar(grammar GrammarHandle)
	// AddMirostat appends a mirostat sampler. Per the composition rule
	// this is terminal: no further Add* calls are made on a chain that
	// calls this.
	AddMirostat(mode int, tau, eta float64)
	AddTemperature(temperature float64)
	AddTopK(k int)
	AddTopP(p float64)
	AddMinP(p float64)
	// AddDist appends a seeded distribution sampler, terminating the
	// chain.
	AddDist(seed int64)
	// AddGreedy appends a greedy (argmax) sampler, terminating the chain.
	AddGreedy()

	// Sample draws the next token id from the chain given the current
	// logits, then accepts it into any stateful stages (grammar, mirostat).
	Sample(ctx context.Context) (TokenID, error)
	Free()
}

// TokenID is a decoder-vocabulary token identifier.
type TokenID int32

// Backend is everything the orchestrator needs from the native decoder
// library: model/context lifecycle, tokenization, batched decode,
// grammar compilation, sampler chain composition, chat-template
// application, and KV-cache control.
type Backend interface {
	// Tokenize converts text into the model's token vocabulary.
	Tokenize(text string) ([]TokenID, error)
	// Detokenize renders a single token id back into its UTF-8 byte
	// fragment (which may not align to a code-point boundary; the
	// orchestrator's UTF-8 re-framer handles that).
	Detokenize(tok TokenID) ([]byte, error)
	// Decode runs a batched forward pass over the given tokens, appending
	// to the KV cache and making new logits available for sampling.
	Decode(ctx context.Context, tokens []TokenID) error
	// ClearKVCache drops all cached key/value state, so the next Decode
	// call starts a fresh sequence from position zero.
	ClearKVCache() error

	// CompileGrammar compiles GBNF source into a grammar handle. When mode
	// is GrammarLazy, the constraint stays dormant until the literal `{`
	// appears in the generated stream.
	CompileGrammar(gbnf string, mode GrammarMode) (GrammarHandle, error)

	// NewChain returns an empty, owned sampler chain ready for Add* calls.
	NewChain() (SamplerChain, error)

	// ApplyChatTemplate renders a message list into a single prompt string
	// using the model's embedded chat template.
	ApplyChatTemplate(messages []ChatMessageInput) (string, error)

	// SaveState and LoadState round-trip an opaque decoder state blob.
	SaveState() ([]byte, error)
	LoadState(blob []byte) error

	Close() error
}

// ChatMessageInput is the minimal message shape ApplyChatTemplate needs;
// kept separate from chatmodel.Message to avoid an import cycle between
// decoder and chatmodel.
type ChatMessageInput struct {
	Role    string
	Content string
}
