//go:build cgo

// This file binds Backend to llama.cpp's public C API through a small
// wrapper header, following the shape of llama-go's llama_wrapper_*
// bridge: one opaque pointer per native object, explicit free functions,
// and Go-side finalizers as a backstop (not a substitute) for explicit
// Close/Free calls.
package decoder

/*
#cgo CFLAGS: -I${SRCDIR}/llama.cpp/include -I${SRCDIR}/llama.cpp/ggml/include
#cgo LDFLAGS: -L${SRCDIR}/llama.cpp -lllama -lggml -lggml-cpu -lggml-base -lstdc++ -lm
#include "llama_bridge.h"
#include <stdlib.h>
*/
import "C"

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"unsafe"
)

// CGOBackend is the production Backend implementation: a cgo binding
// against llama.cpp's model/context/sampler/grammar API.
type CGOBackend struct {
	mu      sync.Mutex
	model   *C.llama_bridge_model_t
	context *C.llama_bridge_context_t
	closed  bool
}

// LoadOptions configures model and context creation.
type LoadOptions struct {
	ModelPath   string
	ContextSize int
	Threads     int
	GPULayers   int
}

// NewCGOBackend loads a GGUF model and creates a decode context for it.
func NewCGOBackend(opts LoadOptions) (*CGOBackend, error) {
	cPath := C.CString(opts.ModelPath)
	defer C.free(unsafe.Pointer(cPath))

	modelPtr := C.llama_bridge_model_load(cPath, C.int(opts.GPULayers))
	if modelPtr == nil {
		return nil, fmt.Errorf("decoder: failed to load model %q: %s", opts.ModelPath, C.GoString(C.llama_bridge_last_error()))
	}

	ctxPtr := C.llama_bridge_context_create(modelPtr, C.int(opts.ContextSize), C.int(opts.Threads))
	if ctxPtr == nil {
		C.llama_bridge_model_free(modelPtr)
		return nil, fmt.Errorf("decoder: failed to create context: %s", C.GoString(C.llama_bridge_last_error()))
	}

	backend := &CGOBackend{model: modelPtr, context: ctxPtr}
	runtime.SetFinalizer(backend, (*CGOBackend).Close)
	return backend, nil
}

func (b *CGOBackend) Tokenize(text string) ([]TokenID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("decoder: backend closed")
	}
	cText := C.CString(text)
	defer C.free(unsafe.Pointer(cText))

	capacity := C.int(len(text) + 8)
	buf := make([]C.int32_t, capacity)
	n := C.llama_bridge_tokenize(b.model, cText, &buf[0], capacity)
	if n < 0 {
		return nil, fmt.Errorf("decoder: tokenize failed: %s", C.GoString(C.llama_bridge_last_error()))
	}
	out := make([]TokenID, n)
	for i := 0; i < int(n); i++ {
		out[i] = TokenID(buf[i])
	}
	return out, nil
}

func (b *CGOBackend) Detokenize(tok TokenID) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("decoder: backend closed")
	}
	var buf [32]C.char
	n := C.llama_bridge_token_to_piece(b.model, C.int32_t(tok), &buf[0], C.int(len(buf)))
	if n < 0 {
		return nil, fmt.Errorf("decoder: detokenize failed for token %d", tok)
	}
	return C.GoBytes(unsafe.Pointer(&buf[0]), n), nil
}

func (b *CGOBackend) Decode(ctx context.Context, tokens []TokenID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("decoder: backend closed")
	}
	if len(tokens) == 0 {
		return nil
	}
	cTokens := make([]C.int32_t, len(tokens))
	for i, t := range tokens {
		cTokens[i] = C.int32_t(t)
	}
	rc := C.llama_bridge_decode(b.context, &cTokens[0], C.int(len(cTokens)))
	if rc != 0 {
		return fmt.Errorf("decoder: decode step failed: %s", C.GoString(C.llama_bridge_last_error()))
	}
	return nil
}

func (b *CGOBackend) ClearKVCache() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("decoder: backend closed")
	}
	C.llama_bridge_kv_cache_clear(b.context)
	return nil
}

func (b *CGOBackend) CompileGrammar(gbnf string, mode GrammarMode) (GrammarHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("decoder: backend closed")
	}
	cGBNF := C.CString(gbnf)
	defer C.free(unsafe.Pointer(cGBNF))

	var lazy C.bool
	var cTrigger *C.char
	if mode == GrammarLazy {
		lazy = true
		trigger := C.CString(`\{`)
		defer C.free(unsafe.Pointer(trigger))
		cTrigger = trigger
	}
	ptr := C.llama_bridge_grammar_compile(b.model, cGBNF, lazy, cTrigger)
	if ptr == nil {
		return nil, fmt.Errorf("decoder: grammar compile failed: %s", C.GoString(C.llama_bridge_last_error()))
	}
	g := &cgoGrammar{ptr: ptr}
	runtime.SetFinalizer(g, (*cgoGrammar).Free)
	return g, nil
}

func (b *CGOBackend) NewChain() (SamplerChain, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("decoder: backend closed")
	}
	ptr := C.llama_bridge_sampler_chain_init()
	if ptr == nil {
		return nil, fmt.Errorf("decoder: sampler chain init failed")
	}
	chain := &cgoChain{ptr: ptr, context: b.context}
	runtime.SetFinalizer(chain, (*cgoChain).Free)
	return chain, nil
}

func (b *CGOBackend) ApplyChatTemplate(messages []ChatMessageInput) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", fmt.Errorf("decoder: backend closed")
	}
	roles := make([]*C.char, len(messages))
	contents := make([]*C.char, len(messages))
	for i, m := range messages {
		roles[i] = C.CString(m.Role)
		contents[i] = C.CString(m.Content)
	}
	defer func() {
		for i := range messages {
			C.free(unsafe.Pointer(roles[i]))
			C.free(unsafe.Pointer(contents[i]))
		}
	}()
	var rolesPtr, contentsPtr **C.char
	if len(messages) > 0 {
		rolesPtr = (**C.char)(unsafe.Pointer(&roles[0]))
		contentsPtr = (**C.char)(unsafe.Pointer(&contents[0]))
	}
	buf := make([]C.char, 1<<16)
	n := C.llama_bridge_apply_chat_template(b.model, rolesPtr, contentsPtr, C.int(len(messages)), &buf[0], C.int(len(buf)))
	if n < 0 {
		return "", fmt.Errorf("decoder: chat template application failed: %s", C.GoString(C.llama_bridge_last_error()))
	}
	return C.GoStringN(&buf[0], n), nil
}

func (b *CGOBackend) SaveState() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("decoder: backend closed")
	}
	size := C.llama_bridge_state_size(b.context)
	if size <= 0 {
		return nil, nil
	}
	buf := make([]byte, int(size))
	written := C.llama_bridge_state_save(b.context, (*C.uint8_t)(unsafe.Pointer(&buf[0])), size)
	if written < 0 {
		return nil, fmt.Errorf("decoder: state save failed")
	}
	return buf[:written], nil
}

func (b *CGOBackend) LoadState(blob []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("decoder: backend closed")
	}
	if len(blob) == 0 {
		return nil
	}
	rc := C.llama_bridge_state_load(b.context, (*C.uint8_t)(unsafe.Pointer(&blob[0])), C.size_t(len(blob)))
	if rc != 0 {
		return fmt.Errorf("decoder: state load failed")
	}
	return nil
}

func (b *CGOBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	runtime.SetFinalizer(b, nil)
	if b.context != nil {
		C.llama_bridge_context_free(b.context)
	}
	if b.model != nil {
		C.llama_bridge_model_free(b.model)
	}
	return nil
}

// cgoGrammar wraps a single llama_bridge_grammar_t*. Per the ownership
// rule, only clones (never the canonical compiled instance) are attached
// to a chain, and each clone is freed exactly once when its owning chain
// is freed.
type cgoGrammar struct {
	ptr  *C.llama_bridge_grammar_t
	mu   sync.Mutex
	freed bool
}

func (g *cgoGrammar) Clone() (GrammarHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.freed {
		return nil, fmt.Errorf("decoder: cannot clone a freed grammar handle")
	}
	clonePtr := C.llama_bridge_grammar_clone(g.ptr)
	if clonePtr == nil {
		return nil, fmt.Errorf("decoder: grammar clone failed")
	}
	clone := &cgoGrammar{ptr: clonePtr}
	runtime.SetFinalizer(clone, (*cgoGrammar).Free)
	return clone, nil
}

func (g *cgoGrammar) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.freed {
		C.llama_bridge_grammar_reset(g.ptr)
	}
}

func (g *cgoGrammar) Free() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.freed {
		return
	}
	g.freed = true
	runtime.SetFinalizer(g, nil)
	C.llama_bridge_grammar_free(g.ptr)
}

type cgoChain struct {
	ptr     *C.llama_bridge_sampler_chain_t
	context *C.llama_bridge_context_t
	grammar *cgoGrammar
	mu      sync.Mutex
	freed   bool
}

func (c *cgoChain) AddGrammar(grammar GrammarHandle) {
	g, ok := grammar.(*cgoGrammar)
	if !ok || g == nil {
		return
	}
	c.grammar = g
	C.llama_bridge_chain_add_grammar(c.ptr, g.ptr)
}

func (c *cgoChain) AddMirostat(mode int, tau, eta float64) {
	C.llama_bridge_chain_add_mirostat(c.ptr, C.int(mode), C.float(tau), C.float(eta))
}

func (c *cgoChain) AddTemperature(temperature float64) {
	C.llama_bridge_chain_add_temp(c.ptr, C.float(temperature))
}

func (c *cgoChain) AddTopK(k int) {
	C.llama_bridge_chain_add_top_k(c.ptr, C.int(k))
}

func (c *cgoChain) AddTopP(p float64) {
	C.llama_bridge_chain_add_top_p(c.ptr, C.float(p))
}

func (c *cgoChain) AddMinP(p float64) {
	C.llama_bridge_chain_add_min_p(c.ptr, C.float(p))
}

func (c *cgoChain) AddDist(seed int64) {
	C.llama_bridge_chain_add_dist(c.ptr, C.uint32_t(seed))
}

func (c *cgoChain) AddGreedy() {
	C.llama_bridge_chain_add_greedy(c.ptr)
}

func (c *cgoChain) Sample(ctx context.Context) (TokenID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.freed {
		return 0, fmt.Errorf("decoder: sampler chain already freed")
	}
	tok := C.llama_bridge_chain_sample(c.ptr, c.context)
	if tok < 0 {
		return 0, fmt.Errorf("decoder: sample failed")
	}
	C.llama_bridge_chain_accept(c.ptr, tok)
	return TokenID(tok), nil
}

// Free releases the chain and, per the ownership rule, the grammar clone
// it holds (if any) — exactly once.
func (c *cgoChain) Free() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.freed {
		return
	}
	c.freed = true
	runtime.SetFinalizer(c, nil)
	C.llama_bridge_chain_free(c.ptr)
	if c.grammar != nil {
		c.grammar.Free()
	}
}
