// Package grammarmgr holds the canonical compiled grammar for the active
// tool catalog and composes per-turn sampler chains that each borrow a
// clone of it, per the grammar lifecycle manager contract (C3).
package grammarmgr

import (
	"fmt"

	"go.uber.org/zap"

	"toolrunner/engine/internal/chatmodel"
	"toolrunner/engine/internal/decoder"
	"toolrunner/engine/internal/diff"
	"toolrunner/engine/internal/errinfo"
	"toolrunner/engine/internal/grammar"
)

// Manager owns at most one canonical compiled grammar and rebuilds it
// only when the catalog text changes.
type Manager struct {
	backend decoder.Backend
	logger  *zap.Logger
	mode    decoder.GrammarMode

	catalogText string
	canonical   decoder.GrammarHandle
	lastWarning *errinfo.ErrorInfo
}

// New constructs a Manager. mode is the configured grammar activation
// mode (STRICT or LAZY); the build policy also tries the alternate mode
// if the configured one fails to compile.
func New(backend decoder.Backend, mode decoder.GrammarMode, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{backend: backend, mode: mode, logger: logger}
}

// UpdateIfNeeded rebuilds the canonical grammar iff catalogText differs
// from the cached copy or Invalidate has been called since. It is
// idempotent and always records catalogText, even on build failure, so a
// caller retrying every round does not trigger a rebuild storm.
func (m *Manager) UpdateIfNeeded(catalogText string, tools []chatmodel.ParsedTool) *errinfo.ErrorInfo {
	if catalogText == m.catalogText && m.catalogText != "" {
		return nil
	}
	if m.catalogText != "" {
		if hunks, truncated := diff.TextDiffWithLimit(m.catalogText, catalogText, 0); !truncated {
			m.logger.Debug("grammarmgr.catalog_changed", zap.Int("hunks", len(hunks)))
		} else {
			m.logger.Debug("grammarmgr.catalog_changed", zap.String("diff", "too large to render"))
		}
	}

	previous := m.canonical
	m.catalogText = catalogText
	m.canonical = nil
	m.lastWarning = nil

	handle, warning := m.build(tools)
	m.canonical = handle
	m.lastWarning = warning

	if previous != nil {
		previous.Free()
	}
	return warning
}

// Invalidate forces the next UpdateIfNeeded call to rebuild even if the
// catalog text is unchanged.
func (m *Manager) Invalidate() {
	m.catalogText = ""
}

// build implements the spec's build policy: typed-then-generic at both
// the configured mode and its alternate, recording a demoted warning and
// leaving tool-calling enabled unconstrained if every attempt fails.
func (m *Manager) build(tools []chatmodel.ParsedTool) (decoder.GrammarHandle, *errinfo.ErrorInfo) {
	names := toolNames(tools)
	typed := grammar.Synthesize(tools)
	generic := grammar.Generic(names)

	modes := []decoder.GrammarMode{m.mode, alternate(m.mode)}
	var lastErr error
	for _, mode := range modes {
		for _, gbnf := range []string{typed, generic} {
			if gbnf == "" {
				continue
			}
			handle, err := m.backend.CompileGrammar(gbnf, mode)
			if err == nil {
				return handle, nil
			}
			lastErr = err
		}
	}
	detail := "typed build empty and generic build empty"
	if lastErr != nil {
		detail = lastErr.Error()
	}
	return nil, errinfo.GrammarBuildFailed(errinfo.SubphaseNormalize, detail)
}

// ComposeChain builds a sampler chain per the chain composition order:
// grammar clone first, then either a terminal mirostat sampler or the
// temp/top-k/top-p/min-p/dist-or-greedy sequence. The canonical grammar
// is never attached directly; ComposeChain clones it.
func (m *Manager) ComposeChain(params decoder.SamplerParams) (decoder.SamplerChain, error) {
	chain, err := m.backend.NewChain()
	if err != nil {
		return nil, fmt.Errorf("grammarmgr: new chain: %w", err)
	}

	if m.canonical != nil {
		clone, err := m.canonical.Clone()
		if err != nil {
			chain.Free()
			return nil, fmt.Errorf("grammarmgr: clone grammar: %w", err)
		}
		chain.AddGrammar(clone)
	}

	if params.MirostatMode > 0 {
		chain.AddMirostat(params.MirostatMode, params.MirostatTau, params.MirostatEta)
		return chain, nil
	}

	if params.Temperature > 0 && absDiff(params.Temperature, 1.0) > 1e-3 {
		chain.AddTemperature(params.Temperature)
	}
	if params.TopK > 0 {
		chain.AddTopK(params.TopK)
	}
	if params.TopP < 1 {
		chain.AddTopP(params.TopP)
	}
	if params.MinP > 0 {
		chain.AddMinP(params.MinP)
	}
	if params.Temperature > 0 {
		chain.AddDist(params.Seed)
	} else {
		chain.AddGreedy()
	}
	return chain, nil
}

// ResetGrammar resets the canonical constraint's streaming state between
// turns, so the same compiled grammar can be reused without recompiling.
func (m *Manager) ResetGrammar() {
	if m.canonical != nil {
		m.canonical.Reset()
	}
}

// Close frees the canonical grammar, if any.
func (m *Manager) Close() {
	if m.canonical != nil {
		m.canonical.Free()
		m.canonical = nil
	}
}

func alternate(mode decoder.GrammarMode) decoder.GrammarMode {
	if mode == decoder.GrammarStrict {
		return decoder.GrammarLazy
	}
	return decoder.GrammarStrict
}

func toolNames(tools []chatmodel.ParsedTool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

func absDiff(a, b float64) float64 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}
