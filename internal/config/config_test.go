package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "config.yaml"))
	cfg, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, GrammarModeLazy, cfg.GrammarMode)
	require.Equal(t, 8, cfg.RoundBudget)
	require.InDelta(t, 0.95, cfg.Sampler.TopP, 0.0001)
}

func TestSaveAndReloadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	store := NewStore(path)
	cfg, err := store.Load()
	require.NoError(t, err)

	cfg.GrammarMode = GrammarModeStrict
	cfg.RoundBudget = 3
	cfg.Sampler.Temperature = 0.2
	cfg.StopStrings = []string{"\nDone."}
	require.NoError(t, store.Save(cfg))

	reloaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, GrammarModeStrict, reloaded.GrammarMode)
	require.Equal(t, 3, reloaded.RoundBudget)
	require.InDelta(t, 0.2, reloaded.Sampler.Temperature, 0.0001)
	require.Equal(t, []string{"\nDone."}, reloaded.StopStrings)
}

func TestUpdateAppliesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	store := NewStore(path)

	_, err := store.Update(func(c *Config) {
		c.ModelPath = "/models/qwen.gguf"
	})
	require.NoError(t, err)

	reloaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "/models/qwen.gguf", reloaded.ModelPath)
}

func TestLoadBackfillsInvalidGrammarMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grammar_mode: bogus\nround_budget: 0\n"), 0o600))

	store := NewStore(path)
	cfg, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, GrammarModeLazy, cfg.GrammarMode)
	require.Equal(t, 8, cfg.RoundBudget)
}
