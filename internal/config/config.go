// Package config persists the engine's own settings: sampler defaults,
// grammar mode, round budget, and decoder library paths. It mirrors the
// teacher's settings.Store shape (mutex-guarded Load/Save/Update with
// schema versioning and backfilling) but backs it with YAML.
package config

import (
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const schemaVersion = 1

const (
	GrammarModeStrict = "strict"
	GrammarModeLazy   = "lazy"
)

// SamplerDefaults holds the sampler-chain parameters used when a caller
// doesn't override them per request.
type SamplerDefaults struct {
	Temperature float32 `yaml:"temperature"`
	TopK        int32   `yaml:"top_k"`
	TopP        float32 `yaml:"top_p"`
	MinP        float32 `yaml:"min_p"`
	Mirostat    int32   `yaml:"mirostat"`
	Seed        uint32  `yaml:"seed"`
}

// Config is the engine's persisted configuration.
type Config struct {
	SchemaVersion int             `yaml:"schema_version"`
	GrammarMode   string          `yaml:"grammar_mode"`
	RoundBudget   int             `yaml:"round_budget"`
	Sampler       SamplerDefaults `yaml:"sampler"`
	StopStrings   []string        `yaml:"extra_stop_strings,omitempty"`
	DecoderLibPath string         `yaml:"decoder_lib_path,omitempty"`
	ModelPath      string         `yaml:"model_path,omitempty"`
}

// Store guards a single YAML config file on disk.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Load() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	backfill(&cfg)
	return &cfg, nil
}

func (s *Store) Save(cfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	backfill(cfg)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *Store) Update(fn func(*Config)) (*Config, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	fn(cfg)
	return cfg, s.Save(cfg)
}

func defaultConfig() *Config {
	return &Config{
		SchemaVersion: schemaVersion,
		GrammarMode:   GrammarModeLazy,
		RoundBudget:   8,
		Sampler: SamplerDefaults{
			Temperature: 0.7,
			TopK:        40,
			TopP:        0.95,
			MinP:        0.05,
		},
		StopStrings: nil,
	}
}

func backfill(cfg *Config) {
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = schemaVersion
	}
	switch cfg.GrammarMode {
	case GrammarModeStrict, GrammarModeLazy:
	default:
		cfg.GrammarMode = GrammarModeLazy
	}
	if cfg.RoundBudget <= 0 {
		cfg.RoundBudget = 8
	}
	if cfg.Sampler.TopK == 0 {
		cfg.Sampler.TopK = 40
	}
	if cfg.Sampler.TopP == 0 {
		cfg.Sampler.TopP = 0.95
	}
}
