package config

import (
	"fmt"
)

var knownProviders = map[string]bool{
	"ollama": true,
	"openai": true,
	"mock":   true,
}

// Validate rejects configurations that would misbehave at runtime
// rather than fail fast here.
func Validate(cfg *Config) error {
	if !knownProviders[cfg.Embedding.Provider] {
		return fmt.Errorf("config: unknown embedding provider %q (ollama, openai, mock)", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Provider != "mock" && cfg.Embedding.Model == "" {
		return fmt.Errorf("config: embedding model is required for provider %q", cfg.Embedding.Provider)
	}

	if cfg.Search.VectorWeight < 0 || cfg.Search.LexicalWeight < 0 {
		return fmt.Errorf("config: search weights must be non-negative")
	}
	if cfg.Search.VectorWeight+cfg.Search.LexicalWeight == 0 {
		return fmt.Errorf("config: at least one search weight must be positive")
	}
	if cfg.Search.MinRelevance < 0 || cfg.Search.MinRelevance > 1 {
		return fmt.Errorf("config: min_relevance must be in [0, 1], got %g", cfg.Search.MinRelevance)
	}
	if cfg.Search.DefaultLimit <= 0 {
		return fmt.Errorf("config: default_limit must be positive, got %d", cfg.Search.DefaultLimit)
	}

	if t := cfg.Consolidation.SimilarityThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("config: similarity_threshold must be in (0, 1], got %g", t)
	}

	return nil
}
