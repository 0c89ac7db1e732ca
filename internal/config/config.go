package config

import (
	"path/filepath"
)

// Config represents the main mnemo configuration
type Config struct {
	// Data directory, holds cartridges and logs
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Default cartridge name, used when --cart is not given
	DefaultCartridge string `json:"default_cartridge" mapstructure:"default_cartridge"`

	// Embedding backend
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`

	// Search ranking
	Search SearchConfig `json:"search" mapstructure:"search"`

	// Consolidation
	Consolidation ConsolidationConfig `json:"consolidation" mapstructure:"consolidation"`

	// Maintenance
	Maintenance MaintenanceConfig `json:"maintenance" mapstructure:"maintenance"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// EmbeddingConfig holds embedding backend configuration
type EmbeddingConfig struct {
	Provider string `json:"provider" mapstructure:"provider"` // ollama, openai, mock
	Model    string `json:"model" mapstructure:"model"`
	BaseURL  string `json:"base_url" mapstructure:"base_url"` // ollama only
	APIKey   string `json:"api_key" mapstructure:"api_key"`   // openai only, prefer MNEMO_EMBEDDING_API_KEY
}

// SearchConfig holds the rank fusion weights and the default relevance
// floor
type SearchConfig struct {
	VectorWeight  float64 `json:"vector_weight" mapstructure:"vector_weight"`
	LexicalWeight float64 `json:"lexical_weight" mapstructure:"lexical_weight"`
	MinRelevance  float64 `json:"min_relevance" mapstructure:"min_relevance"`
	DefaultLimit  int     `json:"default_limit" mapstructure:"default_limit"`
}

// ConsolidationConfig holds the duplicate-merge threshold
type ConsolidationConfig struct {
	SimilarityThreshold float64 `json:"similarity_threshold" mapstructure:"similarity_threshold"`
}

// MaintenanceConfig holds the background job schedule
type MaintenanceConfig struct {
	ConsolidateCron string   `json:"consolidate_cron" mapstructure:"consolidate_cron"`
	ReindexCron     string   `json:"reindex_cron" mapstructure:"reindex_cron"`
	WatchRoots      []string `json:"watch_roots" mapstructure:"watch_roots"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the configuration used when no config file
// exists
func DefaultConfig() *Config {
	return &Config{
		DefaultCartridge: "default",
		Embedding: EmbeddingConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		Search: SearchConfig{
			VectorWeight:  0.7,
			LexicalWeight: 0.3,
			MinRelevance:  0.0,
			DefaultLimit:  5,
		},
		Consolidation: ConsolidationConfig{
			SimilarityThreshold: 0.85,
		},
		Maintenance: MaintenanceConfig{
			ConsolidateCron: "0 3 * * *",
			ReindexCron:     "*/30 * * * *",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// CartridgeDir returns the directory of a named cartridge under the
// data directory
func (c *Config) CartridgeDir(name string) string {
	if name == "" {
		name = c.DefaultCartridge
	}
	return filepath.Join(c.DataDir, "carts", name)
}
