package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "default", cfg.DefaultCartridge)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, 0.7, cfg.Search.VectorWeight)
	assert.Equal(t, 0.3, cfg.Search.LexicalWeight)
	assert.Equal(t, 5, cfg.Search.DefaultLimit)
	assert.Equal(t, 0.85, cfg.Consolidation.SimilarityThreshold)

	assert.NoError(t, Validate(cfg))
}

func TestCartridgeDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data/mnemo"
	assert.Equal(t, filepath.Join("/data/mnemo", "carts", "work"), cfg.CartridgeDir("work"))
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "missing.json"))
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.NotEmpty(t, cfg.DataDir)
	assert.NotEmpty(t, cfg.Logging.File)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mnemo.json")
	raw := `{
		"data_dir": "` + dir + `",
		"embedding": {"provider": "mock"},
		"search": {"default_limit": 10}
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "mock", cfg.Embedding.Provider)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	// Untouched sections keep their defaults
	assert.Equal(t, 0.7, cfg.Search.VectorWeight)
	assert.Equal(t, filepath.Join(dir, "mnemo.log"), cfg.Logging.File)
}

func TestLoad_RejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"embedding": {"provider": "carrier-pigeon"}}`), 0644))

	_, err := NewLoader(path).Load()
	assert.Error(t, err)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Embedding.Provider = "mock"
	cfg.Search.DefaultLimit = 7
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "mock", loaded.Embedding.Provider)
	assert.Equal(t, 7, loaded.Search.DefaultLimit)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(c *Config) {}, false},
		{"mock needs no model", func(c *Config) {
			c.Embedding.Provider = "mock"
			c.Embedding.Model = ""
		}, false},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "smoke-signals" }, true},
		{"missing model", func(c *Config) { c.Embedding.Model = "" }, true},
		{"negative weight", func(c *Config) { c.Search.VectorWeight = -0.1 }, true},
		{"all weights zero", func(c *Config) {
			c.Search.VectorWeight = 0
			c.Search.LexicalWeight = 0
		}, true},
		{"min_relevance out of range", func(c *Config) { c.Search.MinRelevance = 1.5 }, true},
		{"zero limit", func(c *Config) { c.Search.DefaultLimit = 0 }, true},
		{"threshold above one", func(c *Config) { c.Consolidation.SimilarityThreshold = 1.1 }, true},
		{"threshold zero", func(c *Config) { c.Consolidation.SimilarityThreshold = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
