package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/logger"
	"github.com/mnemo-ai/mnemo/pkg/cartridge"
	"github.com/mnemo-ai/mnemo/pkg/embed"
	"github.com/mnemo-ai/mnemo/pkg/hybrid"
	"github.com/mnemo-ai/mnemo/pkg/indexer"
	"github.com/mnemo-ai/mnemo/pkg/memstore"
	"github.com/mnemo-ai/mnemo/pkg/store"
)

// env is the configuration-level wiring every command needs: config,
// logger, embedding provider and the selected cartridge. Commands that
// touch the store call openStore on top of it.
type env struct {
	cfg      *config.Config
	log      *logger.Logger
	provider embed.Provider
	cart     cartridge.Cartridge
}

// app is env plus an open store.
type app struct {
	env
	engine *store.Engine
	mems   *memstore.Store
	idx    *indexer.Indexer
}

// newEnv loads configuration and builds the provider without touching
// the store file.
func newEnv() (*env, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	lg, err := logger.New(logger.Config{
		Level:   level,
		File:    cfg.Logging.File,
		Console: true,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, err
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		lg.Close()
		return nil, err
	}

	name := cartName
	if name == "" {
		name = cfg.DefaultCartridge
	}

	return &env{
		cfg:      cfg,
		log:      lg,
		provider: provider,
		cart:     cartridge.At(cfg.CartridgeDir(name)),
	}, nil
}

func (e *env) close() {
	e.log.Close()
}

func (e *env) logger() zerolog.Logger {
	return e.log.Zerolog()
}

func (e *env) searchConfig() hybrid.Config {
	return hybrid.Config{
		VectorWeight:    e.cfg.Search.VectorWeight,
		LexicalWeight:   e.cfg.Search.LexicalWeight,
		CandidateFactor: hybrid.DefaultConfig().CandidateFactor,
	}
}

// openApp opens the selected cartridge's store. The caller must call
// close when done.
func openApp() (*app, error) {
	e, err := newEnv()
	if err != nil {
		return nil, err
	}

	engine, err := store.Open(e.cart.StorePath(), e.provider.Dimensions(), e.logger())
	if err != nil {
		e.close()
		return nil, err
	}

	return &app{
		env:    *e,
		engine: engine,
		mems:   memstore.New(engine, e.provider, e.searchConfig(), e.logger()),
		idx:    indexer.New(engine, e.provider, e.searchConfig(), e.logger()),
	}, nil
}

func (a *app) close() {
	a.engine.Close()
	a.env.close()
}

func buildProvider(cfg *config.Config) (embed.Provider, error) {
	switch cfg.Embedding.Provider {
	case "ollama":
		return embed.NewOllamaProvider(cfg.Embedding.BaseURL, cfg.Embedding.Model), nil
	case "openai":
		key := cfg.Embedding.APIKey
		if env := os.Getenv("MNEMO_EMBEDDING_API_KEY"); env != "" {
			key = env
		}
		if key == "" {
			return nil, fmt.Errorf("openai embedding provider requires api_key or MNEMO_EMBEDDING_API_KEY")
		}
		return embed.NewOpenAIProvider(key, cfg.Embedding.Model), nil
	case "mock":
		return embed.NewMockProvider(256), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

// printJSON writes a command result to stdout. Results own stdout;
// everything else goes to the logger on stderr.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
