package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/observability"
)

// Default Ollama embedding models and their dimensionality.
const (
	DefaultOllamaModel = "nomic-embed-text"
	DefaultOllamaHost  = "http://localhost:11434"
)

// OllamaProvider uses a local Ollama instance for embeddings.
type OllamaProvider struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client

	readyOnce sync.Once
	readyErr  error
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaProvider creates an embedder backed by Ollama's API.
// Known models: nomic-embed-text (768 dims), all-minilm (384 dims),
// mxbai-embed-large (1024 dims).
func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = DefaultOllamaHost
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	dims := 768
	switch model {
	case "all-minilm":
		dims = 384
	case "mxbai-embed-large":
		dims = 1024
	}
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *OllamaProvider) Dimensions() int {
	return p.dims
}

// ensureModel runs a one-time availability check on first use. If the
// model is not present locally it triggers a blocking pull. Any failure
// surfaces as ModelNotReadyError so callers can show a "start/pull the
// model" message instead of a generic one.
func (p *OllamaProvider) ensureModel(ctx context.Context) error {
	p.readyOnce.Do(func() {
		body, _ := json.Marshal(map[string]string{"model": p.model})
		req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/show", bytes.NewReader(body))
		if err != nil {
			p.readyErr = &ModelNotReadyError{Provider: "ollama", Model: p.model, Err: err}
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			p.readyErr = &ModelNotReadyError{Provider: "ollama", Model: p.model, Err: err}
			return
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			return
		case http.StatusNotFound:
			if err := p.pullModel(ctx); err != nil {
				p.readyErr = &ModelNotReadyError{Provider: "ollama", Model: p.model, Err: err}
			}
		default:
			b, _ := io.ReadAll(resp.Body)
			p.readyErr = &ModelNotReadyError{
				Provider: "ollama",
				Model:    p.model,
				Err:      fmt.Errorf("show returned %d: %s", resp.StatusCode, string(b)),
			}
		}
	})
	return p.readyErr
}

// pullModel blocks until Ollama finishes pulling the model.
func (p *OllamaProvider) pullModel(ctx context.Context) error {
	body, _ := json.Marshal(map[string]interface{}{"model": p.model, "stream": false})
	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pull returned %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := validateInput(text); err != nil {
		return nil, err
	}
	if err := p.ensureModel(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { observability.RecordEmbed("ollama", time.Since(start)) }()

	body, _ := json.Marshal(ollamaEmbedRequest{Model: p.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama error %d: %s", resp.StatusCode, string(b))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}

	if len(result.Embedding) != p.dims {
		return nil, fmt.Errorf("ollama returned %d dims, expected %d for model %s",
			len(result.Embedding), p.dims, p.model)
	}

	return result.Embedding, nil
}

func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	// Ollama's embeddings endpoint is single-prompt; the batch fails as
	// a whole on the first item failure.
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
