package embed

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mnemo-ai/mnemo/internal/observability"
)

// OpenAIProvider implements Provider on the OpenAI embeddings API.
type OpenAIProvider struct {
	client openai.Client
	model  openai.EmbeddingModel
	dims   int
}

// NewOpenAIProvider creates a new OpenAI embedding provider.
// Known models: text-embedding-3-small (1536 dims),
// text-embedding-3-large (3072 dims).
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	dims := 1536
	if model == string(openai.EmbeddingModelTextEmbedding3Large) {
		dims = 3072
	}
	return &OpenAIProvider{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  openai.EmbeddingModel(model),
		dims:   dims,
	}
}

func (p *OpenAIProvider) Dimensions() int {
	return p.dims
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for i, text := range texts {
		if err := validateInput(text); err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
	}

	start := time.Now()
	defer func() { observability.RecordEmbed("openai", time.Since(start)) }()

	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: p.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings call failed: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vec := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float32(v)
		}
		if len(vec) != p.dims {
			return nil, fmt.Errorf("openai returned %d dims, expected %d for model %s",
				len(vec), p.dims, p.model)
		}
		embeddings[i] = vec
	}

	return embeddings, nil
}
