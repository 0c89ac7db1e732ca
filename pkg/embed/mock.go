package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// MockProvider generates deterministic embeddings without any backend.
// Texts sharing tokens produce similar vectors, so relevance ordering
// behaves sensibly in tests. Exported because downstream packages use
// it in their own tests.
type MockProvider struct {
	dim int
}

// NewMockProvider creates a mock embedder with the given dimensionality.
func NewMockProvider(dim int) *MockProvider {
	return &MockProvider{dim: dim}
}

func (p *MockProvider) Dimensions() int {
	return p.dim
}

// Embed hashes each token into a dimension bucket and L2-normalizes the
// resulting bag-of-words vector.
func (p *MockProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if err := validateInput(text); err != nil {
		return nil, err
	}

	vec := make([]float32, p.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?'\"()[]{}")
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[int(h.Sum32())%p.dim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	} else {
		// Punctuation-only text still yields a valid unit vector.
		vec[0] = 1
	}

	return vec, nil
}

func (p *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
