package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider_Deterministic(t *testing.T) {
	p := NewMockProvider(64)

	a, err := p.Embed(context.Background(), "the user prefers python")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "the user prefers python")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.Equal(t, 64, p.Dimensions())
}

func TestMockProvider_SharedTokensAreSimilar(t *testing.T) {
	p := NewMockProvider(128)
	ctx := context.Background()

	a, err := p.Embed(ctx, "user prefers python over ruby")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "what language does the user prefers")
	require.NoError(t, err)
	c, err := p.Embed(ctx, "deployment pipeline configuration yaml")
	require.NoError(t, err)

	assert.Greater(t, CosineSimilarity(a, b), CosineSimilarity(a, c))
}

func TestMockProvider_EmptyInput(t *testing.T) {
	p := NewMockProvider(32)

	_, err := p.Embed(context.Background(), "   ")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestMockProvider_BatchFailsWhole(t *testing.T) {
	p := NewMockProvider(32)

	_, err := p.EmbedBatch(context.Background(), []string{"fine", "", "also fine"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestIsModelNotReady(t *testing.T) {
	err := &ModelNotReadyError{Provider: "ollama", Model: "nomic-embed-text"}
	assert.True(t, IsModelNotReady(err))
	assert.False(t, IsModelNotReady(ErrEmptyInput))
}
