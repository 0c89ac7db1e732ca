// Package embed wraps black-box embedding backends behind a single
// Provider interface. A provider turns text into a fixed-length float
// vector; every store is bound to exactly one provider dimensionality.
package embed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrEmptyInput is returned when the text to embed is empty or whitespace.
var ErrEmptyInput = errors.New("embed: empty input")

// ModelNotReadyError indicates the embedding backend is reachable in
// principle but the model is not available yet (not pulled, still
// loading, or the server is down). Callers can retry after the backend
// is ready instead of treating this as a permanent failure.
type ModelNotReadyError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ModelNotReadyError) Error() string {
	return fmt.Sprintf("embed: model %q not ready on %s: %v", e.Model, e.Provider, e.Err)
}

func (e *ModelNotReadyError) Unwrap() error {
	return e.Err
}

// IsModelNotReady reports whether err wraps a ModelNotReadyError.
func IsModelNotReady(err error) bool {
	var mnr *ModelNotReadyError
	return errors.As(err, &mnr)
}

// Provider generates vector embeddings from text.
//
// Embed is deterministic for a given model and text. EmbedBatch fails
// as a whole if any single item fails; callers wanting partial success
// retry items individually.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// validateInput rejects empty or whitespace-only text before any
// network call is made.
func validateInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	return nil
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
