package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mnemo-ai/mnemo/internal/observability"
	"github.com/mnemo-ai/mnemo/internal/tracing"
	"github.com/mnemo-ai/mnemo/pkg/embed"
)

// DefaultSimilarityThreshold is the consolidation cutoff used when the
// caller does not supply one.
const DefaultSimilarityThreshold = 0.85

// Consolidate merges near-duplicate memories. For every pair sharing a
// top-level namespace whose embedding cosine similarity is at or above
// the threshold, the memory with the higher access count survives
// (ties go to the newer one), the loser's distinct sentences are
// appended to the survivor's content, and the loser is deleted.
//
// O(n²) within a namespace; meant for session-end maintenance, not the
// write path. Returns how many memories were merged away. The survivor
// keeps its subject and its vector.
func (s *Store) Consolidate(ctx context.Context, threshold float64) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "mnemo.memstore", "memstore.consolidate",
		attribute.Float64("threshold", threshold))
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger)

	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	if threshold > 1 {
		return 0, fmt.Errorf("memstore: similarity threshold %v out of range (0, 1]", threshold)
	}

	mems, err := s.Dump(ctx)
	if err != nil {
		return 0, fmt.Errorf("memstore: consolidate: %w", err)
	}

	groups := make(map[string][]*ExportedMemory)
	for i := range mems {
		m := &mems[i]
		subject, err := ParseSubject(m.Subject)
		if err != nil {
			// A stored subject is validated on the way in; skip rather
			// than fail the whole run if one is somehow malformed.
			logger.Warn().Str("id", m.ID).Str("subject", m.Subject).Msg("Skipping memory with invalid subject")
			continue
		}
		ns := subject.TopLevel()
		groups[ns] = append(groups[ns], m)
	}

	merged := 0
	dead := make(map[string]bool)

	for ns, group := range groups {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if dead[a.ID] || dead[b.ID] {
					continue
				}

				sim := embed.CosineSimilarity(a.Embedding, b.Embedding)
				if sim < threshold {
					continue
				}

				survivor, loser := pickSurvivor(a, b)
				if err := s.merge(ctx, survivor, loser); err != nil {
					return merged, fmt.Errorf("memstore: merging %s into %s: %w", loser.ID, survivor.ID, err)
				}
				dead[loser.ID] = true
				merged++

				logger.Debug().
					Str("namespace", ns).
					Str("survivor", survivor.ID).
					Str("loser", loser.ID).
					Float64("similarity", sim).
					Msg("Memories consolidated")
			}
		}
	}

	observability.RecordConsolidation(merged)
	if count, err := s.Count(ctx); err == nil {
		observability.SetMemoryEntries(count)
	}

	logger.Info().Int("merged", merged).Float64("threshold", threshold).Msg("Consolidation completed")
	return merged, nil
}

// pickSurvivor applies the survivor rule: higher access count wins,
// ties go to the newer memory.
func pickSurvivor(a, b *ExportedMemory) (survivor, loser *ExportedMemory) {
	if a.AccessCount != b.AccessCount {
		if a.AccessCount > b.AccessCount {
			return a, b
		}
		return b, a
	}
	if a.CreatedAt.After(b.CreatedAt) {
		return a, b
	}
	return b, a
}

// merge appends the loser's distinct sentences to the survivor's
// content, refreshes the survivor's lexical entry, and deletes the
// loser. The survivor's vector stays: it already won the similarity
// comparison, and re-embedding here would couple maintenance to model
// availability.
func (s *Store) merge(ctx context.Context, survivor, loser *ExportedMemory) error {
	mergedContent := mergeContent(survivor.Content, loser.Content)

	if mergedContent != survivor.Content {
		subject, err := ParseSubject(survivor.Subject)
		if err != nil {
			return err
		}
		text := EmbeddingText(subject, mergedContent)
		err = s.engine.UpdateItemText(ctx, s.index.Table(), survivor.ID, text, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `UPDATE memories SET content = ? WHERE id = ?`, mergedContent, survivor.ID)
			return err
		})
		if err != nil {
			return err
		}
		survivor.Content = mergedContent
	}

	if _, err := s.index.Delete(ctx, loser.ID, nil); err != nil {
		return err
	}
	return nil
}

// mergeContent appends sentences from loser that survivor does not
// already contain. Sentence comparison is normalized on case and
// surrounding whitespace; this is a lexical heuristic, not semantic
// summarization.
func mergeContent(survivor, loser string) string {
	have := make(map[string]bool)
	for _, sent := range splitSentences(survivor) {
		have[normalizeSentence(sent)] = true
	}

	var extras []string
	for _, sent := range splitSentences(loser) {
		if !have[normalizeSentence(sent)] {
			extras = append(extras, sent)
		}
	}

	if len(extras) == 0 {
		return survivor
	}
	return strings.TrimSpace(survivor) + "\n" + strings.Join(extras, "\n")
}

func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for _, r := range text {
		cur.WriteRune(r)
		switch r {
		case '.', '!', '?', '\n':
			flush()
		}
	}
	flush()
	return out
}

func normalizeSentence(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimRight(s, ".!?")
}
