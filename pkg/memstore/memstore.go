// Package memstore is the memory domain on top of the hybrid index:
// subjects, provenance, access accounting and consolidation.
package memstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mnemo-ai/mnemo/internal/observability"
	"github.com/mnemo-ai/mnemo/internal/tracing"
	"github.com/mnemo-ai/mnemo/pkg/embed"
	"github.com/mnemo-ai/mnemo/pkg/hybrid"
	"github.com/mnemo-ai/mnemo/pkg/store"
)

// ErrInvalidContent is returned when memory content is empty or
// whitespace-only.
var ErrInvalidContent = errors.New("memstore: content is empty or whitespace")

// Source records where a memory came from.
type Source string

const (
	SourceUser   Source = "user"
	SourceAgent  Source = "agent"
	SourceSystem Source = "system"
)

// ParseSource validates a raw source string.
func ParseSource(raw string) (Source, error) {
	switch Source(raw) {
	case SourceUser, SourceAgent, SourceSystem:
		return Source(raw), nil
	default:
		return "", fmt.Errorf("memstore: unknown source %q", raw)
	}
}

// Memory is one remembered fact.
type Memory struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Content     string    `json:"content"`
	Source      Source    `json:"source"`
	AccessCount int       `json:"access_count"`
	CreatedAt   time.Time `json:"created_at"`
	AccessedAt  time.Time `json:"accessed_at"`
	Relevance   float64   `json:"relevance,omitempty"`
}

// ExportedMemory carries a memory together with its stored vector, for
// consolidation and cartridge transfer.
type ExportedMemory struct {
	Memory
	Embedding []float32 `json:"embedding"`
}

// Store is a memory store bound to one storage engine.
type Store struct {
	index  *hybrid.Index
	engine *store.Engine
	logger zerolog.Logger
}

// New creates a memory store over the engine's memories table.
func New(engine *store.Engine, provider embed.Provider, cfg hybrid.Config, logger zerolog.Logger) *Store {
	return &Store{
		index:  hybrid.New(engine, provider, store.Memories, cfg, logger),
		engine: engine,
		logger: logger,
	}
}

// EmbeddingText is what gets embedded and lexically indexed for a
// memory. The subject is concatenated in so it influences retrieval.
func EmbeddingText(subject Subject, content string) string {
	return subject.String() + "\n" + content
}

// ContentHash is the stable identity of a memory's learned content,
// used by cartridge merge to detect duplicates across stores.
func ContentHash(subject, content string) string {
	sum := sha256.Sum256([]byte(subject + content))
	return hex.EncodeToString(sum[:])
}

// Remember stores a new memory and returns its id.
func (s *Store) Remember(ctx context.Context, subject Subject, content string, source Source) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "mnemo.memstore", "memstore.remember",
		attribute.String("subject", subject.String()))
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordRemember(time.Since(start)) }()

	if subject.IsZero() {
		return "", ErrEmptySubject
	}
	if strings.TrimSpace(content) == "" {
		return "", ErrInvalidContent
	}
	if _, err := ParseSource(string(source)); err != nil {
		return "", err
	}

	id, err := s.index.Upsert(ctx, EmbeddingText(subject, content), func(tx *sql.Tx, id string) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE memories SET subject = ?, content = ?, source = ?, access_count = 0 WHERE id = ?`,
			subject.String(), content, string(source), id,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("memstore: remember %q: %w", subject.String(), err)
	}

	s.logger.Debug().Str("id", id).Str("subject", subject.String()).Msg("Memory stored")

	if count, err := s.Count(ctx); err == nil {
		observability.SetMemoryEntries(count)
	}

	return id, nil
}

// Recall searches memories. Every returned memory has its access_count
// incremented and accessed_at updated as a side effect.
func (s *Store) Recall(ctx context.Context, query string, k int, minRelevance float64) ([]Memory, error) {
	ctx, span := tracing.StartSpan(ctx, "mnemo.memstore", "memstore.recall",
		attribute.String("query", query))
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	start := time.Now()
	defer func() { observability.RecordRecall(time.Since(start)) }()

	if k <= 0 {
		k = 5
	}

	hits, err := s.index.Search(ctx, query, k, minRelevance)
	if err != nil {
		return nil, fmt.Errorf("memstore: recall %q: %w", query, err)
	}
	if len(hits) == 0 {
		return []Memory{}, nil
	}

	now := time.Now()
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}

	if err := s.markAccessed(ctx, ids, now); err != nil {
		return nil, fmt.Errorf("memstore: recording access: %w", err)
	}

	byID, err := s.loadMemories(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("memstore: loading recalled memories: %w", err)
	}

	results := make([]Memory, 0, len(hits))
	for _, h := range hits {
		m, ok := byID[h.ID]
		if !ok {
			continue
		}
		m.Relevance = h.Score
		results = append(results, m)
	}

	logger.Debug().Str("query", query).Int("results", len(results)).Msg("Recall completed")
	return results, nil
}

func (s *Store) markAccessed(ctx context.Context, ids []string, now time.Time) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, now.Unix())
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.engine.DB().ExecContext(ctx, fmt.Sprintf(
		`UPDATE memories SET access_count = access_count + 1, accessed_at = ? WHERE id IN (%s)`, placeholders,
	), args...)
	return err
}

func (s *Store) loadMemories(ctx context.Context, ids []string) (map[string]Memory, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.engine.DB().QueryContext(ctx, fmt.Sprintf(
		`SELECT id, subject, content, source, access_count, created_at, accessed_at
		 FROM memories WHERE id IN (%s)`, placeholders,
	), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Memory, len(ids))
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

func scanMemory(rows *sql.Rows) (Memory, error) {
	var m Memory
	var source string
	var created, accessed int64
	if err := rows.Scan(&m.ID, &m.Subject, &m.Content, &source, &m.AccessCount, &created, &accessed); err != nil {
		return Memory{}, err
	}
	m.Source = Source(source)
	m.CreatedAt = time.Unix(created, 0)
	m.AccessedAt = time.Unix(accessed, 0)
	return m, nil
}

// Forget deletes a memory. Forgetting an id that does not exist is not
// an error; the bool reports whether anything was deleted.
func (s *Store) Forget(ctx context.Context, id string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "mnemo.memstore", "memstore.forget",
		attribute.String("id", id))
	defer span.End()

	existed, err := s.index.Delete(ctx, id, nil)
	if err != nil {
		return false, fmt.Errorf("memstore: forget %s: %w", id, err)
	}

	if existed {
		s.logger.Debug().Str("id", id).Msg("Memory forgotten")
		if count, err := s.Count(ctx); err == nil {
			observability.SetMemoryEntries(count)
		}
	}
	return existed, nil
}

// Count returns the number of stored memories.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.engine.ItemCount(ctx, store.Memories)
}

// List returns every memory ordered by creation time.
func (s *Store) List(ctx context.Context) ([]Memory, error) {
	rows, err := s.engine.DB().QueryContext(ctx,
		`SELECT id, subject, content, source, access_count, created_at, accessed_at
		 FROM memories ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("memstore: listing memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("memstore: scanning memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Dump returns every memory with its stored vector, ordered by creation
// time. Used by consolidation and cartridge transfer.
func (s *Store) Dump(ctx context.Context) ([]ExportedMemory, error) {
	rows, err := s.engine.DB().QueryContext(ctx,
		`SELECT id, subject, content, source, access_count, created_at, accessed_at, embedding
		 FROM memories ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("memstore: dumping memories: %w", err)
	}
	defer rows.Close()

	var out []ExportedMemory
	for rows.Next() {
		var m ExportedMemory
		var source, embJSON string
		var created, accessed int64
		if err := rows.Scan(&m.ID, &m.Subject, &m.Content, &source, &m.AccessCount, &created, &accessed, &embJSON); err != nil {
			return nil, fmt.Errorf("memstore: scanning memory: %w", err)
		}
		m.Source = Source(source)
		m.CreatedAt = time.Unix(created, 0)
		m.AccessedAt = time.Unix(accessed, 0)
		if err := json.Unmarshal([]byte(embJSON), &m.Embedding); err != nil {
			return nil, fmt.Errorf("memstore: decoding embedding for %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Import inserts a memory carrying its own vector, preserving
// provenance and timestamps. The cartridge merge path uses this to
// avoid re-embedding when dimensionalities match; a dimension mismatch
// surfaces as the engine's EncodingError so the caller can re-embed.
func (s *Store) Import(ctx context.Context, m ExportedMemory) (string, error) {
	subject, err := ParseSubject(m.Subject)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(m.Content) == "" {
		return "", ErrInvalidContent
	}

	// Ids are local; content hash is the cross-store identity. A fresh
	// id avoids colliding with a diverged memory that kept the same id.
	id := uuid.NewString()

	item := store.Item{
		ID:         id,
		Text:       EmbeddingText(subject, m.Content),
		Embedding:  m.Embedding,
		CreatedAt:  m.CreatedAt,
		AccessedAt: m.AccessedAt,
	}
	err = s.engine.InsertItem(ctx, store.Memories, item, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE memories SET subject = ?, content = ?, source = ?, access_count = ? WHERE id = ?`,
			m.Subject, m.Content, string(m.Source), m.AccessCount, id,
		)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
