// Package hybrid fuses vector and lexical retrieval into one ranked
// result list. It is generic over the item kind: the memory store and
// the project indexer both run their searches through the same Index,
// differing only in the store.Table they bind and the rows they attach
// in the transactional extra callback.
package hybrid

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mnemo-ai/mnemo/pkg/embed"
	"github.com/mnemo-ai/mnemo/pkg/store"
)

// Config holds the rank fusion parameters. The weights are named
// configuration, not literals; DefaultConfig documents the shipped
// values.
type Config struct {
	VectorWeight    float64
	LexicalWeight   float64
	CandidateFactor int // each leg requests CandidateFactor*k candidates
}

// DefaultConfig returns the shipped fusion parameters: 0.7 vector,
// 0.3 lexical, 2k candidates per leg.
func DefaultConfig() Config {
	return Config{
		VectorWeight:    0.7,
		LexicalWeight:   0.3,
		CandidateFactor: 2,
	}
}

// Hit is one fused search result.
type Hit struct {
	ID           string
	Score        float64
	VectorScore  *float64
	LexicalScore *float64
}

// Index binds an embedder and a storage engine table into one
// upsert/search surface.
type Index struct {
	engine   *store.Engine
	provider embed.Provider
	table    store.Table
	cfg      Config
	logger   zerolog.Logger

	mu sync.Mutex // serializes writes; reads are lock-free
}

// New creates a hybrid index over the given table.
func New(engine *store.Engine, provider embed.Provider, table store.Table, cfg Config, logger zerolog.Logger) *Index {
	if cfg.CandidateFactor <= 0 {
		cfg.CandidateFactor = DefaultConfig().CandidateFactor
	}
	return &Index{
		engine:   engine,
		provider: provider,
		table:    table,
		cfg:      cfg,
		logger:   logger,
	}
}

// Table returns the store table this index is bound to.
func (ix *Index) Table() store.Table {
	return ix.table
}

// Engine returns the underlying storage engine.
func (ix *Index) Engine() *store.Engine {
	return ix.engine
}

// Upsert embeds text and inserts a new item, invoking extra inside the
// same transaction so kind-specific rows commit atomically with the
// index entries. Embedding happens before the transaction opens, so a
// failed or timed-out embed leaves the store untouched.
func (ix *Index) Upsert(ctx context.Context, text string, extra func(tx *sql.Tx, id string) error) (string, error) {
	ids, err := ix.UpsertBatch(ctx, []string{text}, func(tx *sql.Tx, _ int, id string) error {
		if extra == nil {
			return nil
		}
		return extra(tx, id)
	})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// UpsertBatch embeds all texts in one provider call, then inserts every
// item in one transaction. Returns the new item ids in input order.
func (ix *Index) UpsertBatch(ctx context.Context, texts []string, extra func(tx *sql.Tx, i int, id string) error) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("hybrid: item %d of %s batch: %w", i, ix.table.Name(), embed.ErrEmptyInput)
		}
	}

	vectors, err := ix.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("hybrid: embedding %d %s items: %w", len(texts), ix.table.Name(), err)
	}

	now := time.Now()
	ids := make([]string, len(texts))
	items := make([]store.Item, len(texts))
	for i, text := range texts {
		ids[i] = uuid.NewString()
		items[i] = store.Item{
			ID:         ids[i],
			Text:       text,
			Embedding:  vectors[i],
			CreatedAt:  now,
			AccessedAt: now,
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	var wrapped func(tx *sql.Tx, i int) error
	if extra != nil {
		wrapped = func(tx *sql.Tx, i int) error { return extra(tx, i, ids[i]) }
	}
	if err := ix.engine.InsertItems(ctx, ix.table, items, wrapped); err != nil {
		return nil, fmt.Errorf("hybrid: inserting into %s: %w", ix.table.Name(), err)
	}

	return ids, nil
}

// Delete removes an item and its index entries. The bool reports
// whether the item existed.
func (ix *Index) Delete(ctx context.Context, id string, extra func(tx *sql.Tx) error) (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	existed, err := ix.engine.DeleteItem(ctx, ix.table, id, extra)
	if err != nil {
		return false, fmt.Errorf("hybrid: deleting %s from %s: %w", id, ix.table.Name(), err)
	}
	return existed, nil
}

// Search runs the vector and lexical legs independently, fuses them and
// returns at most k hits with Score >= minRelevance, best first.
//
// Fusion: the vector leg contributes 1 - distance/2 (cosine distance
// normalized to [0,1]), the lexical leg its BM25 score normalized by
// the best BM25 in the candidate set; the final score is the weighted
// sum. Ties break toward the more recently accessed item, then the more
// recently created one.
func (ix *Index) Search(ctx context.Context, query string, k int, minRelevance float64) ([]Hit, error) {
	if strings.TrimSpace(query) == "" || k <= 0 {
		return []Hit{}, nil
	}

	// An empty store returns an empty list without touching the
	// embedding backend.
	count, err := ix.engine.ItemCount(ctx, ix.table)
	if err != nil {
		return nil, fmt.Errorf("hybrid: counting %s: %w", ix.table.Name(), err)
	}
	if count == 0 {
		return []Hit{}, nil
	}

	queryVec, err := ix.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("hybrid: embedding query for %s: %w", ix.table.Name(), err)
	}

	candidates := ix.cfg.CandidateFactor * k

	var (
		vectorHits  []store.MatchDistance
		lexicalHits []store.MatchRank
		vectorErr   error
		lexicalErr  error
		wg          sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorHits, vectorErr = ix.engine.VectorSearch(ctx, ix.table, queryVec, candidates)
	}()
	go func() {
		defer wg.Done()
		lexicalHits, lexicalErr = ix.engine.LexicalSearch(ctx, ix.table, query, candidates)
	}()
	wg.Wait()

	if vectorErr != nil {
		return nil, fmt.Errorf("hybrid: vector leg on %s: %w", ix.table.Name(), vectorErr)
	}
	if lexicalErr != nil {
		return nil, fmt.Errorf("hybrid: lexical leg on %s: %w", ix.table.Name(), lexicalErr)
	}

	hits, err := ix.fuse(ctx, vectorHits, lexicalHits, minRelevance)
	if err != nil {
		return nil, err
	}
	if len(hits) > k {
		hits = hits[:k]
	}

	ix.logger.Debug().
		Str("table", ix.table.Name()).
		Str("query", query).
		Int("results", len(hits)).
		Msg("Hybrid search completed")

	return hits, nil
}

func (ix *Index) fuse(ctx context.Context, vectorHits []store.MatchDistance, lexicalHits []store.MatchRank, minRelevance float64) ([]Hit, error) {
	vectorMap := make(map[string]float64, len(vectorHits))
	for _, h := range vectorHits {
		// cosine distance range is [0, 2]
		vectorMap[h.ID] = 1 - h.Distance/2
	}

	var maxRank float64
	lexicalMap := make(map[string]float64, len(lexicalHits))
	for _, h := range lexicalHits {
		lexicalMap[h.ID] = h.Rank
		if h.Rank > maxRank {
			maxRank = h.Rank
		}
	}

	ids := make([]string, 0, len(vectorMap)+len(lexicalMap))
	seen := make(map[string]bool, len(vectorMap)+len(lexicalMap))
	for id := range vectorMap {
		seen[id] = true
		ids = append(ids, id)
	}
	for id := range lexicalMap {
		if !seen[id] {
			ids = append(ids, id)
		}
	}

	stamps, err := ix.engine.Timestamps(ctx, ix.table, ids)
	if err != nil {
		return nil, fmt.Errorf("hybrid: loading timestamps for %s: %w", ix.table.Name(), err)
	}

	hits := make([]Hit, 0, len(ids))
	for _, id := range ids {
		var vecPart, lexPart float64
		var vecPtr, lexPtr *float64

		if v, ok := vectorMap[id]; ok {
			vecPart = v
			vv := v
			vecPtr = &vv
		}
		if l, ok := lexicalMap[id]; ok && maxRank > 0 {
			lexPart = l / maxRank
			ll := lexPart
			lexPtr = &ll
		}

		score := vecPart*ix.cfg.VectorWeight + lexPart*ix.cfg.LexicalWeight
		if score < minRelevance {
			continue
		}

		hits = append(hits, Hit{
			ID:           id,
			Score:        score,
			VectorScore:  vecPtr,
			LexicalScore: lexPtr,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		si, sj := stamps[hits[i].ID], stamps[hits[j].ID]
		if !si[1].Equal(sj[1]) {
			return si[1].After(sj[1])
		}
		return si[0].After(sj[0])
	})

	return hits, nil
}
