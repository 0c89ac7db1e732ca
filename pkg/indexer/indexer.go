// Package indexer builds and maintains the semantic index of a project
// tree: ignore-aware walking, structural chunking, hash-driven
// incremental re-indexing and code search over the hybrid index.
package indexer

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-enry/go-enry/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mnemo-ai/mnemo/internal/observability"
	"github.com/mnemo-ai/mnemo/internal/tracing"
	"github.com/mnemo-ai/mnemo/pkg/embed"
	"github.com/mnemo-ai/mnemo/pkg/hybrid"
	"github.com/mnemo-ai/mnemo/pkg/store"
)

// ErrNotIndexed is returned by Freshness for a root that was never indexed.
var ErrNotIndexed = errors.New("indexer: project root has not been indexed")

// Files larger than this are skipped: generated bundles and data dumps
// drown the index without helping retrieval.
const maxFileSize = 1 << 20

// Directories never worth indexing.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"__pycache__":  true,
	"venv":         true,
}

// Indexer maintains the code chunk index for project trees.
type Indexer struct {
	index  *hybrid.Index
	engine *store.Engine
	logger zerolog.Logger
}

// New creates an indexer over the engine's code chunk table.
func New(engine *store.Engine, provider embed.Provider, cfg hybrid.Config, logger zerolog.Logger) *Indexer {
	return &Indexer{
		index:  hybrid.New(engine, provider, store.CodeChunks, cfg, logger),
		engine: engine,
		logger: logger,
	}
}

// Result summarizes one indexing run.
type Result struct {
	Root          string `json:"root"`
	FilesIndexed  int    `json:"files_indexed"`
	FilesSkipped  int    `json:"files_skipped"`
	FilesPruned   int    `json:"files_pruned"`
	ChunksIndexed int    `json:"chunks_indexed"`
}

// CodeChunk is one code search result.
type CodeChunk struct {
	ID          string    `json:"id"`
	ProjectRoot string    `json:"project_root"`
	FilePath    string    `json:"file_path"`
	ChunkType   ChunkType `json:"chunk_type"`
	Name        string    `json:"name,omitempty"`
	StartLine   int       `json:"start_line"`
	EndLine     int       `json:"end_line"`
	Language    string    `json:"language,omitempty"`
	Content     string    `json:"content"`
	Relevance   float64   `json:"relevance"`
}

// FreshnessReport compares the index against the tree on disk.
type FreshnessReport struct {
	Root         string    `json:"root"`
	IndexedAt    time.Time `json:"indexed_at"`
	StaleFiles   []string  `json:"stale_files"`
	RemovedFiles []string  `json:"removed_files"`
	NewFiles     []string  `json:"new_files"`
	Fresh        bool      `json:"fresh"`
}

// FileHash is the change-detection identity of a file's content.
func FileHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Index walks root and brings the chunk index up to date. Unchanged
// files (same content hash) are skipped unless force is set; files that
// vanished since the last run are pruned. Paths are stored relative to
// the absolute root.
func (ix *Indexer) Index(ctx context.Context, root string, force bool) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "mnemo.indexer", "indexer.index",
		attribute.String("root", root),
		attribute.Bool("force", force))
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordIndexRun(time.Since(start)) }()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("indexer: resolving root %s: %w", root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("indexer: project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("indexer: %s is not a directory", absRoot)
	}

	records, err := ix.engine.FileRecords(ctx, absRoot)
	if err != nil {
		return nil, err
	}
	known := make(map[string]store.FileRecord, len(records))
	for _, r := range records {
		known[r.Path] = r
	}

	result := &Result{Root: absRoot}
	seen := make(map[string]bool)

	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			ix.logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable path")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path != absRoot && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if fi, err := d.Info(); err != nil || fi.Size() > maxFileSize {
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			ix.logger.Warn().Err(err).Str("path", rel).Msg("Skipping unreadable file")
			return nil
		}
		if enry.IsBinary(content) || len(strings.TrimSpace(string(content))) == 0 {
			return nil
		}
		seen[rel] = true

		hash := FileHash(content)
		if prev, ok := known[rel]; ok && !force && prev.ContentHash == hash {
			result.FilesSkipped++
			return nil
		}

		language := enry.GetLanguage(name, content)
		n, err := ix.indexFile(ctx, absRoot, rel, string(content), language, hash)
		if err != nil {
			return fmt.Errorf("indexer: indexing %s: %w", rel, err)
		}
		result.FilesIndexed++
		result.ChunksIndexed += n
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	for rel := range known {
		if seen[rel] {
			continue
		}
		if err := ix.removeFile(ctx, absRoot, rel); err != nil {
			return nil, err
		}
		result.FilesPruned++
	}

	if err := ix.engine.TouchProject(ctx, absRoot, time.Now()); err != nil {
		return nil, err
	}

	if total, err := ix.engine.ItemCount(ctx, store.CodeChunks); err == nil {
		observability.SetChunksIndexed(total)
	}

	ix.logger.Info().
		Str("root", absRoot).
		Int("indexed", result.FilesIndexed).
		Int("skipped", result.FilesSkipped).
		Int("pruned", result.FilesPruned).
		Int("chunks", result.ChunksIndexed).
		Msg("Index run completed")

	return result, nil
}

// indexFile replaces a file's chunks: the old chunks are deleted
// together with the file record, then the new chunks and the refreshed
// record commit in one transaction. Embedding happens before either
// write, so an embed failure leaves the previous chunks intact.
func (ix *Indexer) indexFile(ctx context.Context, root, rel, content, language, hash string) (int, error) {
	chunks := ChunkSource(content, language)
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	last := len(chunks) - 1
	record := store.FileRecord{
		ProjectRoot: root,
		Path:        rel,
		ContentHash: hash,
		ChunkCount:  len(chunks),
		IndexedAt:   time.Now(),
	}

	// Embed first so a failed batch never deletes anything.
	ids, err := ix.index.UpsertBatch(ctx, texts, func(tx *sql.Tx, i int, id string) error {
		c := chunks[i]
		var name interface{}
		if c.Name != "" {
			name = c.Name
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE code_chunks SET project_root = ?, file_path = ?, chunk_type = ?, name = ?, start_line = ?, end_line = ?, language = ? WHERE id = ?`,
			root, rel, string(c.Type), name, c.StartLine, c.EndLine, language, id,
		); err != nil {
			return fmt.Errorf("indexer: writing chunk metadata: %w", err)
		}
		if i == last {
			return store.UpsertFileRecordTx(tx, record)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	// Old chunks linger until the new ones are committed; the window
	// where both generations are searchable is harmless.
	oldIDs, err := ix.staleChunkIDs(ctx, root, rel, ids)
	if err != nil {
		return 0, err
	}
	if len(oldIDs) > 0 {
		if _, err := ix.engine.DeleteItems(ctx, store.CodeChunks, oldIDs, nil); err != nil {
			return 0, err
		}
	}

	return len(chunks), nil
}

func (ix *Indexer) staleChunkIDs(ctx context.Context, root, rel string, fresh []string) ([]string, error) {
	all, err := ix.engine.ChunkIDs(ctx, root, rel)
	if err != nil {
		return nil, err
	}
	keep := make(map[string]bool, len(fresh))
	for _, id := range fresh {
		keep[id] = true
	}
	var stale []string
	for _, id := range all {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	return stale, nil
}

func (ix *Indexer) removeFile(ctx context.Context, root, rel string) error {
	ids, err := ix.engine.ChunkIDs(ctx, root, rel)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		// DeleteItems is a no-op for an empty id list; drop the record
		// directly.
		_, err := ix.engine.DB().ExecContext(ctx,
			`DELETE FROM files WHERE project_root = ? AND path = ?`, root, rel)
		return err
	}
	_, err = ix.engine.DeleteItems(ctx, store.CodeChunks, ids, func(tx *sql.Tx) error {
		return store.DeleteFileRecordTx(tx, root, rel)
	})
	return err
}

// Search runs a hybrid search over indexed code and hydrates the hits.
func (ix *Indexer) Search(ctx context.Context, query string, k int) ([]CodeChunk, error) {
	ctx, span := tracing.StartSpan(ctx, "mnemo.indexer", "indexer.search",
		attribute.String("query", query))
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordCodeSearch(time.Since(start)) }()

	if k <= 0 {
		k = 5
	}
	hits, err := ix.index.Search(ctx, query, k, 0)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []CodeChunk{}, nil
	}
	return ix.loadChunks(ctx, hits)
}

func (ix *Indexer) loadChunks(ctx context.Context, hits []hybrid.Hit) ([]CodeChunk, error) {
	ids := make([]string, len(hits))
	scores := make(map[string]float64, len(hits))
	args := make([]interface{}, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		scores[h.ID] = h.Score
		args[i] = h.ID
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := ix.engine.DB().QueryContext(ctx, fmt.Sprintf(
		`SELECT id, text, project_root, file_path, chunk_type, name, start_line, end_line, language
		 FROM code_chunks WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("indexer: loading chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]CodeChunk, len(ids))
	for rows.Next() {
		var c CodeChunk
		var chunkType string
		var name sql.NullString
		if err := rows.Scan(&c.ID, &c.Content, &c.ProjectRoot, &c.FilePath, &chunkType, &name, &c.StartLine, &c.EndLine, &c.Language); err != nil {
			return nil, fmt.Errorf("indexer: scanning chunk: %w", err)
		}
		c.ChunkType = ChunkType(chunkType)
		c.Name = name.String
		c.Relevance = scores[c.ID]
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]CodeChunk, 0, len(hits))
	for _, h := range hits {
		if c, ok := byID[h.ID]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// Freshness compares the tracked files under root against the tree on
// disk without touching the index: changed files are stale, vanished
// files are removed, untracked indexable files are new.
func (ix *Indexer) Freshness(ctx context.Context, root string) (*FreshnessReport, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("indexer: resolving root %s: %w", root, err)
	}

	indexedAt, err := ix.engine.ProjectIndexedAt(ctx, absRoot)
	if err != nil {
		return nil, err
	}
	if indexedAt.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrNotIndexed, absRoot)
	}

	records, err := ix.engine.FileRecords(ctx, absRoot)
	if err != nil {
		return nil, err
	}

	report := &FreshnessReport{
		Root:         absRoot,
		IndexedAt:    indexedAt,
		StaleFiles:   []string{},
		RemovedFiles: []string{},
		NewFiles:     []string{},
	}

	tracked := make(map[string]bool, len(records))
	for _, r := range records {
		tracked[r.Path] = true
		content, err := os.ReadFile(filepath.Join(absRoot, r.Path))
		if err != nil {
			report.RemovedFiles = append(report.RemovedFiles, r.Path)
			continue
		}
		if FileHash(content) != r.ContentHash {
			report.StaleFiles = append(report.StaleFiles, r.Path)
		}
	}

	_ = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path != absRoot && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil || tracked[rel] {
			return nil
		}
		if fi, err := d.Info(); err != nil || fi.Size() > maxFileSize {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil || enry.IsBinary(content) || len(strings.TrimSpace(string(content))) == 0 {
			return nil
		}
		report.NewFiles = append(report.NewFiles, rel)
		return nil
	})

	sort.Strings(report.StaleFiles)
	sort.Strings(report.RemovedFiles)
	sort.Strings(report.NewFiles)
	report.Fresh = len(report.StaleFiles) == 0 && len(report.RemovedFiles) == 0 && len(report.NewFiles) == 0

	return report, nil
}
