// Package store is the embedded storage engine: one SQLite file per
// cartridge, with a sqlite-vec vec0 table and an FTS5 table per item
// kind. All writes to an item are transactional across the base row,
// the lexical index and the vector index.
//
// Vector search is an exact full scan ordered by vec_distance_cosine;
// at the item counts this store targets (thousands, not millions) exact
// search is cheaper than maintaining an ANN structure and its results
// are stable for a given build. Lexical search is FTS5 BM25 with the
// porter unicode61 tokenizer.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// SchemaVersion is checked on every open. A mismatch is fatal.
const SchemaVersion = 1

// Table identifies an item kind inside the store. The engine derives
// the lexical and vector table names from it.
type Table struct {
	name string
}

// The two item kinds this store knows about.
var (
	Memories   = Table{name: "memories"}
	CodeChunks = Table{name: "code_chunks"}
)

func (t Table) Name() string { return t.name }
func (t Table) fts() string  { return t.name + "_fts" }
func (t Table) vec() string  { return t.name + "_vec" }

// Item is the base record shared by every indexed kind.
type Item struct {
	ID         string
	Text       string
	Embedding  []float32
	CreatedAt  time.Time
	AccessedAt time.Time
}

// MatchDistance is a vector search hit, ascending by cosine distance.
type MatchDistance struct {
	ID       string
	Distance float64
}

// MatchRank is a lexical search hit with a positive BM25 score,
// descending by relevance.
type MatchRank struct {
	ID   string
	Rank float64
}

// Engine owns one on-disk store file. A store file has exactly one
// writer process; cross-process locking is the caller's concern.
type Engine struct {
	db     *sql.DB
	path   string
	dims   int
	logger zerolog.Logger
}

// Open opens or creates the store file at path for embeddings of the
// given dimensionality. Opening an existing file with a different
// schema version or dimensionality fails with a SchemaError.
func Open(path string, dims int, logger zerolog.Logger) (*Engine, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if dims <= 0 {
		return nil, fmt.Errorf("store: dimensions must be positive, got %d", dims)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("store: failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_fts5=1&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}

	// WAL mode for cheap readers during writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to enable WAL mode: %w", err)
	}

	e := &Engine{
		db:     db,
		path:   path,
		dims:   dims,
		logger: logger,
	}

	if err := e.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return e, nil
}

func (e *Engine) initSchema() error {
	if _, err := e.db.Exec(`CREATE TABLE IF NOT EXISTS schema_info (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("store: failed to create schema_info: %w", err)
	}

	// Version and dimension checks happen before any other table is
	// touched so an incompatible file is never half-migrated.
	info, err := e.readSchemaInfo()
	if err != nil {
		return err
	}

	if v, ok := info["version"]; ok {
		version, err := strconv.Atoi(v)
		if err != nil || version != SchemaVersion {
			return &SchemaError{Path: e.path, Msg: fmt.Sprintf("schema version %q, this build requires %d", v, SchemaVersion)}
		}
		if d, ok := info["dimensions"]; ok {
			dims, err := strconv.Atoi(d)
			if err != nil || dims != e.dims {
				return &SchemaError{Path: e.path, Msg: fmt.Sprintf("embedding dimension %q, configured embedder has %d", d, e.dims)}
			}
		}
	} else {
		if _, err := e.db.Exec(
			`INSERT INTO schema_info (key, value) VALUES ('version', ?), ('dimensions', ?), ('distance_metric', 'cosine')`,
			strconv.Itoa(SchemaVersion), strconv.Itoa(e.dims),
		); err != nil {
			return fmt.Errorf("store: failed to write schema info: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			embedding TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			accessed_at INTEGER NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT 'agent',
			access_count INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_memories_subject ON memories(subject);

		CREATE TABLE IF NOT EXISTS code_chunks (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			embedding TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			accessed_at INTEGER NOT NULL,
			project_root TEXT NOT NULL DEFAULT '',
			file_path TEXT NOT NULL DEFAULT '',
			chunk_type TEXT NOT NULL DEFAULT 'fallback_window',
			name TEXT,
			start_line INTEGER NOT NULL DEFAULT 0,
			end_line INTEGER NOT NULL DEFAULT 0,
			language TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_file ON code_chunks(project_root, file_path);

		CREATE TABLE IF NOT EXISTS files (
			project_root TEXT NOT NULL,
			path TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			chunk_count INTEGER NOT NULL,
			indexed_at INTEGER NOT NULL,
			PRIMARY KEY (project_root, path)
		);

		CREATE TABLE IF NOT EXISTS projects (
			root TEXT PRIMARY KEY,
			indexed_at INTEGER NOT NULL
		);

		CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			item_id UNINDEXED,
			text,
			tokenize='porter unicode61'
		);
		CREATE VIRTUAL TABLE IF NOT EXISTS code_chunks_fts USING fts5(
			item_id UNINDEXED,
			text,
			tokenize='porter unicode61'
		);
	`
	if _, err := e.db.Exec(schema); err != nil {
		return fmt.Errorf("store: failed to initialize schema: %w", err)
	}

	for _, t := range []Table{Memories, CodeChunks} {
		vecSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(
				item_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, t.vec(), e.dims)
		if _, err := e.db.Exec(vecSchema); err != nil {
			return fmt.Errorf("store: failed to create vector table %s: %w", t.vec(), err)
		}
	}

	return nil
}

func (e *Engine) readSchemaInfo() (map[string]string, error) {
	rows, err := e.db.Query("SELECT key, value FROM schema_info")
	if err != nil {
		return nil, fmt.Errorf("store: failed to read schema info: %w", err)
	}
	defer rows.Close()

	info := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("store: failed to scan schema info: %w", err)
		}
		info[k] = v
	}
	return info, rows.Err()
}

// DB exposes the underlying handle for kind-specific queries made by
// the specializations. Writes that touch index tables must go through
// InsertItems/DeleteItems to stay transactional.
func (e *Engine) DB() *sql.DB {
	return e.db
}

// Path returns the on-disk store file path.
func (e *Engine) Path() string {
	return e.path
}

// Dimensions returns the embedding dimensionality this store is bound to.
func (e *Engine) Dimensions() int {
	return e.dims
}

// InsertItems writes a batch of items in one transaction: base row,
// lexical row and vector row per item, plus the kind-specific extra
// callback. All rows land or none do.
func (e *Engine) InsertItems(ctx context.Context, t Table, items []Item, extra func(tx *sql.Tx, i int) error) error {
	for _, it := range items {
		if len(it.Embedding) != e.dims {
			return &EncodingError{Table: t.Name(), Got: len(it.Embedding), Want: e.dims}
		}
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, it := range items {
		embJSON, err := json.Marshal(it.Embedding)
		if err != nil {
			return fmt.Errorf("store: failed to marshal embedding: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (id, text, embedding, created_at, accessed_at) VALUES (?, ?, ?, ?, ?)`, t.Name()),
			it.ID, it.Text, string(embJSON), it.CreatedAt.Unix(), it.AccessedAt.Unix(),
		); err != nil {
			return fmt.Errorf("store: failed to insert item %s: %w", it.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (item_id, text) VALUES (?, ?)`, t.fts()),
			it.ID, it.Text,
		); err != nil {
			return fmt.Errorf("store: failed to index item %s: %w", it.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (item_id, embedding) VALUES (?, ?)`, t.vec()),
			it.ID, string(embJSON),
		); err != nil {
			return fmt.Errorf("store: failed to store vector for %s: %w", it.ID, err)
		}

		if extra != nil {
			if err := extra(tx, i); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit insert: %w", err)
	}
	return nil
}

// InsertItem writes a single item transactionally.
func (e *Engine) InsertItem(ctx context.Context, t Table, it Item, extra func(tx *sql.Tx) error) error {
	var wrapped func(tx *sql.Tx, i int) error
	if extra != nil {
		wrapped = func(tx *sql.Tx, _ int) error { return extra(tx) }
	}
	return e.InsertItems(ctx, t, []Item{it}, wrapped)
}

// DeleteItems removes the given ids from the base table and both index
// tables in one transaction, returning how many base rows existed.
func (e *Engine) DeleteItems(ctx context.Context, t Table, ids []string, extra func(tx *sql.Tx) error) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deleted := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, t.Name()), id)
		if err != nil {
			return 0, fmt.Errorf("store: failed to delete item %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			deleted++
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE item_id = ?`, t.fts()), id); err != nil {
			return 0, fmt.Errorf("store: failed to delete lexical entry %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE item_id = ?`, t.vec()), id); err != nil {
			return 0, fmt.Errorf("store: failed to delete vector entry %s: %w", id, err)
		}
	}

	if extra != nil {
		if err := extra(tx); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: failed to commit delete: %w", err)
	}
	return deleted, nil
}

// DeleteItem removes one item. The bool reports whether it existed.
func (e *Engine) DeleteItem(ctx context.Context, t Table, id string, extra func(tx *sql.Tx) error) (bool, error) {
	n, err := e.DeleteItems(ctx, t, []string{id}, extra)
	return n > 0, err
}

// UpdateItemText replaces an item's embedding text and its lexical
// index entry in one transaction. The vector entry is left alone; the
// extra callback updates kind-specific columns atomically with the
// text.
func (e *Engine) UpdateItemText(ctx context.Context, t Table, id, text string, extra func(tx *sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET text = ? WHERE id = ?`, t.Name()), text, id,
	); err != nil {
		return fmt.Errorf("store: failed to update item %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET text = ? WHERE item_id = ?`, t.fts()), text, id,
	); err != nil {
		return fmt.Errorf("store: failed to update lexical entry %s: %w", id, err)
	}
	if extra != nil {
		if err := extra(tx); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit update: %w", err)
	}
	return nil
}

// TouchItem updates accessed_at.
func (e *Engine) TouchItem(ctx context.Context, t Table, id string, now time.Time) error {
	_, err := e.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET accessed_at = ? WHERE id = ?`, t.Name()),
		now.Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("store: failed to touch item %s: %w", id, err)
	}
	return nil
}

// VectorSearch returns up to k hits ordered ascending by cosine
// distance. Exact full scan; see the package comment.
func (e *Engine) VectorSearch(ctx context.Context, t Table, query []float32, k int) ([]MatchDistance, error) {
	if len(query) != e.dims {
		return nil, &EncodingError{Table: t.Name(), Got: len(query), Want: e.dims}
	}

	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("store: failed to marshal query vector: %w", err)
	}

	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT item_id, vec_distance_cosine(embedding, ?) AS distance
		FROM %s
		ORDER BY distance ASC
		LIMIT ?
	`, t.vec()), string(queryJSON), k)
	if err != nil {
		return nil, fmt.Errorf("store: vector search on %s failed: %w", t.Name(), err)
	}
	defer rows.Close()

	var results []MatchDistance
	for rows.Next() {
		var m MatchDistance
		if err := rows.Scan(&m.ID, &m.Distance); err != nil {
			return nil, fmt.Errorf("store: failed to scan vector hit: %w", err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// LexicalSearch returns up to k hits ranked by BM25, best first. The
// raw query is tokenized and quoted so user punctuation cannot break
// the FTS5 match syntax; an all-punctuation query matches nothing.
func (e *Engine) LexicalSearch(ctx context.Context, t Table, query string, k int) ([]MatchRank, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT item_id, bm25(%s) AS score
		FROM %s
		WHERE %s MATCH ?
		ORDER BY score
		LIMIT ?
	`, t.fts(), t.fts(), t.fts()), match, k)
	if err != nil {
		return nil, fmt.Errorf("store: lexical search on %s failed: %w", t.Name(), err)
	}
	defer rows.Close()

	var results []MatchRank
	for rows.Next() {
		var m MatchRank
		var score float64
		if err := rows.Scan(&m.ID, &score); err != nil {
			return nil, fmt.Errorf("store: failed to scan lexical hit: %w", err)
		}
		// BM25 scores come out negative, better is lower
		m.Rank = -score
		results = append(results, m)
	}
	return results, rows.Err()
}

// ftsQuery builds an OR query of quoted tokens from free-form text.
func ftsQuery(query string) string {
	var tokens []string
	for _, tok := range strings.Fields(query) {
		tok = strings.Map(func(r rune) rune {
			if r == '"' {
				return -1
			}
			return r
		}, tok)
		tok = strings.TrimFunc(tok, func(r rune) bool {
			return !isWordRune(r)
		})
		if tok != "" {
			tokens = append(tokens, `"`+tok+`"`)
		}
	}
	return strings.Join(tokens, " OR ")
}

func isWordRune(r rune) bool {
	return r == '_' || r == '-' ||
		(r >= '0' && r <= '9') ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		r > 127
}

// ItemCount returns the number of items of the given kind.
func (e *Engine) ItemCount(ctx context.Context, t Table) (int, error) {
	var count int
	err := e.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t.Name())).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: failed to count %s: %w", t.Name(), err)
	}
	return count, nil
}

// Timestamps returns created_at/accessed_at for the given ids, used by
// the hybrid index for recency tie-breaks.
func (e *Engine) Timestamps(ctx context.Context, t Table, ids []string) (map[string][2]time.Time, error) {
	out := make(map[string][2]time.Time, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, created_at, accessed_at FROM %s WHERE id IN (%s)`, t.Name(), placeholders,
	), args...)
	if err != nil {
		return nil, fmt.Errorf("store: failed to load timestamps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var created, accessed int64
		if err := rows.Scan(&id, &created, &accessed); err != nil {
			return nil, fmt.Errorf("store: failed to scan timestamps: %w", err)
		}
		out[id] = [2]time.Time{time.Unix(created, 0), time.Unix(accessed, 0)}
	}
	return out, rows.Err()
}

// Checkpoint flushes the WAL into the main database file so the file
// on disk is complete and copyable on its own.
func (e *Engine) Checkpoint(ctx context.Context) error {
	if _, err := e.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("store: wal checkpoint failed: %w", err)
	}
	return nil
}

// Close closes the store file.
func (e *Engine) Close() error {
	return e.db.Close()
}
