package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FileRecord tracks one indexed source file. The content hash drives
// incremental re-indexing: an unchanged hash means the file's chunks
// are still current.
type FileRecord struct {
	ProjectRoot string
	Path        string
	ContentHash string
	ChunkCount  int
	IndexedAt   time.Time
}

// FileRecords returns every tracked file under the given project root.
func (e *Engine) FileRecords(ctx context.Context, root string) ([]FileRecord, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT project_root, path, content_hash, chunk_count, indexed_at FROM files WHERE project_root = ? ORDER BY path`,
		root,
	)
	if err != nil {
		return nil, fmt.Errorf("store: failed to load file records: %w", err)
	}
	defer rows.Close()

	var records []FileRecord
	for rows.Next() {
		var r FileRecord
		var indexed int64
		if err := rows.Scan(&r.ProjectRoot, &r.Path, &r.ContentHash, &r.ChunkCount, &indexed); err != nil {
			return nil, fmt.Errorf("store: failed to scan file record: %w", err)
		}
		r.IndexedAt = time.Unix(indexed, 0)
		records = append(records, r)
	}
	return records, rows.Err()
}

// ChunkIDs returns the ids of every code chunk belonging to one file.
func (e *Engine) ChunkIDs(ctx context.Context, root, path string) ([]string, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT id FROM code_chunks WHERE project_root = ? AND file_path = ?`,
		root, path,
	)
	if err != nil {
		return nil, fmt.Errorf("store: failed to load chunk ids for %s: %w", path, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: failed to scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertFileRecordTx writes a file record inside an open transaction so
// it commits atomically with the file's chunks.
func UpsertFileRecordTx(tx *sql.Tx, r FileRecord) error {
	_, err := tx.Exec(
		`INSERT INTO files (project_root, path, content_hash, chunk_count, indexed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(project_root, path) DO UPDATE SET
		   content_hash = excluded.content_hash,
		   chunk_count = excluded.chunk_count,
		   indexed_at = excluded.indexed_at`,
		r.ProjectRoot, r.Path, r.ContentHash, r.ChunkCount, r.IndexedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: failed to upsert file record %s: %w", r.Path, err)
	}
	return nil
}

// DeleteFileRecordTx removes a file record inside an open transaction.
func DeleteFileRecordTx(tx *sql.Tx, root, path string) error {
	if _, err := tx.Exec(`DELETE FROM files WHERE project_root = ? AND path = ?`, root, path); err != nil {
		return fmt.Errorf("store: failed to delete file record %s: %w", path, err)
	}
	return nil
}

// TouchProject records when a project root was last indexed.
func (e *Engine) TouchProject(ctx context.Context, root string, now time.Time) error {
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO projects (root, indexed_at) VALUES (?, ?)
		 ON CONFLICT(root) DO UPDATE SET indexed_at = excluded.indexed_at`,
		root, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: failed to touch project %s: %w", root, err)
	}
	return nil
}

// ProjectIndexedAt returns when the root was last indexed, or the zero
// time if it never was.
func (e *Engine) ProjectIndexedAt(ctx context.Context, root string) (time.Time, error) {
	var indexed int64
	err := e.db.QueryRowContext(ctx, `SELECT indexed_at FROM projects WHERE root = ?`, root).Scan(&indexed)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("store: failed to read project %s: %w", root, err)
	}
	return time.Unix(indexed, 0), nil
}
