package cartridge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mnemo-ai/mnemo/internal/observability"
	"github.com/mnemo-ai/mnemo/internal/tracing"
	"github.com/mnemo-ai/mnemo/pkg/embed"
	"github.com/mnemo-ai/mnemo/pkg/hybrid"
	"github.com/mnemo-ai/mnemo/pkg/memstore"
	"github.com/mnemo-ai/mnemo/pkg/store"
)

// Mode selects the import conflict policy.
type Mode string

const (
	// ModeSafe fails with ErrConflict when the target already has a store.
	ModeSafe Mode = "safe"
	// ModeOverride discards the target store and installs the archive's.
	ModeOverride Mode = "override"
	// ModeMerge keeps the target store and folds in archive memories,
	// deduplicated by content hash.
	ModeMerge Mode = "merge"
	// ModeDryRun does all of merge's comparison work without writing.
	ModeDryRun Mode = "dry_run"
)

// ParseMode validates a raw mode string.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeSafe, ModeOverride, ModeMerge, ModeDryRun:
		return Mode(raw), nil
	default:
		return "", fmt.Errorf("cartridge: unknown import mode %q (safe, override, merge, dry_run)", raw)
	}
}

// ImportResult summarizes one import.
type ImportResult struct {
	Mode             Mode `json:"mode"`
	MemoriesAdded    int  `json:"memories_added"`
	MemoriesSkipped  int  `json:"memories_skipped"`
	PreferencesAdded int  `json:"preferences_added"`
	DryRun           bool `json:"dry_run,omitempty"`
}

// Import brings an archive into the target cartridge. The archive is
// fully validated (manifest schema, format version, every component
// checksum) before anything is written; a validation failure surfaces
// as CorruptArchiveError with the target untouched. The target's
// core.json is never overwritten.
func Import(ctx context.Context, archivePath string, target Cartridge, mode Mode, provider embed.Provider, cfg hybrid.Config, logger zerolog.Logger) (result *ImportResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "mnemo.cartridge", "cartridge.import",
		attribute.String("archive", archivePath),
		attribute.String("mode", string(mode)))
	defer span.End()

	defer func() {
		observability.RecordCartImport(string(mode), err == nil)
	}()

	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}

	src, err := OpenSource(archivePath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	manifest, err := ReadManifest(src)
	if err != nil {
		return nil, err
	}
	if err := VerifyChecksums(src, manifest); err != nil {
		return nil, err
	}

	switch mode {
	case ModeSafe:
		if target.HasStore() {
			return nil, fmt.Errorf("%w: %s", ErrConflict, target.StorePath())
		}
		return install(src, target, manifest, mode)
	case ModeOverride:
		return install(src, target, manifest, mode)
	default:
		return merge(ctx, src, target, manifest, mode, provider, cfg, logger)
	}
}

// install writes the archive's store and preferences into the target,
// replacing what is there. Core is only installed when the target has
// none.
func install(src Source, target Cartridge, manifest *Manifest, mode Mode) (*ImportResult, error) {
	if err := os.MkdirAll(target.Dir, 0755); err != nil {
		return nil, fmt.Errorf("cartridge: creating cartridge directory: %w", err)
	}

	// Stale WAL sidecars from the replaced store would corrupt the
	// installed one.
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(target.StorePath() + suffix); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("cartridge: removing existing store: %w", err)
		}
	}

	if err := copyComponent(src, StoreName, target.StorePath()); err != nil {
		return nil, err
	}
	if src.Has(PreferencesName) {
		if err := copyComponent(src, PreferencesName, target.PreferencesPath()); err != nil {
			return nil, err
		}
	}
	if src.Has(CoreName) {
		if _, err := os.Stat(target.CorePath()); os.IsNotExist(err) {
			if err := copyComponent(src, CoreName, target.CorePath()); err != nil {
				return nil, err
			}
		}
	}

	return &ImportResult{Mode: mode, MemoriesAdded: manifest.MemoryCount}, nil
}

func copyComponent(src Source, name, dest string) error {
	data, err := readAll(src, name)
	if err != nil {
		return fmt.Errorf("cartridge: reading component %s: %w", name, err)
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return fmt.Errorf("cartridge: installing %s: %w", name, err)
	}
	return nil
}

func merge(ctx context.Context, src Source, target Cartridge, manifest *Manifest, mode Mode, provider embed.Provider, cfg hybrid.Config, logger zerolog.Logger) (*ImportResult, error) {
	dryRun := mode == ModeDryRun

	// Merging into a cartridge that has no store yet is an install.
	if !target.HasStore() {
		if dryRun {
			return &ImportResult{Mode: mode, MemoriesAdded: manifest.MemoryCount, DryRun: true}, nil
		}
		return install(src, target, manifest, mode)
	}

	archiveMems, cleanup, err := readArchiveMemories(src)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	engine, err := store.Open(target.StorePath(), provider.Dimensions(), logger)
	if err != nil {
		return nil, err
	}
	defer engine.Close()
	mems := memstore.New(engine, provider, cfg, logger)

	existing, err := mems.Dump(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(existing))
	for _, m := range existing {
		seen[memstore.ContentHash(m.Subject, m.Content)] = true
	}

	result := &ImportResult{Mode: mode, DryRun: dryRun}
	for _, m := range archiveMems {
		hash := memstore.ContentHash(m.Subject, m.Content)
		if seen[hash] {
			result.MemoriesSkipped++
			continue
		}
		seen[hash] = true
		if !dryRun {
			if err := importOne(ctx, mems, provider, m); err != nil {
				return nil, fmt.Errorf("cartridge: importing memory %q: %w", m.Subject, err)
			}
		}
		result.MemoriesAdded++
	}

	added, err := mergePreferenceFiles(src, target, dryRun)
	if err != nil {
		return nil, err
	}
	result.PreferencesAdded = added

	logger.Info().
		Str("mode", string(mode)).
		Int("added", result.MemoriesAdded).
		Int("skipped", result.MemoriesSkipped).
		Msg("Cartridge merge completed")

	return result, nil
}

// importOne inserts an archive memory, reusing its vector when the
// dimensionality matches the target embedder and re-embedding when it
// does not.
func importOne(ctx context.Context, mems *memstore.Store, provider embed.Provider, m memstore.ExportedMemory) error {
	_, err := mems.Import(ctx, m)
	if err == nil || !store.IsEncodingError(err) {
		return err
	}

	subject, perr := memstore.ParseSubject(m.Subject)
	if perr != nil {
		return perr
	}
	vec, eerr := provider.Embed(ctx, memstore.EmbeddingText(subject, m.Content))
	if eerr != nil {
		return eerr
	}
	m.Embedding = vec
	_, err = mems.Import(ctx, m)
	return err
}

func mergePreferenceFiles(src Source, target Cartridge, dryRun bool) (int, error) {
	if !src.Has(PreferencesName) {
		return 0, nil
	}
	raw, err := readAll(src, PreferencesName)
	if err != nil {
		return 0, fmt.Errorf("cartridge: reading archive preferences: %w", err)
	}
	var archive map[string]json.RawMessage
	if err := json.Unmarshal(raw, &archive); err != nil {
		return 0, &CorruptArchiveError{Component: PreferencesName, Msg: err.Error()}
	}

	prefs, err := target.Preferences()
	if err != nil {
		return 0, err
	}
	added := mergePreferences(prefs, archive)
	if added == 0 || dryRun {
		return added, nil
	}
	return added, target.WritePreferences(prefs)
}

// readArchiveMemories extracts the archive's store file to a temp path
// and reads its memories with their vectors. The archive store is read
// raw: no dimension check, since its vectors may not match the target
// embedder.
func readArchiveMemories(src Source) ([]memstore.ExportedMemory, func(), error) {
	data, err := readAll(src, StoreName)
	if err != nil {
		return nil, nil, fmt.Errorf("cartridge: reading archive store: %w", err)
	}

	tmp, err := os.CreateTemp("", "mnemo-import-*.db")
	if err != nil {
		return nil, nil, fmt.Errorf("cartridge: staging archive store: %w", err)
	}
	cleanup := func() { os.Remove(tmp.Name()) }
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return nil, nil, fmt.Errorf("cartridge: staging archive store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("cartridge: staging archive store: %w", err)
	}

	db, err := sql.Open("sqlite3", tmp.Name()+"?mode=ro")
	if err != nil {
		cleanup()
		return nil, nil, &CorruptArchiveError{Component: StoreName, Msg: err.Error()}
	}
	defer db.Close()

	rows, err := db.Query(
		`SELECT id, subject, content, source, access_count, created_at, accessed_at, embedding
		 FROM memories ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		cleanup()
		return nil, nil, &CorruptArchiveError{Component: StoreName, Msg: fmt.Sprintf("not a memory store: %v", err)}
	}
	defer rows.Close()

	var out []memstore.ExportedMemory
	for rows.Next() {
		var m memstore.ExportedMemory
		var source, embJSON string
		var created, accessed int64
		if err := rows.Scan(&m.ID, &m.Subject, &m.Content, &source, &m.AccessCount, &created, &accessed, &embJSON); err != nil {
			cleanup()
			return nil, nil, &CorruptArchiveError{Component: StoreName, Msg: err.Error()}
		}
		m.Source = memstore.Source(source)
		m.CreatedAt = time.Unix(created, 0)
		m.AccessedAt = time.Unix(accessed, 0)
		if err := json.Unmarshal([]byte(embJSON), &m.Embedding); err != nil {
			cleanup()
			return nil, nil, &CorruptArchiveError{Component: StoreName, Msg: fmt.Sprintf("bad embedding for %s: %v", m.ID, err)}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		cleanup()
		return nil, nil, &CorruptArchiveError{Component: StoreName, Msg: err.Error()}
	}
	return out, cleanup, nil
}
