package cartridge

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mnemo-ai/mnemo/internal/observability"
	"github.com/mnemo-ai/mnemo/internal/tracing"
	"github.com/mnemo-ai/mnemo/pkg/memstore"
	"github.com/mnemo-ai/mnemo/pkg/store"
)

// ExportResult summarizes one export.
type ExportResult struct {
	Archive     string   `json:"archive"`
	MemoryCount int      `json:"memory_count"`
	Components  []string `json:"components"`
}

// Export writes the cartridge to dest as a self-contained archive: a
// zip file when dest ends in .zip, a directory otherwise. The engine's
// WAL is checkpointed first so the copied store file is complete on its
// own. Large assets under assets/ are included only when includeAssets
// is set.
func Export(ctx context.Context, cart Cartridge, engine *store.Engine, mems *memstore.Store, dest string, includeAssets bool) (*ExportResult, error) {
	ctx, span := tracing.StartSpan(ctx, "mnemo.cartridge", "cartridge.export",
		attribute.String("dest", dest))
	defer span.End()

	if !cart.HasStore() {
		return nil, fmt.Errorf("cartridge: %s has no store to export", cart.Dir)
	}
	if err := engine.Checkpoint(ctx); err != nil {
		return nil, err
	}
	count, err := mems.Count(ctx)
	if err != nil {
		return nil, err
	}

	components, err := collectComponents(cart, includeAssets)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	manifest := &Manifest{
		Version:     ManifestVersion,
		Checksums:   make(map[string]string, len(components)),
		MemoryCount: count,
		Created:     now,
		Modified:    now,
	}

	files := make(map[string][]byte, len(components)+1)
	names := make([]string, 0, len(components))
	for name, path := range components {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cartridge: reading component %s: %w", name, err)
		}
		files[name] = data
		manifest.Checksums[name] = Checksum(data)
		names = append(names, name)
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("cartridge: encoding manifest: %w", err)
	}
	files[ManifestName] = append(manifestJSON, '\n')

	if strings.HasSuffix(dest, ".zip") {
		err = writeZip(dest, files)
	} else {
		err = writeDir(dest, files)
	}
	if err != nil {
		return nil, err
	}

	observability.RecordCartExport()

	return &ExportResult{
		Archive:     dest,
		MemoryCount: count,
		Components:  append(names, ManifestName),
	}, nil
}

// collectComponents maps archive names to source paths. The store file
// is mandatory; core and preferences are included when present.
func collectComponents(cart Cartridge, includeAssets bool) (map[string]string, error) {
	components := map[string]string{
		StoreName: cart.StorePath(),
	}
	for _, opt := range []struct{ name, path string }{
		{CoreName, cart.CorePath()},
		{PreferencesName, cart.PreferencesPath()},
	} {
		if info, err := os.Stat(opt.path); err == nil && !info.IsDir() {
			components[opt.name] = opt.path
		}
	}

	if includeAssets {
		assets := cart.AssetsPath()
		err := filepath.WalkDir(assets, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(cart.Dir, path)
			if err != nil {
				return err
			}
			components[filepath.ToSlash(rel)] = path
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("cartridge: walking assets: %w", err)
		}
	}
	return components, nil
}

func writeDir(dest string, files map[string][]byte) error {
	for name, data := range files {
		path := filepath.Join(dest, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("cartridge: creating %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("cartridge: writing %s: %w", name, err)
		}
	}
	return nil
}

func writeZip(dest string, files map[string][]byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("cartridge: creating %s: %w", filepath.Dir(dest), err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("cartridge: creating archive %s: %w", dest, err)
	}

	zw := zip.NewWriter(f)
	for name, data := range files {
		w, err := zw.Create(name)
		if err == nil {
			_, err = w.Write(data)
		}
		if err != nil {
			zw.Close()
			f.Close()
			return fmt.Errorf("cartridge: writing %s to archive: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("cartridge: finalizing archive: %w", err)
	}
	return f.Close()
}
