package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo/internal/logger"
	"github.com/mnemo-ai/mnemo/pkg/embed"
	"github.com/mnemo-ai/mnemo/pkg/hybrid"
	"github.com/mnemo-ai/mnemo/pkg/store"
)

func newTestIndexer(t *testing.T) (*Indexer, *store.Engine) {
	t.Helper()
	provider := embed.NewMockProvider(128)
	engine, err := store.Open(filepath.Join(t.TempDir(), "index.db"), provider.Dimensions(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return New(engine, provider, hybrid.DefaultConfig(), logger.Nop()), engine
}

func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	files := map[string]string{
		"main.go": `package main

func main() {
	run()
}
`,
		"server.go": `package main

func handleRequest(path string) string {
	return "served " + path
}
`,
		"util.py": `def normalize(text):
    return text.strip().lower()
`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0644))
	}
	return root
}

func TestIndex_ThreeFileProject(t *testing.T) {
	ix, _ := newTestIndexer(t)
	root := writeProject(t)

	result, err := ix.Index(context.Background(), root, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.FilesIndexed)
	assert.Equal(t, 0, result.FilesSkipped)
	assert.Equal(t, 0, result.FilesPruned)
	assert.GreaterOrEqual(t, result.ChunksIndexed, 3)
}

func TestIndex_IdempotentWithoutChanges(t *testing.T) {
	ix, _ := newTestIndexer(t)
	root := writeProject(t)
	ctx := context.Background()

	_, err := ix.Index(ctx, root, false)
	require.NoError(t, err)

	second, err := ix.Index(ctx, root, false)
	require.NoError(t, err)
	assert.Equal(t, 0, second.FilesIndexed)
	assert.Equal(t, 3, second.FilesSkipped)
}

func TestIndex_ForceReindexesEverything(t *testing.T) {
	ix, _ := newTestIndexer(t)
	root := writeProject(t)
	ctx := context.Background()

	_, err := ix.Index(ctx, root, false)
	require.NoError(t, err)

	forced, err := ix.Index(ctx, root, true)
	require.NoError(t, err)
	assert.Equal(t, 3, forced.FilesIndexed)
}

func TestIndex_ChangedFileIsReindexedWithoutDuplicates(t *testing.T) {
	ix, engine := newTestIndexer(t)
	root := writeProject(t)
	ctx := context.Background()

	_, err := ix.Index(ctx, root, false)
	require.NoError(t, err)

	before, err := engine.ChunkIDs(ctx, mustAbs(t, root), "server.go")
	require.NoError(t, err)
	require.NotEmpty(t, before)

	updated := `package main

func handleRequest(path string) string {
	return "served with logging " + path
}

func logRequest(path string) {
	println(path)
}
`
	require.NoError(t, os.WriteFile(filepath.Join(root, "server.go"), []byte(updated), 0644))

	result, err := ix.Index(ctx, root, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesIndexed)
	assert.Equal(t, 2, result.FilesSkipped)

	after, err := engine.ChunkIDs(ctx, mustAbs(t, root), "server.go")
	require.NoError(t, err)
	require.NotEmpty(t, after)
	// Replaced, not accumulated
	for _, id := range after {
		assert.NotContains(t, before, id)
	}
}

func TestIndex_SkipsIgnoredAndBinary(t *testing.T) {
	ix, _ := newTestIndexer(t)
	root := writeProject(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "dep"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "dep", "index.js"), []byte("module.exports = 1\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref: refs/heads/main\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "blob.bin"), []byte{0x00, 0x01, 0x02, 0xff, 0x00}, 0644))

	result, err := ix.Index(ctx, root, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.FilesIndexed)
}

func TestSearch_FindsFunction(t *testing.T) {
	ix, _ := newTestIndexer(t)
	root := writeProject(t)
	ctx := context.Background()

	_, err := ix.Index(ctx, root, false)
	require.NoError(t, err)

	chunks, err := ix.Search(ctx, "handleRequest served path", 5)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	top := chunks[0]
	assert.Equal(t, "server.go", top.FilePath)
	assert.Equal(t, ChunkFunction, top.ChunkType)
	assert.Equal(t, "handleRequest", top.Name)
	assert.Contains(t, top.Content, "served")
	assert.Greater(t, top.Relevance, 0.0)
}

func TestFreshness_CleanTree(t *testing.T) {
	ix, _ := newTestIndexer(t)
	root := writeProject(t)
	ctx := context.Background()

	_, err := ix.Index(ctx, root, false)
	require.NoError(t, err)

	report, err := ix.Freshness(ctx, root)
	require.NoError(t, err)
	assert.True(t, report.Fresh)
	assert.Empty(t, report.StaleFiles)
	assert.Empty(t, report.RemovedFiles)
	assert.Empty(t, report.NewFiles)
}

func TestFreshness_NotIndexed(t *testing.T) {
	ix, _ := newTestIndexer(t)

	_, err := ix.Freshness(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNotIndexed)
}

func TestFreshness_DetectsStaleRemovedAndNew(t *testing.T) {
	ix, _ := newTestIndexer(t)
	root := writeProject(t)
	ctx := context.Background()

	_, err := ix.Index(ctx, root, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0644))
	require.NoError(t, os.Remove(filepath.Join(root, "util.py")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "extra.go"), []byte("package main\n\nfunc extra() {}\n"), 0644))

	report, err := ix.Freshness(ctx, root)
	require.NoError(t, err)
	assert.False(t, report.Fresh)
	assert.Equal(t, []string{"main.go"}, report.StaleFiles)
	assert.Equal(t, []string{"util.py"}, report.RemovedFiles)
	assert.Equal(t, []string{"extra.go"}, report.NewFiles)
}

func TestIndex_PrunesDeletedFiles(t *testing.T) {
	ix, engine := newTestIndexer(t)
	root := writeProject(t)
	ctx := context.Background()

	_, err := ix.Index(ctx, root, false)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(root, "util.py")))

	result, err := ix.Index(ctx, root, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesPruned)

	ids, err := engine.ChunkIDs(ctx, mustAbs(t, root), "util.py")
	require.NoError(t, err)
	assert.Empty(t, ids)

	records, err := engine.FileRecords(ctx, mustAbs(t, root))
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func mustAbs(t *testing.T, path string) string {
	t.Helper()
	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	return abs
}
