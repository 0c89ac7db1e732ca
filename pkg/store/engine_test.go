package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo/internal/logger"
)

const testDims = 4

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(filepath.Join(t.TempDir(), "test.db"), testDims, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func testItem(id, text string, vec []float32) Item {
	now := time.Now()
	return Item{
		ID:         id,
		Text:       text,
		Embedding:  vec,
		CreatedAt:  now,
		AccessedAt: now,
	}
}

func TestOpen_CreatesSchema(t *testing.T) {
	e := openTestEngine(t)

	count, err := e.ItemCount(context.Background(), Memories)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = e.ItemCount(context.Background(), CodeChunks)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestOpen_DimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	e, err := Open(path, testDims, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = Open(path, testDims+1, logger.Nop())
	require.Error(t, err)
	assert.True(t, IsSchemaError(err))
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	e, err := Open(path, testDims, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, e.InsertItem(context.Background(), Memories,
		testItem("a", "hello", []float32{1, 0, 0, 0}), nil))
	require.NoError(t, e.Close())

	e, err = Open(path, testDims, logger.Nop())
	require.NoError(t, err)
	defer e.Close()

	count, err := e.ItemCount(context.Background(), Memories)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInsertItems_DimensionCheck(t *testing.T) {
	e := openTestEngine(t)

	err := e.InsertItem(context.Background(), Memories,
		testItem("a", "hello", []float32{1, 0}), nil)
	require.Error(t, err)
	assert.True(t, IsEncodingError(err))

	// Nothing written
	count, err := e.ItemCount(context.Background(), Memories)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDeleteItem(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.InsertItem(ctx, Memories,
		testItem("a", "hello world", []float32{1, 0, 0, 0}), nil))

	existed, err := e.DeleteItem(ctx, Memories, "a", nil)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = e.DeleteItem(ctx, Memories, "a", nil)
	require.NoError(t, err)
	assert.False(t, existed)

	// Lexical entry went with it
	hits, err := e.LexicalSearch(ctx, Memories, "hello", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestVectorSearch_Ordering(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	items := []Item{
		testItem("exact", "a", []float32{1, 0, 0, 0}),
		testItem("near", "b", []float32{0.9, 0.1, 0, 0}),
		testItem("far", "c", []float32{0, 0, 0, 1}),
	}
	require.NoError(t, e.InsertItems(ctx, Memories, items, nil))

	hits, err := e.VectorSearch(ctx, Memories, []float32{1, 0, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "exact", hits[0].ID)
	assert.Equal(t, "near", hits[1].ID)
	assert.Equal(t, "far", hits[2].ID)
	assert.Less(t, hits[0].Distance, hits[1].Distance)
}

func TestLexicalSearch_RanksAndStems(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	items := []Item{
		testItem("a", "the user prefers python for scripting", []float32{1, 0, 0, 0}),
		testItem("b", "deployment notes for the build server", []float32{0, 1, 0, 0}),
	}
	require.NoError(t, e.InsertItems(ctx, Memories, items, nil))

	// porter stemming: "prefer" matches "prefers"
	hits, err := e.LexicalSearch(ctx, Memories, "prefer python", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a", hits[0].ID)
	assert.Greater(t, hits[0].Rank, 0.0)
}

func TestLexicalSearch_PunctuationOnlyQuery(t *testing.T) {
	e := openTestEngine(t)

	hits, err := e.LexicalSearch(context.Background(), Memories, `"?!" ...`, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestUpdateItemText(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.InsertItem(ctx, Memories,
		testItem("a", "original wording", []float32{1, 0, 0, 0}), nil))
	require.NoError(t, e.UpdateItemText(ctx, Memories, "a", "replacement phrasing", nil))

	hits, err := e.LexicalSearch(ctx, Memories, "replacement", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)

	hits, err = e.LexicalSearch(ctx, Memories, "original", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestTimestamps(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	it := testItem("a", "hello", []float32{1, 0, 0, 0})
	require.NoError(t, e.InsertItem(ctx, Memories, it, nil))

	stamps, err := e.Timestamps(ctx, Memories, []string{"a", "missing"})
	require.NoError(t, err)
	require.Contains(t, stamps, "a")
	assert.NotContains(t, stamps, "missing")
	assert.Equal(t, it.CreatedAt.Unix(), stamps["a"][0].Unix())
}

func TestTablesAreIsolated(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.InsertItem(ctx, Memories,
		testItem("m", "memory text", []float32{1, 0, 0, 0}), nil))
	require.NoError(t, e.InsertItem(ctx, CodeChunks,
		testItem("c", "func main() {}", []float32{0, 1, 0, 0}), nil))

	hits, err := e.LexicalSearch(ctx, Memories, "func main", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = e.LexicalSearch(ctx, CodeChunks, "func main", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}
