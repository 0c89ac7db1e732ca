package indexer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goSource = `package demo

import "fmt"

func Hello(name string) string {
	return fmt.Sprintf("hello %s", name)
}

type Greeter struct {
	prefix string
}

func (g Greeter) Greet(name string) string {
	return g.prefix + name
}
`

func TestChunkSource_GoStructural(t *testing.T) {
	chunks := ChunkSource(goSource, "Go")
	require.NotEmpty(t, chunks)

	byName := make(map[string]Chunk)
	for _, c := range chunks {
		byName[c.Name] = c
	}

	// Prologue (package clause and import) becomes a module chunk
	assert.Equal(t, ChunkModule, chunks[0].Type)
	assert.Equal(t, 1, chunks[0].StartLine)

	hello, ok := byName["Hello"]
	require.True(t, ok)
	assert.Equal(t, ChunkFunction, hello.Type)
	assert.Contains(t, hello.Text, "fmt.Sprintf")

	greeter, ok := byName["Greeter"]
	require.True(t, ok)
	assert.Equal(t, ChunkClass, greeter.Type)

	greet, ok := byName["Greet"]
	require.True(t, ok)
	assert.Equal(t, ChunkFunction, greet.Type)
}

func TestChunkSource_LineRanges(t *testing.T) {
	chunks := ChunkSource(goSource, "Go")
	for _, c := range chunks {
		assert.LessOrEqual(t, c.StartLine, c.EndLine)
		assert.GreaterOrEqual(t, c.StartLine, 1)
	}
}

func TestChunkSource_PythonStructural(t *testing.T) {
	src := `import os

def load(path):
    return os.path.exists(path)

class Loader:
    pass
`
	chunks := ChunkSource(src, "Python")
	require.NotEmpty(t, chunks)

	var names []string
	for _, c := range chunks {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "load")
	assert.Contains(t, names, "Loader")
}

func TestChunkSource_UnknownLanguageFallsBack(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 120; i++ {
		fmt.Fprintf(&b, "line %d of some configuration\n", i)
	}

	chunks := ChunkSource(b.String(), "INI")
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Equal(t, ChunkWindow, c.Type)
		assert.LessOrEqual(t, c.EndLine-c.StartLine+1, WindowLines)
	}
	// 120 lines with a 40-line step
	assert.GreaterOrEqual(t, len(chunks), 3)

	// Consecutive windows overlap
	if len(chunks) > 1 {
		assert.Less(t, chunks[1].StartLine, chunks[0].EndLine)
	}
}

func TestChunkSource_NoBoundariesFallsBack(t *testing.T) {
	// Valid language, but nothing the structural patterns recognize
	chunks := ChunkSource("// just a comment\n// and another\n", "Go")
	require.Len(t, chunks, 1)
	assert.Equal(t, ChunkWindow, chunks[0].Type)
}

func TestChunkSource_EmptyContent(t *testing.T) {
	assert.Nil(t, ChunkSource("", "Go"))
	assert.Nil(t, ChunkSource("   \n\t\n", "Go"))
}

func TestChunkSource_AlwaysAtLeastOneChunk(t *testing.T) {
	for _, lang := range []string{"Go", "Python", "JavaScript", "Text", ""} {
		chunks := ChunkSource("a single line of content", lang)
		assert.NotEmpty(t, chunks, "language %q", lang)
	}
}

func TestChunkSource_OversizedFunctionIsWindowed(t *testing.T) {
	var b strings.Builder
	b.WriteString("func Huge() {\n")
	for i := 0; i < 3*WindowLines; i++ {
		fmt.Fprintf(&b, "\tx := %d\n", i)
	}
	b.WriteString("}\n")

	chunks := ChunkSource(b.String(), "Go")
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.EndLine-c.StartLine+1, 2*WindowLines)
	}
}
