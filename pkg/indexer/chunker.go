package indexer

import (
	"fmt"
	"regexp"
	"strings"
)

// ChunkType classifies how a chunk was carved out of its file.
type ChunkType string

const (
	ChunkFunction ChunkType = "function"
	ChunkClass    ChunkType = "class"
	ChunkModule   ChunkType = "module"
	ChunkWindow   ChunkType = "fallback_window"
)

// Sliding-window fallback parameters: every file yields at least one
// chunk even when no structural boundary is recognized.
const (
	WindowLines   = 50
	WindowOverlap = 10
)

// Chunk is one retrievable unit of source code. Lines are 1-based and
// inclusive.
type Chunk struct {
	Text      string
	Type      ChunkType
	Name      string
	StartLine int
	EndLine   int
}

// boundary recognizes the start of a structural unit on a single line.
type boundary struct {
	re    *regexp.Regexp
	typ   ChunkType
	group int // submatch index carrying the unit name, 0 if none
}

// Top-level declaration patterns per go-enry language name. Line-based
// boundary detection: good enough to split files on function/class
// starts, with the window fallback catching everything else.
var boundaries = map[string][]boundary{
	"Go": {
		{re: regexp.MustCompile(`^func\s+(?:\([^)]*\)\s*)?([A-Za-z_][A-Za-z0-9_]*)`), typ: ChunkFunction, group: 1},
		{re: regexp.MustCompile(`^type\s+([A-Za-z_][A-Za-z0-9_]*)\s+(?:struct|interface)\b`), typ: ChunkClass, group: 1},
	},
	"Python": {
		{re: regexp.MustCompile(`^(?:async\s+)?def\s+([A-Za-z_][A-Za-z0-9_]*)`), typ: ChunkFunction, group: 1},
		{re: regexp.MustCompile(`^class\s+([A-Za-z_][A-Za-z0-9_]*)`), typ: ChunkClass, group: 1},
	},
	"JavaScript": {
		{re: regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][A-Za-z0-9_$]*)?`), typ: ChunkFunction, group: 1},
		{re: regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`), typ: ChunkClass, group: 1},
		{re: regexp.MustCompile(`^(?:export\s+)?const\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*=\s*(?:async\s*)?\(`), typ: ChunkFunction, group: 1},
	},
	"Rust": {
		{re: regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?(?:async\s+)?fn\s+([A-Za-z_][A-Za-z0-9_]*)`), typ: ChunkFunction, group: 1},
		{re: regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?(?:struct|enum|trait)\s+([A-Za-z_][A-Za-z0-9_]*)`), typ: ChunkClass, group: 1},
		{re: regexp.MustCompile(`^impl\b`), typ: ChunkClass},
	},
	"Ruby": {
		{re: regexp.MustCompile(`^def\s+([A-Za-z_][A-Za-z0-9_?!]*)`), typ: ChunkFunction, group: 1},
		{re: regexp.MustCompile(`^(?:class|module)\s+([A-Za-z_][A-Za-z0-9_:]*)`), typ: ChunkClass, group: 1},
	},
	"Java": {
		{re: regexp.MustCompile(`^(?:public|protected|private)?\s*(?:abstract\s+|final\s+)?(?:class|interface|enum|record)\s+([A-Za-z_][A-Za-z0-9_]*)`), typ: ChunkClass, group: 1},
	},
}

// TypeScript shares JavaScript's shapes.
func init() {
	boundaries["TypeScript"] = boundaries["JavaScript"]
	boundaries["TSX"] = boundaries["JavaScript"]
	boundaries["JSX"] = boundaries["JavaScript"]
}

// ChunkSource splits source text into retrievable chunks. Structural
// chunking is attempted for recognized languages; when no parser is
// registered for the language or it finds no boundaries, a fixed-size
// sliding window guarantees at least one chunk for non-empty content.
func ChunkSource(content, language string) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	if patterns, ok := boundaries[language]; ok {
		if chunks := structuralChunks(content, patterns); len(chunks) > 0 {
			return chunks
		}
	}
	return windowChunks(content)
}

func structuralChunks(content string, patterns []boundary) []Chunk {
	lines := strings.Split(content, "\n")

	type mark struct {
		line int
		typ  ChunkType
		name string
	}
	var marks []mark
	for i, line := range lines {
		for _, b := range patterns {
			m := b.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			name := ""
			if b.group > 0 && b.group < len(m) {
				name = m[b.group]
			}
			marks = append(marks, mark{line: i, typ: b.typ, name: name})
			break
		}
	}
	if len(marks) == 0 {
		return nil
	}

	var chunks []Chunk
	emit := func(start, end int, typ ChunkType, name string) {
		text := strings.TrimRight(strings.Join(lines[start:end+1], "\n"), "\n")
		if strings.TrimSpace(text) == "" {
			return
		}
		chunks = append(chunks, Chunk{
			Text:      text,
			Type:      typ,
			Name:      name,
			StartLine: start + 1,
			EndLine:   end + 1,
		})
	}

	// Everything before the first declaration is the module prologue
	// (package clause, imports, constants).
	if marks[0].line > 0 {
		emit(0, marks[0].line-1, ChunkModule, "")
	}
	for i, mk := range marks {
		end := len(lines) - 1
		if i+1 < len(marks) {
			end = marks[i+1].line - 1
		}
		emit(mk.line, end, mk.typ, mk.name)
	}

	// Oversized structural units get windowed so one giant function
	// cannot dominate a single embedding.
	var out []Chunk
	for _, c := range chunks {
		if c.EndLine-c.StartLine+1 <= 2*WindowLines {
			out = append(out, c)
			continue
		}
		for _, w := range windowChunks(c.Text) {
			w.Type = c.Type
			if w.Name == "" && c.Name != "" {
				w.Name = fmt.Sprintf("%s (part %d)", c.Name, len(out)+1)
			}
			w.StartLine += c.StartLine - 1
			w.EndLine += c.StartLine - 1
			out = append(out, w)
		}
	}
	return out
}

func windowChunks(content string) []Chunk {
	lines := strings.Split(content, "\n")
	step := WindowLines - WindowOverlap

	var chunks []Chunk
	for start := 0; start < len(lines); start += step {
		end := start + WindowLines
		if end > len(lines) {
			end = len(lines)
		}
		text := strings.TrimRight(strings.Join(lines[start:end], "\n"), "\n")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, Chunk{
				Text:      text,
				Type:      ChunkWindow,
				StartLine: start + 1,
				EndLine:   end,
			})
		}
		if end == len(lines) {
			break
		}
	}
	return chunks
}
