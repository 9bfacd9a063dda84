package chunk

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// idNamespace is a fixed namespace UUID used to derive deterministic
// chunk_ids via uuid.NewSHA1. Any fixed UUID works; what matters is that it
// never changes across runs so the same (path, symbol, start_line) always
// yields the same chunk_id.
var idNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// RustChunker implements Chunker for Rust source using tree-sitter.
type RustChunker struct {
	parser         *Parser
	maxChunkTokens int
	overlapTokens  int
}

// Options configures RustChunker behavior.
type Options struct {
	MaxChunkTokens int
	OverlapTokens  int
}

// New creates a RustChunker. Zero-valued fields in opts take defaults.
func New(opts Options) *RustChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	return &RustChunker{
		parser:         NewParser(),
		maxChunkTokens: opts.MaxChunkTokens,
		overlapTokens:  opts.OverlapTokens,
	}
}

// Close releases the underlying tree-sitter parser.
func (c *RustChunker) Close() {
	c.parser.Close()
}

var _ Chunker = (*RustChunker)(nil)

// Chunk splits file into one chunk per top-level Rust item. Oversized
// symbols are split into overlapping line windows. Parse failures fall back
// to plain line-based chunking rather than dropping the file.
func (c *RustChunker) Chunk(ctx context.Context, file FileInput) ([]Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	tree, err := c.parser.Parse(ctx, file.Path, file.Content)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return c.chunkByLines(file), nil
	}

	imports := extractImports(tree.Root, tree.Source, maxHeaderEntries)
	symbols := findSymbolNodes(tree.Root, tree.Source)
	if len(symbols) == 0 {
		return nil, nil
	}

	var chunks []Chunk
	for _, sym := range symbols {
		chunks = append(chunks, c.buildChunks(file, tree, sym, imports)...)
	}
	attachOverlaps(chunks)
	return chunks, nil
}

func (c *RustChunker) buildChunks(file FileInput, tree *Tree, sym symbolNodeInfo, imports []string) []Chunk {
	doc := extractDocComment(sym.node, tree.Source)
	content := sym.node.GetContent(tree.Source)
	startLine := int(sym.node.StartPoint.Row) + 1
	endLine := int(sym.node.EndPoint.Row) + 1

	baseCtx := Context{
		FilePath:      file.Path,
		ModulePath:    sym.modulePath,
		SymbolName:    sym.name,
		SymbolKind:    sym.kind,
		Docstring:     doc,
		Imports:       imports,
		OutgoingCalls: extractOutgoingCalls(sym.node, tree.Source, maxHeaderEntries),
		LineStart:     startLine,
		LineEnd:       endLine,
	}

	if estimateTokens(content) <= c.maxChunkTokens {
		return []Chunk{{
			ChunkID: chunkID(file.Path, sym.name, startLine),
			Content: content,
			Context: baseCtx,
		}}
	}

	return c.splitByLines(file, sym, content, baseCtx)
}

// splitByLines breaks an oversized symbol into overlapping line windows.
// Each window keeps the full symbol context but a narrowed line range, and
// gets a distinct chunk_id via a "_partN" suffix on the symbol name used for
// derivation (the stored SymbolName in Context is left unmodified).
func (c *RustChunker) splitByLines(file FileInput, sym symbolNodeInfo, content string, baseCtx Context) []Chunk {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return nil
	}

	maxLines := (c.maxChunkTokens * TokensPerChar) / 80
	if maxLines < 20 {
		maxLines = 20
	}
	overlapLines := (c.overlapTokens * TokensPerChar) / 80
	if overlapLines < 2 {
		overlapLines = 2
	}

	var chunks []Chunk
	startLine := baseCtx.LineStart
	for i := 0; i < len(lines); {
		end := i + maxLines
		if end > len(lines) {
			end = len(lines)
		}

		partCtx := baseCtx
		partCtx.LineStart = startLine + i
		partCtx.LineEnd = startLine + end - 1

		partName := fmt.Sprintf("%s_part%d", sym.name, len(chunks)+1)
		chunks = append(chunks, Chunk{
			ChunkID: chunkID(file.Path, partName, partCtx.LineStart),
			Content: strings.Join(lines[i:end], "\n"),
			Context: partCtx,
		})

		if end >= len(lines) {
			break
		}
		i = end - overlapLines
		if i <= 0 {
			break
		}
	}
	return chunks
}

// chunkByLines is the fallback for files that fail to parse.
func (c *RustChunker) chunkByLines(file FileInput) []Chunk {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	linesPerChunk := (c.maxChunkTokens * TokensPerChar) / 80
	if linesPerChunk < 20 {
		linesPerChunk = 20
	}
	overlapLines := (c.overlapTokens * TokensPerChar) / 80
	if overlapLines < 2 {
		overlapLines = 2
	}

	var chunks []Chunk
	for i := 0; i < len(lines); {
		end := i + linesPerChunk
		if end > len(lines) {
			end = len(lines)
		}
		startLine := i + 1
		chunks = append(chunks, Chunk{
			ChunkID: chunkID(file.Path, fmt.Sprintf("line_block_%d", startLine), startLine),
			Content: strings.Join(lines[i:end], "\n"),
			Context: Context{
				FilePath:  file.Path,
				LineStart: startLine,
				LineEnd:   end,
			},
		})
		if end >= len(lines) {
			break
		}
		i = end - overlapLines
		if i <= 0 {
			break
		}
	}
	return chunks
}

// attachOverlaps fills OverlapPrev/OverlapNext with a ~20% excerpt of each
// chunk's immediate neighbor in file order, bridging semantic boundaries.
func attachOverlaps(chunks []Chunk) {
	for i := range chunks {
		if i > 0 {
			chunks[i].OverlapPrev = tailExcerpt(chunks[i-1].Content, OverlapFraction)
		}
		if i < len(chunks)-1 {
			chunks[i].OverlapNext = headExcerpt(chunks[i+1].Content, OverlapFraction)
		}
	}
}

func headExcerpt(content string, fraction float64) string {
	n := int(float64(len(content)) * fraction)
	if n <= 0 || n >= len(content) {
		return content
	}
	return content[:n]
}

func tailExcerpt(content string, fraction float64) string {
	n := int(float64(len(content)) * fraction)
	if n <= 0 || n >= len(content) {
		return content
	}
	return content[len(content)-n:]
}

func estimateTokens(content string) int {
	return len(content) / TokensPerChar
}

// chunkID derives a stable UUID from (file path, symbol name, start line),
// so re-running the chunker against unchanged content yields identical ids
// and delete-before-reinsert stays well-defined.
func chunkID(filePath, symbolName string, startLine int) string {
	key := fmt.Sprintf("%s:%s:%d", filePath, symbolName, startLine)
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}

// EmbeddingInput assembles the structured header + verbatim code text that
// is handed to the embedder, per the chunk's context.
func EmbeddingInput(ch Chunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "// File: %s\n", ch.Context.FilePath)
	fmt.Fprintf(&b, "// Location: lines %d-%d\n", ch.Context.LineStart, ch.Context.LineEnd)
	fmt.Fprintf(&b, "// Module: %s\n", strings.Join(ch.Context.ModulePath, "::"))
	fmt.Fprintf(&b, "// Symbol: %s (%s)\n", ch.Context.SymbolName, ch.Context.SymbolKind)
	fmt.Fprintf(&b, "// Docstring: %s\n", singleLine(ch.Context.Docstring))
	fmt.Fprintf(&b, "// Imports: %s\n", strings.Join(ch.Context.Imports, "; "))
	fmt.Fprintf(&b, "// Calls: %s\n", strings.Join(ch.Context.OutgoingCalls, ", "))
	b.WriteString("\n")
	b.WriteString(ch.Content)
	return b.String()
}

func singleLine(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}
