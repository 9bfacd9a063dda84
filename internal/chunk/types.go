// Package chunk implements the AST-aware chunker: it splits Rust
// source into chunks whose boundaries align with top-level semantic units
// (function/struct/enum/trait/impl/module/const/static/type-alias), one
// chunk per symbol, falling back to overlapping line windows only when a
// single symbol is too large or parsing fails.
package chunk

import "context"

// Chunk size defaults, approximated in characters (TokensPerChar below).
const (
	DefaultMaxChunkTokens = 512
	DefaultOverlapTokens  = 64
	TokensPerChar         = 4

	// OverlapFraction is the fraction of a neighboring chunk's content kept
	// as overlap_prev/overlap_next to bridge semantic boundaries.
	OverlapFraction = 0.2
)

// SymbolKind enumerates the Rust top-level item kinds. It maps
// one-to-one onto tree-sitter-rust's top-level grammar.
type SymbolKind string

const (
	SymbolFunction  SymbolKind = "Function"
	SymbolStruct    SymbolKind = "Struct"
	SymbolEnum      SymbolKind = "Enum"
	SymbolTrait     SymbolKind = "Trait"
	SymbolImpl      SymbolKind = "Impl"
	SymbolModule    SymbolKind = "Module"
	SymbolConst     SymbolKind = "Const"
	SymbolStatic    SymbolKind = "Static"
	SymbolTypeAlias SymbolKind = "TypeAlias"
)

// Context is the structured metadata attached to a chunk.
type Context struct {
	FilePath     string
	ModulePath   []string // ordered segments, outermost first
	SymbolName   string
	SymbolKind   SymbolKind
	Docstring    string
	Imports      []string // first K use-paths
	OutgoingCalls []string // first K call targets
	LineStart    int
	LineEnd      int
}

// Chunk is the unit of retrieval produced by the chunker.
type Chunk struct {
	ChunkID     string // stable UUID derived from (file path, symbol name, start line)
	Content     string // verbatim source text
	Context     Context
	OverlapPrev string // ~20% excerpt of the preceding neighbor, optional
	OverlapNext string // ~20% excerpt of the following neighbor, optional
	Embedding   []float32
}

// FileInput is one file offered to the chunker.
type FileInput struct {
	Path    string // relative to the indexed root
	Content []byte
}

// Chunker splits a file into chunks.
type Chunker interface {
	Chunk(ctx context.Context, file FileInput) ([]Chunk, error)
}
