// Package pipeline drives the indexing pipeline: files -> chunks
// -> embeddings -> dual write, with an atomic lexical commit at the end of
// each run. It is invoked by the incremental driver with the
// added/modified/deleted path sets a Merkle diff produced.
package pipeline

import (
	"time"

	"github.com/rscodex/rscodex/internal/chunk"
	"github.com/rscodex/rscodex/internal/embed"
	"github.com/rscodex/rscodex/internal/lexical"
	"github.com/rscodex/rscodex/internal/metacache"
	"github.com/rscodex/rscodex/internal/safety"
	"github.com/rscodex/rscodex/internal/vecstore"
)

// Mode selects the concurrency strategy for the read/chunk stage:
// Sequential is the one-file-at-a-time baseline, Parallel fans
// out across a bounded worker pool, Pipeline stages the whole run behind
// bounded channels for large (>5k file) codebases.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
	ModePipeline   Mode = "pipeline"
)

// Stats summarizes one pipeline run, returned to the caller and surfaced
// through the index_codebase tool result.
type Stats struct {
	IndexedFiles   int
	UnchangedFiles int
	SkippedFiles   int
	TotalChunks    int
	Duration       time.Duration
	SkippedPaths   []string
}

// Deps are the collaborators the pipeline drives for one collection.
type Deps struct {
	Root     string // absolute indexed root; added/modified paths are relative to it
	Chunker  chunk.Chunker
	Embedder embed.Embedder
	Lexical  *lexical.Index
	Vector   *vecstore.Store
	Meta     *metacache.Store
	Filters  *safety.Filters
}

// Config tunes the run.
type Config struct {
	Mode Mode

	// BatchTarget is the cross-file embedding batch size the accumulator
	// reaches toward before invoking the embedder (64-128).
	BatchTarget int

	// ParallelWorkers bounds the Parallel mode file worker pool (8-12).
	ParallelWorkers int

	// PipelineChannelCap bounds each stage channel in Pipeline mode
	// (100-500).
	PipelineChannelCap int

	// WriterTier is the lexical writer's memory/thread budget, selected by
	// estimated LOC.
	WriterTier lexical.Tier

	// VectorTier is the HNSW tuning tier, selected the same way.
	VectorTier vecstore.Tier
}

// DefaultConfig returns the default tuning for mode.
func DefaultConfig(mode Mode) Config {
	return Config{
		Mode:               mode,
		BatchTarget:        embed.DefaultBatchSize,
		ParallelWorkers:    10,
		PipelineChannelCap: 256,
		WriterTier:         lexical.TierForLOC(0),
		VectorTier:         vecstore.TierForLOC(0),
	}
}
