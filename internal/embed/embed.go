// Package embed implements the embedding collaborator: a
// stateless batch function text -> vector. Embedding is external to the
// pipeline's own state; this package only wraps it with the retry and
// batching discipline the pipeline relies on.
package embed

import (
	"context"
	"crypto/sha256"
	"math"

	"github.com/rscodex/rscodex/internal/rerr"
)

// Dimensions is the embedding vector length D.
const Dimensions = 384

// DefaultBatchSize is the target batch size the caller accumulates toward
// before invoking the embedder.
const DefaultBatchSize = 96

// Embedder is a pure function text -> vector, batched. Implementations may
// share a warm-loaded model across goroutines; the interface carries no
// mutable per-call state.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

// WithRetry wraps an Embedder so a failed batch is retried exactly once
// before the failure is surfaced as rerr.CodeEmbed. Failures are
// batch-level, never per-text.
type WithRetry struct {
	inner Embedder
}

// NewWithRetry wraps inner with single-retry batch semantics.
func NewWithRetry(inner Embedder) *WithRetry {
	return &WithRetry{inner: inner}
}

func (w *WithRetry) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := w.inner.EmbedBatch(ctx, texts)
	if err == nil {
		return vectors, nil
	}
	vectors, err2 := w.inner.EmbedBatch(ctx, texts)
	if err2 != nil {
		return nil, rerr.Embed(err2)
	}
	return vectors, nil
}

func (w *WithRetry) Dimensions() int { return w.inner.Dimensions() }
func (w *WithRetry) ModelName() string { return w.inner.ModelName() }

// StaticEmbedder is a deterministic, dependency-free embedder: each text
// hashes to a fixed-length pseudo-random unit vector. It never fails, so it
// doubles as the default embedder for environments with no model runtime
// configured, and as a fast, reproducible stand-in in tests.
type StaticEmbedder struct {
	dim int
}

// NewStaticEmbedder returns a StaticEmbedder producing Dimensions-length vectors.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{dim: Dimensions}
}

var _ Embedder = (*StaticEmbedder)(nil)

func (s *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = hashEmbed(text, s.dim)
	}
	return out, nil
}

func (s *StaticEmbedder) Dimensions() int   { return s.dim }
func (s *StaticEmbedder) ModelName() string { return "static-384" }

// hashEmbed expands a SHA-256 digest of text into a dim-length unit vector
// by re-hashing with an incrementing counter for each additional 32 bytes.
func hashEmbed(text string, dim int) []float32 {
	out := make([]float32, dim)
	block := sha256.Sum256([]byte(text))
	counter := byte(0)
	for i := 0; i < dim; i++ {
		if i > 0 && i%32 == 0 {
			counter++
			block = sha256.Sum256(append([]byte{counter}, block[:]...))
		}
		// Map a byte to a small signed float in [-1, 1].
		out[i] = float32(int8(block[i%32])) / 128.0
	}
	return normalize(out)
}

func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / magnitude)
	}
	return out
}

// BatchAccumulator collects embedding-input texts across files until a
// target batch size is reached, so small files don't each pay a model
// invocation.
type BatchAccumulator struct {
	target int
	texts  []string
	keys   []string
}

// NewBatchAccumulator creates an accumulator targeting the given batch size.
func NewBatchAccumulator(target int) *BatchAccumulator {
	if target <= 0 {
		target = DefaultBatchSize
	}
	return &BatchAccumulator{target: target}
}

// Add appends one (key, text) pair and reports whether the batch is now full.
func (b *BatchAccumulator) Add(key, text string) bool {
	b.keys = append(b.keys, key)
	b.texts = append(b.texts, text)
	return len(b.texts) >= b.target
}

// Len returns the number of pending items.
func (b *BatchAccumulator) Len() int { return len(b.texts) }

// Drain returns and clears the accumulated keys and texts.
func (b *BatchAccumulator) Drain() ([]string, []string) {
	keys, texts := b.keys, b.texts
	b.keys, b.texts = nil, nil
	return keys, texts
}
