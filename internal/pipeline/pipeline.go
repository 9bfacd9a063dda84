package pipeline

import (
	"context"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rscodex/rscodex/internal/chunk"
	"github.com/rscodex/rscodex/internal/lexical"
	"github.com/rscodex/rscodex/internal/metacache"
	"github.com/rscodex/rscodex/internal/rerr"
	"github.com/rscodex/rscodex/internal/rhash"
	"github.com/rscodex/rscodex/internal/vecstore"
)

// Pipeline drives the indexing stages over one collection's storage engines.
type Pipeline struct {
	deps Deps
	cfg  Config
	log  *slog.Logger
}

// New builds a Pipeline over deps, tuned by cfg.
func New(deps Deps, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{deps: deps, cfg: cfg, log: logger}
}

// WithMode returns a copy of p running under mode, leaving p untouched. An
// empty mode returns p itself. This is how a per-call indexing_mode override
// runs without racing the scheduler's use of the original pipeline.
func (p *Pipeline) WithMode(mode Mode) *Pipeline {
	if mode == "" || mode == p.cfg.Mode {
		return p
	}
	cp := *p
	cp.cfg.Mode = mode
	return &cp
}

// outcome describes how one file was handled.
type outcomeKind int

const (
	outcomeUnchanged outcomeKind = iota
	outcomeSkipped
	outcomeIndexed
)

type fileOutcome struct {
	path   string
	kind   outcomeKind
	chunks []chunk.Chunk
	hash   string
	size   int64
	err    error
}

// ClearAll wipes the metadata cache and empties both indexes, used only
// with force reindex.
func (p *Pipeline) ClearAll(ctx context.Context) error {
	if err := p.deps.Meta.Clear(ctx); err != nil {
		return err
	}

	writer, err := p.deps.Lexical.Writer(ctx, p.cfg.WriterTier)
	if err != nil {
		return err
	}
	ids, err := p.deps.Lexical.AllIDs(ctx)
	if err != nil {
		_ = writer.Close()
		return err
	}
	writer.Delete(ids...)
	if err := writer.Commit(ctx); err != nil {
		return err
	}

	if p.deps.Vector != nil {
		p.deps.Vector.Clear()
	}
	return nil
}

// IndexFiles runs one pipeline pass over the added/modified/deleted path
// sets a Merkle diff produced.
func (p *Pipeline) IndexFiles(ctx context.Context, added, modified, deleted []string) (Stats, error) {
	start := time.Now()
	stats := Stats{}

	writer, err := p.deps.Lexical.Writer(ctx, p.cfg.WriterTier)
	if err != nil {
		return stats, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = writer.Close()
		}
	}()

	touched := make([]string, 0, len(added)+len(modified))
	touched = append(touched, added...)
	touched = append(touched, modified...)

	outcomes, err := p.processFiles(ctx, touched, writer)
	if err != nil {
		return stats, err
	}

	var toEmbed []*chunk.Chunk
	for i := range outcomes {
		if outcomes[i].kind != outcomeIndexed {
			continue
		}
		for j := range outcomes[i].chunks {
			toEmbed = append(toEmbed, &outcomes[i].chunks[j])
		}
	}

	embedFailed, err := p.embedAndWrite(ctx, toEmbed, writer)
	if err != nil {
		return stats, err
	}

	for _, o := range outcomes {
		switch o.kind {
		case outcomeUnchanged:
			stats.UnchangedFiles++
		case outcomeSkipped:
			stats.SkippedFiles++
			stats.SkippedPaths = append(stats.SkippedPaths, o.path)
		case outcomeIndexed:
			if _, failed := embedFailed[o.path]; failed {
				stats.SkippedFiles++
				stats.SkippedPaths = append(stats.SkippedPaths, o.path)
				continue
			}
			stats.IndexedFiles++
			stats.TotalChunks += len(o.chunks)
		}
	}

	for _, path := range deleted {
		if err := p.deleteFile(ctx, path, writer); err != nil {
			return stats, err
		}
	}

	if err := writer.Commit(ctx); err != nil {
		return stats, err
	}
	committed = true

	for _, o := range outcomes {
		if o.kind != outcomeIndexed {
			continue
		}
		if _, failed := embedFailed[o.path]; failed {
			// Not recorded in the metadata cache: the next run reprocesses
			// the whole file rather than trusting a half-written one.
			continue
		}
		if err := p.recordMetadata(ctx, o); err != nil {
			return stats, err
		}
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// processFiles runs stage 1 (read, filter, hash-gate, chunk) over paths,
// fanned out according to the configured mode.
func (p *Pipeline) processFiles(ctx context.Context, paths []string, writer *lexical.Writer) ([]fileOutcome, error) {
	switch p.cfg.Mode {
	case ModeParallel, ModePipeline:
		return p.processFilesParallel(ctx, paths, writer, p.workerCount())
	default:
		return p.processFilesSequential(ctx, paths, writer)
	}
}

func (p *Pipeline) workerCount() int {
	if p.cfg.Mode == ModePipeline {
		// Pipeline mode still fans the read+chunk stage the same way as
		// Parallel; what distinguishes it is the bounded-channel embed/
		// index staging in embedAndWrite, not this stage's concurrency.
		n := p.cfg.ParallelWorkers
		if n <= 0 {
			return 12
		}
		return n
	}
	n := p.cfg.ParallelWorkers
	if n <= 0 {
		return 10
	}
	if n < 8 {
		n = 8
	}
	if n > 12 {
		n = 12
	}
	return n
}

func (p *Pipeline) processFilesSequential(ctx context.Context, paths []string, writer *lexical.Writer) ([]fileOutcome, error) {
	outcomes := make([]fileOutcome, 0, len(paths))
	for _, path := range paths {
		o := p.processOne(ctx, path, writer)
		if o.err != nil && rerr.IsFatal(o.err) {
			return outcomes, o.err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

func (p *Pipeline) processFilesParallel(ctx context.Context, paths []string, writer *lexical.Writer, workers int) ([]fileOutcome, error) {
	outcomes := make([]fileOutcome, len(paths))
	var writerMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			o := p.processOneLocked(gctx, path, writer, &writerMu)
			if o.err != nil && rerr.IsFatal(o.err) {
				return o.err
			}
			outcomes[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (p *Pipeline) processOneLocked(ctx context.Context, path string, writer *lexical.Writer, mu *sync.Mutex) fileOutcome {
	// Reading, hashing, filtering, and chunking touch no shared state and
	// run fully concurrently; only the writer delete queue (step 6) is
	// guarded, since Writer.Delete mutates a shared slice.
	o := p.stageReadChunk(ctx, path)
	if o.kind == outcomeIndexed {
		mu.Lock()
		p.deleteExistingChunks(ctx, path, writer)
		mu.Unlock()
	}
	return o
}

func (p *Pipeline) processOne(ctx context.Context, path string, writer *lexical.Writer) fileOutcome {
	o := p.stageReadChunk(ctx, path)
	if o.kind == outcomeIndexed {
		p.deleteExistingChunks(ctx, path, writer)
	}
	return o
}

// stageReadChunk runs the per-file front half of the run: safety filters,
// read+hash gate against the metadata cache, secret scan, and chunking.
// It never touches either index; that happens once the caller knows the
// file actually produced new chunks.
func (p *Pipeline) stageReadChunk(ctx context.Context, relPath string) fileOutcome {
	if p.deps.Filters != nil && p.deps.Filters.Path.Reject(relPath) {
		return fileOutcome{path: relPath, kind: outcomeSkipped}
	}

	absPath := filepath.Join(p.deps.Root, relPath)
	data, err := os.ReadFile(absPath)
	if err != nil {
		p.log.Warn("failed to read file during indexing", slog.String("path", relPath), slog.String("error", err.Error()))
		return fileOutcome{path: relPath, kind: outcomeSkipped, err: rerr.IO(relPath, err)}
	}

	sum := rhash.Bytes(data)
	hexHash := hex.EncodeToString(sum[:])

	changed, err := p.deps.Meta.HasChanged(ctx, relPath, hexHash)
	if err != nil {
		return fileOutcome{path: relPath, kind: outcomeSkipped, err: err}
	}
	if !changed {
		return fileOutcome{path: relPath, kind: outcomeUnchanged}
	}

	if p.deps.Filters != nil {
		if hit, pattern := p.deps.Filters.Secret.Scan(data); hit {
			p.log.Warn("skipping file matching secret pattern", slog.String("path", relPath), slog.String("pattern", pattern))
			return fileOutcome{path: relPath, kind: outcomeSkipped}
		}
	}

	chunks, err := p.deps.Chunker.Chunk(ctx, chunk.FileInput{Path: relPath, Content: data})
	if err != nil {
		p.log.Warn("parse failed, skipping file", slog.String("path", relPath), slog.String("error", err.Error()))
		return fileOutcome{path: relPath, kind: outcomeSkipped, err: rerr.Parse(relPath, err)}
	}
	if len(chunks) == 0 {
		return fileOutcome{path: relPath, kind: outcomeUnchanged}
	}

	return fileOutcome{
		path:   relPath,
		kind:   outcomeIndexed,
		chunks: chunks,
		hash:   hexHash,
		size:   int64(len(data)),
	}
}

// deleteExistingChunks deletes every chunk this
// file previously contributed from both indexes before new ones are staged,
// using the metadata cache's file->chunk-id side map (the lexical index has
// no delete-by-path-filter operation, only delete-by-id).
func (p *Pipeline) deleteExistingChunks(ctx context.Context, relPath string, writer *lexical.Writer) {
	ids, err := p.deps.Meta.GetChunkIDs(ctx, relPath)
	if err != nil || len(ids) == 0 {
		return
	}
	writer.Delete(ids...)
	if p.deps.Vector != nil {
		_ = p.deps.Vector.DeleteByFilter(ctx, relPath)
	}
	_ = p.deps.Meta.DeleteChunks(ctx, ids)
}

// deleteFile handles a deleted source file: remove every
// chunk, then the metadata record itself.
func (p *Pipeline) deleteFile(ctx context.Context, relPath string, writer *lexical.Writer) error {
	ids, err := p.deps.Meta.GetChunkIDs(ctx, relPath)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		writer.Delete(ids...)
	}
	if p.deps.Vector != nil {
		if err := p.deps.Vector.DeleteByFilter(ctx, relPath); err != nil {
			return err
		}
	}
	if err := p.deps.Meta.Delete(ctx, relPath); err != nil {
		return err
	}
	if len(ids) > 0 {
		if err := p.deps.Meta.DeleteChunks(ctx, ids); err != nil {
			return err
		}
	}
	return p.deps.Meta.DeleteChunkIDs(ctx, relPath)
}

// embedAndWrite embeds all accumulated chunks in BatchTarget-sized
// groups (accumulating across files), then stages the documents and
// points for the lexical and vector indexes. Chunks are
// mutated in place so the embedding lands on the outcome the caller
// later persists to the metadata cache. Returns the set of file paths
// whose chunks could not be embedded; those files count as skipped.
func (p *Pipeline) embedAndWrite(ctx context.Context, chunks []*chunk.Chunk, writer *lexical.Writer) (map[string]struct{}, error) {
	failed := make(map[string]struct{})
	if len(chunks) == 0 {
		return failed, nil
	}
	batch := p.cfg.BatchTarget
	if batch <= 0 {
		batch = 96
	}

	for start := 0; start < len(chunks); start += batch {
		end := start + batch
		if end > len(chunks) {
			end = len(chunks)
		}
		group := chunks[start:end]

		texts := make([]string, len(group))
		for i, c := range group {
			texts[i] = chunk.EmbeddingInput(*c)
		}

		vectors, err := p.deps.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			// Batch-level failure: the embedder wrapper already retried
			// once; these chunks' files are skipped, the run continues
			// with the rest.
			p.log.Warn("embedding batch failed, skipping chunks", slog.Int("count", len(group)), slog.String("error", err.Error()))
			for _, c := range group {
				failed[c.Context.FilePath] = struct{}{}
			}
			continue
		}

		docs := make([]lexical.Document, 0, len(group))
		points := make([]vecstore.Point, 0, len(group))
		for i, c := range group {
			c.Embedding = vectors[i]
			docs = append(docs, lexical.Document{
				ChunkID:    c.ChunkID,
				Content:    c.Content,
				SymbolName: c.Context.SymbolName,
				Docstring:  c.Context.Docstring,
			})
			points = append(points, vecstore.Point{
				ChunkID:  c.ChunkID,
				Vector:   c.Embedding,
				FilePath: c.Context.FilePath,
			})
		}

		writer.Upsert(docs...)
		if p.deps.Vector != nil {
			if err := p.deps.Vector.Upsert(ctx, points); err != nil {
				return failed, err
			}
		}
	}
	return failed, nil
}

// recordMetadata runs only after the lexical
// commit succeeds so the metadata cache never claims a file is indexed
// when the lexical write rolled back.
func (p *Pipeline) recordMetadata(ctx context.Context, o fileOutcome) error {
	ids := make([]string, 0, len(o.chunks))
	for _, c := range o.chunks {
		ids = append(ids, c.ChunkID)
	}
	if err := p.deps.Meta.PutChunkIDs(ctx, o.path, ids); err != nil {
		return err
	}
	if err := p.deps.Meta.PutChunks(ctx, o.chunks); err != nil {
		return err
	}
	return p.deps.Meta.Put(ctx, metacache.Record{
		Path:      o.path,
		Hash:      o.hash,
		MTime:     time.Now().Unix(),
		Size:      o.size,
		IndexedAt: time.Now().Unix(),
	})
}
