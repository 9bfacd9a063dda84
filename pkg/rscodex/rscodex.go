// Package rscodex is the public facade over one or more indexed roots. It
// owns the per-root wiring (Merkle snapshot, metadata cache, lexical index,
// vector store, pipeline, incremental driver, hybrid searcher, health
// prober) behind the handful of operations the MCP tool layer and the CLI
// both need: index, search, get-similar, health-check.
package rscodex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rscodex/rscodex/internal/chunk"
	"github.com/rscodex/rscodex/internal/collection"
	"github.com/rscodex/rscodex/internal/config"
	"github.com/rscodex/rscodex/internal/embed"
	"github.com/rscodex/rscodex/internal/health"
	"github.com/rscodex/rscodex/internal/hybrid"
	"github.com/rscodex/rscodex/internal/incremental"
	"github.com/rscodex/rscodex/internal/lexical"
	"github.com/rscodex/rscodex/internal/metacache"
	"github.com/rscodex/rscodex/internal/pipeline"
	"github.com/rscodex/rscodex/internal/rerr"
	"github.com/rscodex/rscodex/internal/safety"
	"github.com/rscodex/rscodex/internal/syncsched"
	"github.com/rscodex/rscodex/internal/vecstore"
)

// collectionHandles bundles one root's storage engines and the components
// wired over them.
type collectionHandles struct {
	root     string
	paths    collection.Paths
	lexical  *lexical.Index
	vector   *vecstore.Store
	meta     *metacache.Store
	chunker  *chunk.RustChunker
	filters  *safety.Filters
	pipeline *pipeline.Pipeline
	driver   *incremental.Driver
	searcher *hybrid.Searcher
	prober   *health.Prober
}

func (h *collectionHandles) close() {
	if h.lexical != nil {
		_ = h.lexical.Close()
	}
	if h.vector != nil {
		_ = h.vector.Close()
	}
	if h.meta != nil {
		_ = h.meta.Close()
	}
	if h.chunker != nil {
		h.chunker.Close()
	}
}

// Engine is the top-level entry point: a registry of open collections keyed
// by absolute root path, plus the background sync scheduler shared across
// all of them.
type Engine struct {
	dataDir  string
	cfg      *config.Config
	embedder embed.Embedder
	log      *slog.Logger
	sched    *syncsched.Scheduler

	mu          sync.Mutex
	collections map[string]*collectionHandles
}

// Option configures an Engine.
type Option func(*Engine)

// WithEmbedder overrides the default static embedder.
func WithEmbedder(e embed.Embedder) Option {
	return func(eng *Engine) { eng.embedder = e }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.log = l }
}

// New builds an Engine rooted at dataDir (where every collection's
// snapshot/index/cache files live), tuned by cfg. A nil cfg takes
// config.New() defaults.
func New(dataDir string, cfg *config.Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.New()
	}
	eng := &Engine{
		dataDir:     dataDir,
		cfg:         cfg,
		embedder:    embed.NewCached(embed.NewWithRetry(embed.NewStaticEmbedder()), 0),
		log:         slog.Default(),
		collections: make(map[string]*collectionHandles),
	}
	for _, opt := range opts {
		opt(eng)
	}
	eng.sched = syncsched.New(reindexerFunc(eng.reindexRoot), eng.log,
		syncsched.WithInterval(secondsOrDefault(cfg.Sync.IntervalSeconds, syncsched.DefaultInterval)),
		syncsched.WithInitialDelay(secondsOrDefault(cfg.Sync.InitialDelaySeconds, syncsched.DefaultInitialDelay)),
	)
	return eng
}

// reindexerFunc adapts a plain function to syncsched.Reindexer.
type reindexerFunc func(ctx context.Context, root string, force bool) (pipeline.Stats, error)

func (f reindexerFunc) Reindex(ctx context.Context, root string, force bool) (pipeline.Stats, error) {
	return f(ctx, root, force)
}

func secondsOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// RunScheduler blocks running the background sync loop until ctx is
// cancelled. Callers that want periodic resync (as opposed to purely
// on-demand indexing) run this in its own goroutine.
func (e *Engine) RunScheduler(ctx context.Context) error {
	return e.sched.Run(ctx)
}

// Close releases every open collection's storage handles.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range e.collections {
		h.close()
	}
	e.collections = make(map[string]*collectionHandles)
	return nil
}

// resolve returns the absolute root path for root, which may be relative.
func resolve(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", rerr.InvalidInput(fmt.Sprintf("cannot resolve root %q: %v", root, err))
	}
	return abs, nil
}

// open returns the collection handles for absRoot, opening and wiring them
// on first use. Subsequent calls for the same root reuse the open handles.
func (e *Engine) open(absRoot string) (*collectionHandles, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if h, ok := e.collections[absRoot]; ok {
		return h, nil
	}

	paths := collection.DerivePaths(e.dataDir, absRoot)
	for _, dir := range []string{filepath.Dir(paths.Snapshot), paths.Index, paths.Cache} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, rerr.IO(dir, err)
		}
	}

	lex, err := lexical.Open(paths.Index, lexical.DefaultConfig())
	if err != nil {
		return nil, err
	}
	vec, err := vecstore.EnsureCollection(paths.Vector, e.embedder.Dimensions(), vectorTier(e.cfg))
	if err != nil {
		_ = lex.Close()
		return nil, err
	}
	meta, err := metacache.Open(paths.Meta)
	if err != nil {
		_ = lex.Close()
		_ = vec.Close()
		return nil, err
	}

	filters := safety.New(e.cfg.Paths.Exclude)
	chunker := chunk.New(chunk.Options{
		MaxChunkTokens: e.cfg.Search.ChunkSize,
		OverlapTokens:  e.cfg.Search.ChunkOverlap,
	})

	p := pipeline.New(pipeline.Deps{
		Root:     absRoot,
		Chunker:  chunker,
		Embedder: e.embedder,
		Lexical:  lex,
		Vector:   vec,
		Meta:     meta,
		Filters:  filters,
	}, pipelineConfig(e.cfg), e.log)

	driver := incremental.New(absRoot, paths.Snapshot, p, meta, filters, e.embedder.Dimensions(), e.embedder.ModelName(), e.log)

	searcher := hybrid.New(lex, vec, e.embedder, meta)
	searcher.Mode = hybrid.Mode(e.cfg.Search.FusionMode)
	searcher.RRFConstant = e.cfg.Search.RRFConstant
	searcher.Weights = hybrid.Weights{
		Lexical: e.cfg.Search.LexicalWeight,
		Vector:  e.cfg.Search.VectorWeight,
	}
	if e.cfg.Search.SoftTimeoutMS > 0 {
		searcher.SoftTimeout = msDuration(e.cfg.Search.SoftTimeoutMS)
	}

	prober := health.New(lex, vec, paths.Snapshot, p)

	h := &collectionHandles{
		root:     absRoot,
		paths:    paths,
		lexical:  lex,
		vector:   vec,
		meta:     meta,
		chunker:  chunker,
		filters:  filters,
		pipeline: p,
		driver:   driver,
		searcher: searcher,
		prober:   prober,
	}
	e.collections[absRoot] = h
	return h, nil
}

func (e *Engine) reindexRoot(ctx context.Context, root string, force bool) (pipeline.Stats, error) {
	h, err := e.open(root)
	if err != nil {
		return pipeline.Stats{}, err
	}
	return h.driver.Reindex(ctx, force)
}

// driverFor returns h's incremental driver, or a transient one running the
// pipeline under the per-call indexing mode override.
func (e *Engine) driverFor(h *collectionHandles, mode pipeline.Mode) *incremental.Driver {
	if mode == "" {
		return h.driver
	}
	return incremental.New(h.root, h.paths.Snapshot, h.pipeline.WithMode(mode), h.meta, h.filters,
		e.embedder.Dimensions(), e.embedder.ModelName(), e.log)
}

func validateMode(mode pipeline.Mode) error {
	switch mode {
	case "", pipeline.ModeSequential, pipeline.ModeParallel, pipeline.ModePipeline:
		return nil
	default:
		return rerr.InvalidInput(fmt.Sprintf("unknown indexing_mode %q", mode))
	}
}

// IndexResult summarizes one IndexCodebase call.
type IndexResult struct {
	Root  string
	Stats pipeline.Stats
}

// IndexCodebase runs an incremental (or forced full) reindex of root and
// begins tracking it for periodic background resync. An empty mode uses the
// configured pipeline mode.
func (e *Engine) IndexCodebase(ctx context.Context, root string, force bool, mode pipeline.Mode) (IndexResult, error) {
	if err := validateMode(mode); err != nil {
		return IndexResult{}, err
	}
	absRoot, err := resolve(root)
	if err != nil {
		return IndexResult{}, err
	}
	h, err := e.open(absRoot)
	if err != nil {
		return IndexResult{}, err
	}
	stats, err := e.driverFor(h, mode).Reindex(ctx, force)
	if err != nil {
		return IndexResult{Root: absRoot}, err
	}
	if err := h.vector.Save(h.paths.Vector); err != nil {
		return IndexResult{Root: absRoot, Stats: stats}, err
	}
	e.sched.Track(absRoot)
	return IndexResult{Root: absRoot, Stats: stats}, nil
}

// Search runs hybrid search over root's index.
func (e *Engine) Search(ctx context.Context, root, query string, limit int) (hybrid.Response, error) {
	if query == "" {
		return hybrid.Response{}, rerr.InvalidInput("query must not be empty")
	}
	absRoot, err := resolve(root)
	if err != nil {
		return hybrid.Response{}, err
	}
	h, err := e.open(absRoot)
	if err != nil {
		return hybrid.Response{}, err
	}
	return h.searcher.Search(ctx, query, limit)
}

// GetSimilarCode is the vector-only variant of Search: it embeds query and
// returns the nearest chunks by cosine similarity alone, over the same
// collection Search uses for root.
func (e *Engine) GetSimilarCode(ctx context.Context, root, query string, limit int) ([]hybrid.Hit, error) {
	if query == "" {
		return nil, rerr.InvalidInput("query must not be empty")
	}
	absRoot, err := resolve(root)
	if err != nil {
		return nil, err
	}
	h, err := e.open(absRoot)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	vectors, err := e.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	results, err := h.vector.Search(ctx, vectors[0], limit)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ChunkID)
	}
	payloads, err := h.meta.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]hybrid.Hit, 0, len(results))
	for i, r := range results {
		score := float64(r.Score)
		rank := i + 1
		hits = append(hits, hybrid.Hit{
			ChunkID:     r.ChunkID,
			RRFScore:    score,
			VectorScore: &score,
			VectorRank:  &rank,
			Chunk:       payloads[r.ChunkID],
		})
	}
	return hits, nil
}

// HealthCheck probes the storage engines for root. An empty root probes
// every open collection and reports the worst status seen per component.
func (e *Engine) HealthCheck(ctx context.Context, root string) (health.Report, error) {
	if root == "" {
		return e.healthAll(ctx), nil
	}
	absRoot, err := resolve(root)
	if err != nil {
		return health.Report{}, err
	}
	h, err := e.open(absRoot)
	if err != nil {
		return health.Report{}, err
	}
	return h.prober.Probe(ctx), nil
}

func (e *Engine) healthAll(ctx context.Context) health.Report {
	e.mu.Lock()
	probers := make([]*health.Prober, 0, len(e.collections))
	for _, h := range e.collections {
		probers = append(probers, h.prober)
	}
	e.mu.Unlock()

	if len(probers) == 0 {
		idle := health.Check{Status: health.Healthy, Message: "no collections open"}
		return health.Report{Overall: health.Healthy, BM25: idle, Vector: idle, Merkle: idle}
	}

	merged := probers[0].Probe(ctx)
	for _, p := range probers[1:] {
		merged = health.Merge(merged, p.Probe(ctx))
	}
	return merged
}

// vectorTier maps the configured memory tier name to an HNSW tuning tier,
// using TierForLOC's buckets as the underlying scale.
func vectorTier(cfg *config.Config) vecstore.Tier {
	switch cfg.Performance.MemoryTier {
	case "small":
		return vecstore.TierForLOC(0)
	case "large":
		return vecstore.TierForLOC(1_000_000)
	default:
		return vecstore.TierForLOC(100_000)
	}
}

// lexicalTier is the same mapping for the lexical writer's memory tier.
func lexicalTier(cfg *config.Config) lexical.Tier {
	switch cfg.Performance.MemoryTier {
	case "small":
		return lexical.TierForLOC(0)
	case "large":
		return lexical.TierForLOC(1_000_000)
	default:
		return lexical.TierForLOC(100_000)
	}
}

// pipelineConfig translates the user-facing config into pipeline.Config.
func pipelineConfig(cfg *config.Config) pipeline.Config {
	base := pipeline.DefaultConfig(pipeline.Mode(cfg.Performance.PipelineMode))
	base.BatchTarget = cfg.Embeddings.BatchSize
	base.ParallelWorkers = cfg.Performance.IndexWorkers
	base.WriterTier = lexicalTier(cfg)
	base.VectorTier = vectorTier(cfg)
	return base
}
