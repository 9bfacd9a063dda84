// Package hybrid implements the Reciprocal Rank Fusion search:
// embed the query once, search the lexical and vector indexes concurrently,
// and merge the two ranked lists by RRF rather than by raw score, since
// BM25 scores are unbounded and cosine scores are bounded to [-1,1].
package hybrid

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rscodex/rscodex/internal/chunk"
	"github.com/rscodex/rscodex/internal/embed"
	"github.com/rscodex/rscodex/internal/lexical"
	"github.com/rscodex/rscodex/internal/metacache"
	"github.com/rscodex/rscodex/internal/vecstore"
)

// DefaultRRFConstant is the standard RRF smoothing parameter (k=60, used
// across BM25/vector fusion systems generally).
const DefaultRRFConstant = 60

// DefaultSoftTimeout bounds a hybrid query; if either subsearch is still
// running past this, the search degrades to whichever list completed.
const DefaultSoftTimeout = 5 * time.Second

// Hit is one fused search result.
type Hit struct {
	ChunkID     string
	RRFScore    float64
	BM25Score   *float64
	VectorScore *float64
	BM25Rank    *int
	VectorRank  *int
	Chunk       chunk.Chunk
}

// Response carries the fused hits plus a degraded flag: true when one of the
// two subsearches failed or timed out and the hits are the surviving half
// rather than a full fusion.
type Response struct {
	Hits     []Hit
	Degraded bool
}

// Weights controls the RRF contribution of each source list.
type Weights struct {
	Lexical float64
	Vector  float64
}

// DefaultWeights gives both lists equal say (0.5/0.5).
func DefaultWeights() Weights {
	return Weights{Lexical: 0.5, Vector: 0.5}
}

// Mode selects the fusion algorithm: RRF is the rank-based default;
// Weighted is a min-max-normalized weighted score sum for callers that
// want raw-score sensitivity despite BM25's unbounded scale.
type Mode string

const (
	ModeRRF      Mode = "rrf"
	ModeWeighted Mode = "weighted"
)

// Searcher runs hybrid search for one collection.
type Searcher struct {
	Lexical     *lexical.Index
	Vector      *vecstore.Store
	Embedder    embed.Embedder
	Meta        *metacache.Store
	Mode        Mode
	RRFConstant int
	Weights     Weights
	SoftTimeout time.Duration
}

// New builds a Searcher with default tuning, overridable via the returned
// struct's fields.
func New(lex *lexical.Index, vec *vecstore.Store, embedder embed.Embedder, meta *metacache.Store) *Searcher {
	return &Searcher{
		Lexical:     lex,
		Vector:      vec,
		Embedder:    embedder,
		Meta:        meta,
		Mode:        ModeRRF,
		RRFConstant: DefaultRRFConstant,
		Weights:     DefaultWeights(),
		SoftTimeout: DefaultSoftTimeout,
	}
}

// Search embeds the query once, fans out to both
// indexes concurrently, fuse by RRF, hydrate payloads, return top limit.
// A subsearch failure or soft-timeout expiry never fails the whole call;
// the surviving list is returned with Degraded set.
func (s *Searcher) Search(ctx context.Context, query string, limit int) (Response, error) {
	if limit <= 0 {
		limit = 10
	}

	timeout := s.SoftTimeout
	if timeout <= 0 {
		timeout = DefaultSoftTimeout
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	vectors, err := s.Embedder.EmbedBatch(sctx, []string{query})
	if err != nil {
		return Response{}, err
	}
	var queryVec []float32
	if len(vectors) > 0 {
		queryVec = vectors[0]
	}

	var lexResults []lexical.Result
	var vecResults []vecstore.Result
	var lexErr, vecErr error

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		lexResults, lexErr = s.Lexical.Search(gctx, query, limit*4)
		return nil
	})
	g.Go(func() error {
		if queryVec == nil || s.Vector == nil {
			return nil
		}
		vecResults, vecErr = s.Vector.Search(gctx, queryVec, limit*4)
		return nil
	})
	// Subsearch errors are held aside, not propagated: a degraded half
	// still lets the other half's hits stand. g.Wait never fails here.
	_ = g.Wait()

	degraded := lexErr != nil || vecErr != nil || sctx.Err() != nil
	if lexErr != nil {
		lexResults = nil
	}
	if vecErr != nil {
		vecResults = nil
	}

	var fused []Hit
	if s.Mode == ModeWeighted {
		fused = fuseWeighted(lexResults, vecResults, s.Weights)
	} else {
		fused = fuse(lexResults, vecResults, s.rrfConstant(), s.Weights)
	}
	if len(fused) > limit {
		fused = fused[:limit]
	}

	if s.Meta != nil {
		ids := make([]string, len(fused))
		for i, f := range fused {
			ids[i] = f.ChunkID
		}
		payloads, err := s.Meta.GetChunks(ctx, ids)
		if err == nil {
			for i := range fused {
				if c, ok := payloads[fused[i].ChunkID]; ok {
					fused[i].Chunk = c
				}
			}
		}
	}

	return Response{Hits: fused, Degraded: degraded}, nil
}

func (s *Searcher) rrfConstant() int {
	if s.RRFConstant <= 0 {
		return DefaultRRFConstant
	}
	return s.RRFConstant
}

// fuse is Reciprocal Rank Fusion: per-list rank-based contribution,
// summed per chunk id, sorted by combined score with lexical-rank then
// vector-rank tie-breaking. Unlike a weighted-sum fusion, a chunk missing
// from one list simply receives no contribution from it rather than a
// penalized substitute rank.
func fuse(lex []lexical.Result, vec []vecstore.Result, k int, w Weights) []Hit {
	byID := make(map[string]*Hit, len(lex)+len(vec))
	order := make([]string, 0, len(lex)+len(vec))

	get := func(id string) *Hit {
		if h, ok := byID[id]; ok {
			return h
		}
		h := &Hit{ChunkID: id}
		byID[id] = h
		order = append(order, id)
		return h
	}

	for i, r := range lex {
		rank := i + 1
		h := get(r.ChunkID)
		score := r.Score
		h.BM25Score = &score
		h.BM25Rank = &rank
		h.RRFScore += w.Lexical / float64(k+rank)
	}
	for i, r := range vec {
		rank := i + 1
		h := get(r.ChunkID)
		score := float64(r.Score)
		h.VectorScore = &score
		h.VectorRank = &rank
		h.RRFScore += w.Vector / float64(k+rank)
	}

	hits := make([]Hit, 0, len(order))
	for _, id := range order {
		hits = append(hits, *byID[id])
	}
	sortHits(hits)
	return hits
}

// sortHits orders by combined score descending, breaking ties by lexical
// rank, then vector rank, then chunk id.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.RRFScore != b.RRFScore {
			return a.RRFScore > b.RRFScore
		}
		ar, br := rankOrMax(a.BM25Rank), rankOrMax(b.BM25Rank)
		if ar != br {
			return ar < br
		}
		ar, br = rankOrMax(a.VectorRank), rankOrMax(b.VectorRank)
		if ar != br {
			return ar < br
		}
		return a.ChunkID < b.ChunkID
	})
}

// fuseWeighted is the alternative weighted-sum fusion: each list's raw
// scores are min-max normalized to [0,1], then summed per chunk id under
// the configured weights. A chunk missing from a list contributes zero
// from it. Ties break the same way as RRF fusion.
func fuseWeighted(lex []lexical.Result, vec []vecstore.Result, w Weights) []Hit {
	byID := make(map[string]*Hit, len(lex)+len(vec))
	order := make([]string, 0, len(lex)+len(vec))

	get := func(id string) *Hit {
		if h, ok := byID[id]; ok {
			return h
		}
		h := &Hit{ChunkID: id}
		byID[id] = h
		order = append(order, id)
		return h
	}

	lexNorm := normalizeScores(len(lex), func(i int) float64 { return lex[i].Score })
	for i, r := range lex {
		rank := i + 1
		h := get(r.ChunkID)
		score := r.Score
		h.BM25Score = &score
		h.BM25Rank = &rank
		h.RRFScore += w.Lexical * lexNorm[i]
	}
	vecNorm := normalizeScores(len(vec), func(i int) float64 { return float64(vec[i].Score) })
	for i, r := range vec {
		rank := i + 1
		h := get(r.ChunkID)
		score := float64(r.Score)
		h.VectorScore = &score
		h.VectorRank = &rank
		h.RRFScore += w.Vector * vecNorm[i]
	}

	hits := make([]Hit, 0, len(order))
	for _, id := range order {
		hits = append(hits, *byID[id])
	}
	sortHits(hits)
	return hits
}

// normalizeScores min-max normalizes n scores to [0,1]. A single-element or
// constant list normalizes to all-ones, so a lone hit still carries weight.
func normalizeScores(n int, score func(int) float64) []float64 {
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	min, max := score(0), score(0)
	for i := 1; i < n; i++ {
		s := score(i)
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	for i := 0; i < n; i++ {
		if max == min {
			out[i] = 1
			continue
		}
		out[i] = (score(i) - min) / (max - min)
	}
	return out
}

func rankOrMax(r *int) int {
	if r == nil {
		return int(^uint(0) >> 1)
	}
	return *r
}
