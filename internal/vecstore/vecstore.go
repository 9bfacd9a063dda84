// Package vecstore implements the dense-vector index: a
// cosine-similarity HNSW store over github.com/coder/hnsw, one Store per
// collection, with lazy deletion and gob-persisted id/payload mappings.
package vecstore

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/rscodex/rscodex/internal/rerr"
)

// maxUpsertBatch is the largest group of points applied to the graph in
// one call; larger upserts are split.
const maxUpsertBatch = 100

// Tier is the HNSW parameter tier selected by estimated LOC:
// M in {16,16,32}, ef_construct in {100,150,200}, ef in {128,128,256}.
type Tier struct {
	M              int
	EfConstruction int
	EfSearch       int
}

// TierForLOC selects the HNSW tuning tier for an estimated line count.
func TierForLOC(loc int) Tier {
	switch {
	case loc < 100_000:
		return Tier{M: 16, EfConstruction: 100, EfSearch: 128}
	case loc < 1_000_000:
		return Tier{M: 16, EfConstruction: 150, EfSearch: 128}
	default:
		return Tier{M: 32, EfConstruction: 200, EfSearch: 256}
	}
}

// Point is one vector to upsert, carrying the payload fields needed for
// delete_by_filter and result hydration.
type Point struct {
	ChunkID  string
	Vector   []float32
	FilePath string
}

// Result is a single nearest-neighbor hit.
type Result struct {
	ChunkID  string
	FilePath string
	Score    float32
}

type persisted struct {
	IDMap    map[string]uint64
	FilePath map[uint64]string
	NextKey  uint64
	Dim      int
	Tier     Tier
}

// Store is a single collection's vector index.
type Store struct {
	mu   sync.RWMutex
	dim  int
	tier Tier

	graph *hnsw.Graph[uint64]

	idMap    map[string]uint64
	keyMap   map[uint64]string
	filePath map[uint64]string
	nextKey  uint64

	bulk         bool
	pendingNodes []hnsw.Node[uint64]

	closed bool
}

// EnsureCollection opens the collection at path, creating it if absent. If
// an existing on-disk collection has a different vector dimension, it
// returns a StorageError describing the mismatch rather than silently
// reinterpreting vectors.
func EnsureCollection(path string, dim int, tier Tier) (*Store, error) {
	s := newStore(dim, tier)

	if path == "" {
		return s, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return s, nil
	}
	if err := s.load(path); err != nil {
		return nil, err
	}
	if s.dim != dim {
		return nil, rerr.Storage(fmt.Sprintf("vector collection dimension mismatch: index has %d, requested %d", s.dim, dim), nil)
	}
	return s, nil
}

func newStore(dim int, tier Tier) *Store {
	return &Store{
		dim:      dim,
		tier:     tier,
		graph:    newGraph(tier),
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		filePath: make(map[uint64]string),
	}
}

func newGraph(tier Tier) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = tier.M
	graph.EfSearch = tier.EfSearch
	graph.Ml = 0.25
	return graph
}

// Clear drops every vector and resets the graph, used by force reindex.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.graph = newGraph(s.tier)
	s.idMap = make(map[string]uint64)
	s.keyMap = make(map[uint64]string)
	s.filePath = make(map[uint64]string)
	s.nextKey = 0
	s.pendingNodes = nil
	s.bulk = false
}

// BeginBulk enables bulk mode: subsequent Upsert calls buffer points instead
// of adding them to the graph immediately. Call EndBulk to flush and build
// the graph in one pass. Intended for force-reindex, trading insert latency
// for throughput on large first-time indexes.
func (s *Store) BeginBulk() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulk = true
	s.pendingNodes = nil
}

// EndBulk adds all buffered points to the graph and disables bulk mode.
func (s *Store) EndBulk(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.pendingNodes {
		s.graph.Add(n)
	}
	s.pendingNodes = nil
	s.bulk = false
	return nil
}

// Upsert adds or replaces vectors, applying at most maxUpsertBatch points to
// the graph per internal call. Existing ids are lazily deleted (orphaned,
// not removed from the graph) before the new key is inserted, consistent
// with coder/hnsw's documented limitation around deleting the last node.
func (s *Store) Upsert(ctx context.Context, points []Point) error {
	for len(points) > 0 {
		n := len(points)
		if n > maxUpsertBatch {
			n = maxUpsertBatch
		}
		if err := s.upsertBatch(points[:n]); err != nil {
			return err
		}
		points = points[n:]
	}
	return nil
}

func (s *Store) upsertBatch(points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return rerr.Storage("vector store is closed", nil)
	}
	for _, p := range points {
		if len(p.Vector) != s.dim {
			return rerr.Storage(fmt.Sprintf("vector dimension mismatch: expected %d, got %d", s.dim, len(p.Vector)), nil)
		}
	}

	for _, p := range points {
		if existingKey, exists := s.idMap[p.ChunkID]; exists {
			delete(s.keyMap, existingKey)
			delete(s.filePath, existingKey)
			delete(s.idMap, p.ChunkID)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		normalizeInPlace(vec)

		node := hnsw.MakeNode(key, vec)
		if s.bulk {
			s.pendingNodes = append(s.pendingNodes, node)
		} else {
			s.graph.Add(node)
		}

		s.idMap[p.ChunkID] = key
		s.keyMap[key] = p.ChunkID
		s.filePath[key] = p.FilePath
	}
	return nil
}

// DeleteByFilter removes all points whose FilePath equals filePath.
func (s *Store) DeleteByFilter(ctx context.Context, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return rerr.Storage("vector store is closed", nil)
	}

	for key, fp := range s.filePath {
		if fp != filePath {
			continue
		}
		if id, ok := s.keyMap[key]; ok {
			delete(s.idMap, id)
		}
		delete(s.keyMap, key)
		delete(s.filePath, key)
	}
	return nil
}

// Search returns the k nearest neighbors to query by cosine similarity.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, rerr.Storage("vector store is closed", nil)
	}
	if len(query) != s.dim {
		return nil, rerr.Storage(fmt.Sprintf("vector dimension mismatch: expected %d, got %d", s.dim, len(query)), nil)
	}
	if s.graph.Len() == 0 {
		return nil, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	nodes := s.graph.Search(q, k)
	out := make([]Result, 0, len(nodes))
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue // orphaned (lazily deleted) node
		}
		distance := s.graph.Distance(q, node.Value)
		out = append(out, Result{
			ChunkID:  id,
			FilePath: s.filePath[node.Key],
			Score:    1.0 - distance/2.0,
		})
	}
	return out, nil
}

// Count returns the number of live (non-orphaned) vectors.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// StoreStats counts live and orphaned points. Orphaned points are graph
// nodes whose chunk id was lazily deleted; they stay in the graph until a
// future compaction pass, so the gap between the two numbers is the
// compaction debt.
type StoreStats struct {
	Live     int
	Orphaned int
}

// Stats reports live vs. orphaned point counts.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live := len(s.idMap)
	total := 0
	if s.graph != nil {
		total = s.graph.Len()
	}
	total += len(s.pendingNodes)
	orphaned := total - live
	if orphaned < 0 {
		orphaned = 0
	}
	return StoreStats{Live: live, Orphaned: orphaned}
}

// AllIDs returns every chunk id currently live in the store. Used by the
// consistency reconciler to find the symmetric difference against the
// lexical index, not on the hot indexing/search path.
func (s *Store) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Save persists the graph and id/payload mappings atomically (temp file +
// rename for both the graph export and the metadata).
func (s *Store) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return rerr.Storage("vector store is closed", nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return rerr.IO(path, err)
	}

	tmpGraph := path + ".tmp"
	f, err := os.Create(tmpGraph)
	if err != nil {
		return rerr.IO(path, err)
	}
	if err := s.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmpGraph)
		return rerr.Storage("failed to export hnsw graph", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpGraph)
		return rerr.IO(path, err)
	}
	if err := os.Rename(tmpGraph, path); err != nil {
		os.Remove(tmpGraph)
		return rerr.IO(path, err)
	}

	return s.saveMetadata(path + ".meta")
}

func (s *Store) saveMetadata(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return rerr.IO(path, err)
	}

	meta := persisted{
		IDMap:    s.idMap,
		FilePath: s.filePath,
		NextKey:  s.nextKey,
		Dim:      s.dim,
		Tier:     s.tier,
	}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		f.Close()
		os.Remove(tmp)
		return rerr.Storage("failed to encode vector store metadata", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return rerr.IO(path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return rerr.IO(path, err)
	}
	return nil
}

func (s *Store) load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadMetadata(path + ".meta"); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return rerr.IO(path, err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	if err := s.graph.Import(reader); err != nil {
		return rerr.Storage("failed to import hnsw graph", err)
	}
	return nil
}

func (s *Store) loadMetadata(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return rerr.IO(path, err)
	}
	defer f.Close()

	var meta persisted
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return rerr.Storage("failed to decode vector store metadata", err)
	}

	s.idMap = meta.IDMap
	s.filePath = meta.FilePath
	s.nextKey = meta.NextKey
	s.dim = meta.Dim
	s.tier = meta.Tier
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close releases the store. A closed Store rejects further operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
