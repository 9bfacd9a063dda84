package vecstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(dim int, hot int) []float32 {
	v := make([]float32, dim)
	v[hot%dim] = 1
	return v
}

func TestUpsertAndSearchFindsNearestNeighbor(t *testing.T) {
	s, err := EnsureCollection("", 4, TierForLOC(1000))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert(context.Background(), []Point{
		{ChunkID: "a", Vector: unit(4, 0), FilePath: "a.rs"},
		{ChunkID: "b", Vector: unit(4, 1), FilePath: "b.rs"},
	}))

	results, err := s.Search(context.Background(), unit(4, 0), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ChunkID)
}

func TestUpsertReplacesExistingID(t *testing.T) {
	s, err := EnsureCollection("", 4, TierForLOC(1000))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert(context.Background(), []Point{{ChunkID: "a", Vector: unit(4, 0), FilePath: "a.rs"}}))
	require.NoError(t, s.Upsert(context.Background(), []Point{{ChunkID: "a", Vector: unit(4, 2), FilePath: "a.rs"}}))
	assert.Equal(t, 1, s.Count())

	results, err := s.Search(context.Background(), unit(4, 2), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ChunkID)
}

func TestDeleteByFilterRemovesMatchingFile(t *testing.T) {
	s, err := EnsureCollection("", 4, TierForLOC(1000))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert(context.Background(), []Point{
		{ChunkID: "a", Vector: unit(4, 0), FilePath: "a.rs"},
		{ChunkID: "b", Vector: unit(4, 1), FilePath: "b.rs"},
	}))
	require.NoError(t, s.DeleteByFilter(context.Background(), "a.rs"))

	assert.Equal(t, 1, s.Count())
	results, err := s.Search(context.Background(), unit(4, 0), 10)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ChunkID)
	}
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	s, err := EnsureCollection("", 4, TierForLOC(1000))
	require.NoError(t, err)
	defer s.Close()

	err = s.Upsert(context.Background(), []Point{{ChunkID: "a", Vector: []float32{1, 2, 3}}})
	assert.Error(t, err)
}

func TestBulkModeDefersGraphInsertUntilEndBulk(t *testing.T) {
	s, err := EnsureCollection("", 4, TierForLOC(1000))
	require.NoError(t, err)
	defer s.Close()

	s.BeginBulk()
	require.NoError(t, s.Upsert(context.Background(), []Point{{ChunkID: "a", Vector: unit(4, 0), FilePath: "a.rs"}}))
	assert.Equal(t, 1, s.Count(), "id mapping is visible immediately")

	require.NoError(t, s.EndBulk(context.Background()))
	results, err := s.Search(context.Background(), unit(4, 0), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "collection.hnsw")

	s, err := EnsureCollection(path, 4, TierForLOC(1000))
	require.NoError(t, err)
	require.NoError(t, s.Upsert(context.Background(), []Point{{ChunkID: "a", Vector: unit(4, 0), FilePath: "a.rs"}}))
	require.NoError(t, s.Save(path))
	require.NoError(t, s.Close())

	reopened, err := EnsureCollection(path, 4, TierForLOC(1000))
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 1, reopened.Count())
	results, err := reopened.Search(context.Background(), unit(4, 0), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ChunkID)
}

func TestEnsureCollectionRejectsDimensionMismatchOnReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "collection.hnsw")

	s, err := EnsureCollection(path, 4, TierForLOC(1000))
	require.NoError(t, err)
	require.NoError(t, s.Save(path))
	require.NoError(t, s.Close())

	_, err = EnsureCollection(path, 8, TierForLOC(1000))
	assert.Error(t, err)
}

func TestSearchOnEmptyCollectionReturnsNoResults(t *testing.T) {
	s, err := EnsureCollection("", 4, TierForLOC(1000))
	require.NoError(t, err)
	defer s.Close()

	results, err := s.Search(context.Background(), unit(4, 0), 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTierForLOCBoundaries(t *testing.T) {
	assert.Equal(t, Tier{M: 16, EfConstruction: 100, EfSearch: 128}, TierForLOC(50_000))
	assert.Equal(t, Tier{M: 16, EfConstruction: 150, EfSearch: 128}, TierForLOC(500_000))
	assert.Equal(t, Tier{M: 32, EfConstruction: 200, EfSearch: 256}, TierForLOC(2_000_000))
}

func TestStatsCountsOrphanedPoints(t *testing.T) {
	s, err := EnsureCollection("", 4, TierForLOC(1000))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert(context.Background(), []Point{
		{ChunkID: "a", Vector: unit(4, 0), FilePath: "a.rs"},
		{ChunkID: "b", Vector: unit(4, 1), FilePath: "b.rs"},
	}))
	require.NoError(t, s.DeleteByFilter(context.Background(), "a.rs"))

	stats := s.Stats()
	assert.Equal(t, 1, stats.Live)
	assert.Equal(t, 1, stats.Orphaned)
}

func TestClearEmptiesStore(t *testing.T) {
	s, err := EnsureCollection("", 4, TierForLOC(1000))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert(context.Background(), []Point{{ChunkID: "a", Vector: unit(4, 0), FilePath: "a.rs"}}))
	s.Clear()

	assert.Equal(t, 0, s.Count())
	results, err := s.Search(context.Background(), unit(4, 0), 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
