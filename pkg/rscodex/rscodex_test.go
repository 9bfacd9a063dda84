package rscodex

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rscodex/rscodex/internal/config"
	"github.com/rscodex/rscodex/internal/health"
)

func writeSource(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dataDir := t.TempDir()
	return New(dataDir, config.New())
}

func TestIndexCodebaseThenSearchFindsChunk(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "src/lib.rs", "fn parse_tokens(input: &str) -> Vec<String> { Vec::new() }")

	eng := newTestEngine(t)
	t.Cleanup(func() { _ = eng.Close() })

	ctx := context.Background()
	result, err := eng.IndexCodebase(ctx, root, false, "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.IndexedFiles)
	assert.Equal(t, 1, result.Stats.TotalChunks)

	resp, err := eng.Search(ctx, root, "parse_tokens", 5)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Hits)
	assert.Contains(t, resp.Hits[0].Chunk.Content, "parse_tokens")
}

func TestIndexCodebaseSecondRunIsIncremental(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "src/lib.rs", "fn a() {}")

	eng := newTestEngine(t)
	t.Cleanup(func() { _ = eng.Close() })
	ctx := context.Background()

	_, err := eng.IndexCodebase(ctx, root, false, "")
	require.NoError(t, err)

	second, err := eng.IndexCodebase(ctx, root, false, "")
	require.NoError(t, err)
	assert.Equal(t, 1, second.Stats.UnchangedFiles)
	assert.Equal(t, 0, second.Stats.IndexedFiles)
}

func TestIndexCodebaseRejectsUnknownMode(t *testing.T) {
	root := t.TempDir()
	eng := newTestEngine(t)
	t.Cleanup(func() { _ = eng.Close() })

	_, err := eng.IndexCodebase(context.Background(), root, false, "turbo")
	assert.Error(t, err)
}

func TestIndexCodebaseParallelModeOverride(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "src/a.rs", "fn a() {}")
	writeSource(t, root, "src/b.rs", "fn b() {}")

	eng := newTestEngine(t)
	t.Cleanup(func() { _ = eng.Close() })

	result, err := eng.IndexCodebase(context.Background(), root, false, "parallel")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stats.IndexedFiles)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	root := t.TempDir()
	eng := newTestEngine(t)
	t.Cleanup(func() { _ = eng.Close() })

	_, err := eng.Search(context.Background(), root, "", 5)
	assert.Error(t, err)
}

func TestGetSimilarCodeReturnsNearestChunks(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "src/lib.rs", "fn parse_tokens() {}")
	eng := newTestEngine(t)
	t.Cleanup(func() { _ = eng.Close() })
	ctx := context.Background()

	_, err := eng.IndexCodebase(ctx, root, false, "")
	require.NoError(t, err)

	hits, err := eng.GetSimilarCode(ctx, root, "split text into tokens", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Nil(t, hits[0].BM25Score)
	require.NotNil(t, hits[0].VectorScore)
}

func TestGetSimilarCodeRejectsEmptyQuery(t *testing.T) {
	root := t.TempDir()
	eng := newTestEngine(t)
	t.Cleanup(func() { _ = eng.Close() })

	_, err := eng.GetSimilarCode(context.Background(), root, "", 5)
	assert.Error(t, err)
}

func TestHealthCheckReflectsIndexedState(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "src/lib.rs", "fn a() {}")
	eng := newTestEngine(t)
	t.Cleanup(func() { _ = eng.Close() })
	ctx := context.Background()

	before, err := eng.HealthCheck(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, health.Degraded, before.Overall) // no snapshot yet

	_, err = eng.IndexCodebase(ctx, root, true, "")
	require.NoError(t, err)

	after, err := eng.HealthCheck(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, health.Healthy, after.Overall)
}

func TestHealthCheckWithoutRootCoversOpenCollections(t *testing.T) {
	eng := newTestEngine(t)
	t.Cleanup(func() { _ = eng.Close() })

	report, err := eng.HealthCheck(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, health.Healthy, report.Overall)

	root := t.TempDir()
	writeSource(t, root, "src/lib.rs", "fn a() {}")
	_, err = eng.IndexCodebase(context.Background(), root, false, "")
	require.NoError(t, err)

	report, err = eng.HealthCheck(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, health.Healthy, report.Overall)
}
