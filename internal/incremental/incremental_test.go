package incremental

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rscodex/rscodex/internal/chunk"
	"github.com/rscodex/rscodex/internal/embed"
	"github.com/rscodex/rscodex/internal/lexical"
	"github.com/rscodex/rscodex/internal/merkle"
	"github.com/rscodex/rscodex/internal/metacache"
	"github.com/rscodex/rscodex/internal/pipeline"
	"github.com/rscodex/rscodex/internal/safety"
	"github.com/rscodex/rscodex/internal/vecstore"
)

// fakeChunker mirrors the pipeline package's test double: one chunk per
// non-empty file, so these tests exercise diffing and driver wiring without
// depending on tree-sitter Rust parsing.
type fakeChunker struct{}

func (fakeChunker) Chunk(_ context.Context, file chunk.FileInput) ([]chunk.Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}
	return []chunk.Chunk{{
		ChunkID: "chunk:" + file.Path,
		Content: string(file.Content),
		Context: chunk.Context{
			FilePath:   file.Path,
			SymbolName: filepath.Base(file.Path),
			SymbolKind: chunk.SymbolFunction,
			LineStart:  1,
			LineEnd:    1,
		},
	}}, nil
}

func newTestDriver(t *testing.T, root string) (*Driver, *pipeline.Pipeline, *lexical.Index, *vecstore.Store, *metacache.Store) {
	t.Helper()

	lex, err := lexical.Open("", lexical.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { lex.Close() })

	vec, err := vecstore.EnsureCollection("", embed.Dimensions, vecstore.TierForLOC(0))
	require.NoError(t, err)
	t.Cleanup(func() { vec.Close() })

	meta, err := metacache.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	filters := safety.New(nil)

	deps := pipeline.Deps{
		Root:     root,
		Chunker:  fakeChunker{},
		Embedder: embed.NewStaticEmbedder(),
		Lexical:  lex,
		Vector:   vec,
		Meta:     meta,
		Filters:  filters,
	}
	p := pipeline.New(deps, pipeline.DefaultConfig(pipeline.ModeSequential), nil)

	snapPath := filepath.Join(t.TempDir(), "snapshot")
	d := New(root, snapPath, p, meta, filters, embed.Dimensions, "static-test", nil)
	return d, p, lex, vec, meta
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestReindexFirstRunIndexesAllFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.rs", "fn a() {}")
	writeFile(t, root, "b.rs", "fn b() {}")

	d, _, lex, vec, _ := newTestDriver(t, root)
	stats, err := d.Reindex(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 2, stats.IndexedFiles)

	count, err := lex.Count()
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	require.Equal(t, 2, vec.Count())
}

func TestReindexSecondRunIsNoopWhenUnchanged(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.rs", "fn a() {}")

	d, _, _, _, _ := newTestDriver(t, root)
	ctx := context.Background()
	_, err := d.Reindex(ctx, false)
	require.NoError(t, err)

	stats, err := d.Reindex(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 0, stats.IndexedFiles)
	require.Equal(t, 1, stats.UnchangedFiles)
}

func TestReindexDetectsModificationAndDeletion(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.rs", "fn a() {}")
	writeFile(t, root, "b.rs", "fn b() {}")

	d, _, lex, _, _ := newTestDriver(t, root)
	ctx := context.Background()
	_, err := d.Reindex(ctx, false)
	require.NoError(t, err)

	writeFile(t, root, "a.rs", "fn a_changed() {}")
	require.NoError(t, os.Remove(filepath.Join(root, "b.rs")))

	stats, err := d.Reindex(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, stats.IndexedFiles)

	count, err := lex.Count()
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestReindexForceClearsStateAndSnapshot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.rs", "fn a() {}")

	d, _, lex, vec, _ := newTestDriver(t, root)
	ctx := context.Background()
	_, err := d.Reindex(ctx, false)
	require.NoError(t, err)
	_, exists, err := merkle.Load(d.snapshotPath)
	require.NoError(t, err)
	require.True(t, exists)

	stats, err := d.Reindex(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 1, stats.IndexedFiles)

	count, err := lex.Count()
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, 1, vec.Count())
}

func TestReindexRejectsDimensionMismatch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.rs", "fn a() {}")

	d, _, _, _, meta := newTestDriver(t, root)
	ctx := context.Background()
	_, err := d.Reindex(ctx, false)
	require.NoError(t, err)

	require.NoError(t, meta.PutState(ctx, metacache.StateKeyIndexDimension, "1536"))

	_, err = d.Reindex(ctx, false)
	require.Error(t, err)
}
