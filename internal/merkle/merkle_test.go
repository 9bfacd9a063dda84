package merkle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func sampleInputs() []Input {
	return []Input{
		{Path: "src/main.rs", Content: []byte("fn main() {}"), ModTime: 100},
		{Path: "src/lib.rs", Content: []byte("pub mod foo;"), ModTime: 200},
		{Path: "src/foo.rs", Content: []byte("pub struct Foo;"), ModTime: 300},
	}
}

func TestBuildIsOrderIndependent(t *testing.T) {
	inputs := sampleInputs()
	a := Build(inputs)

	reversed := make([]Input, len(inputs))
	for i, in := range inputs {
		reversed[len(inputs)-1-i] = in
	}
	b := Build(reversed)

	assert.Equal(t, a.Root, b.Root)
}

func TestBuildHandlesOddLeafCount(t *testing.T) {
	inputs := sampleInputs() // 3 leaves, forces last-hash duplication
	snap := Build(inputs)
	assert.NotEqual(t, [32]byte{}, snap.Root)
	assert.Len(t, snap.Files, 3)
}

func TestBuildEmptyIsDeterministic(t *testing.T) {
	a := Build(nil)
	b := Build([]Input{})
	assert.Equal(t, a.Root, b.Root)
}

func TestDiffFastPathOnEqualRoots(t *testing.T) {
	inputs := sampleInputs()
	old := Build(inputs)
	newSnap := Build(inputs)

	added, modified, deleted := Diff(old, newSnap)
	assert.Empty(t, added)
	assert.Empty(t, modified)
	assert.Empty(t, deleted)
}

func TestDiffClassifiesAddedModifiedDeleted(t *testing.T) {
	old := Build([]Input{
		{Path: "a.rs", Content: []byte("fn a() {}")},
		{Path: "b.rs", Content: []byte("fn b() {}")},
	})
	newSnap := Build([]Input{
		{Path: "a.rs", Content: []byte("fn a() { /* changed */ }")},
		{Path: "c.rs", Content: []byte("fn c() {}")},
	})

	added, modified, deleted := Diff(old, newSnap)
	assert.Equal(t, []string{"c.rs"}, added)
	assert.Equal(t, []string{"a.rs"}, modified)
	assert.Equal(t, []string{"b.rs"}, deleted)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "repo.snapshot")

	snap := Build(sampleInputs())
	require.NoError(t, Save(path, snap))

	loaded, ok, err := Load(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.Root, loaded.Root)
	assert.Equal(t, snap.Version, loaded.Version)
	assert.Len(t, loaded.Files, len(snap.Files))
	for path, entry := range snap.Files {
		got, ok := loaded.Files[path]
		require.True(t, ok)
		assert.Equal(t, entry.ContentHash, got.ContentHash)
		assert.Equal(t, entry.LeafIndex, got.LeafIndex)
	}
}

func TestLoadMissingFileReturnsNoSnapshot(t *testing.T) {
	snap, ok, err := Load("/nonexistent/path.snapshot")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Snapshot{}, snap)
}

func TestLoadVersionMismatchTreatedAsFirstRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stale.snapshot")
	snap := Build(sampleInputs())
	require.NoError(t, Save(path, snap))

	// Corrupt the version field in place to simulate a future format.
	data := readFile(t, path)
	data[0] = 0xFF
	writeFile(t, path, data)

	loaded, ok, err := Load(path)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Snapshot{}, loaded)
}
