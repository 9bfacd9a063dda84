package rhash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rscodex/rscodex/internal/rerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesIsDeterministic(t *testing.T) {
	a := Bytes([]byte("fn main() {}"))
	b := Bytes([]byte("fn main() {}"))
	assert.True(t, a.Equal(b))
}

func TestBytesDiffersOnContentChange(t *testing.T) {
	a := Bytes([]byte("fn main() {}"))
	b := Bytes([]byte("fn main() { }"))
	assert.False(t, a.Equal(b))
}

func TestFileHashesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lib.rs")
	require.NoError(t, os.WriteFile(path, []byte("struct Foo;"), 0o644))

	sum, err := File(path)
	require.NoError(t, err)
	assert.Equal(t, Bytes([]byte("struct Foo;")), sum)
	assert.False(t, sum.IsZero())
}

func TestFileMissingReturnsIOError(t *testing.T) {
	_, err := File("/nonexistent/path/lib.rs")
	require.Error(t, err)
	assert.Equal(t, rerr.CodeIO, rerr.Code(err))
}
