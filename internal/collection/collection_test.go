package collection

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameIsDeterministic(t *testing.T) {
	root := "/home/user/projects/widget"
	a := Name(root)
	b := Name(root)
	assert.Equal(t, a, b)
}

func TestNameMatchesExpectedFormat(t *testing.T) {
	root := "/home/user/projects/widget"
	sum := sha256.Sum256([]byte(root))
	want := namePrefix + hex.EncodeToString(sum[:])[:8]
	assert.Equal(t, want, Name(root))
	assert.Len(t, hexSuffix(Name(root)), 8)
}

func TestNameDiffersAcrossRoots(t *testing.T) {
	assert.NotEqual(t, Name("/a"), Name("/b"))
}

func TestDerivePathsAreStableAndDistinct(t *testing.T) {
	root := "/srv/repo"
	p1 := DerivePaths("/data", root)
	p2 := DerivePaths("/data", root)
	assert.Equal(t, p1, p2)
	assert.NotEqual(t, p1.Snapshot, p1.Index)
	assert.Contains(t, p1.Snapshot, "merkle")
	assert.Contains(t, p1.Index, "index")
	assert.Contains(t, p1.Cache, "cache")
}
