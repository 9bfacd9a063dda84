// Package collection derives the per-root namespace name and the four
// on-disk paths that hang off it. All functions here are pure: the same
// root always yields the same name and paths.
package collection

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const namePrefix = "code_chunks_"

// Name returns the collection name for an absolute root path:
// "code_chunks_" + first 8 hex chars of sha256(root).
func Name(absRoot string) string {
	sum := sha256.Sum256([]byte(absRoot))
	return namePrefix + hex.EncodeToString(sum[:])[:8]
}

// Paths are the on-disk locations derived from a root's collection name.
type Paths struct {
	Snapshot string // <data_dir>/merkle/<8-hex>.snapshot
	Index    string // <data_dir>/index/<8-hex>/
	Cache    string // <data_dir>/cache/<8-hex>/
	Vector   string // <data_dir>/cache/<8-hex>/vectors.gob
	Meta     string // <data_dir>/cache/<8-hex>/metadata.db
}

// hexSuffix extracts the 8-hex suffix from a collection name.
func hexSuffix(name string) string {
	return name[len(namePrefix):]
}

// DerivePaths computes the snapshot/index/cache paths for absRoot under
// dataDir. Vector and Meta are single files living inside Cache: the vector
// store and metadata cache each own one file, not a directory, unlike the
// lexical index's Bleve directory.
func DerivePaths(dataDir, absRoot string) Paths {
	suffix := hexSuffix(Name(absRoot))
	cache := filepath.Join(dataDir, "cache", suffix)
	return Paths{
		Snapshot: filepath.Join(dataDir, "merkle", suffix+".snapshot"),
		Index:    filepath.Join(dataDir, "index", suffix),
		Cache:    cache,
		Vector:   filepath.Join(cache, "vectors.gob"),
		Meta:     filepath.Join(cache, "metadata.db"),
	}
}
