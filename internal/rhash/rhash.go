// Package rhash computes the content hash that drives change
// detection. The hash is the sole source of truth: a changed mtime with
// unchanged bytes must not trigger re-embedding.
package rhash

import (
	"crypto/sha256"
	"os"

	"github.com/rscodex/rscodex/internal/rerr"
)

// Sum is a 32-byte SHA-256 digest of a file's raw bytes.
type Sum [32]byte

// File reads path and returns the SHA-256 of its contents.
func File(path string) (Sum, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sum{}, rerr.IO(path, err)
	}
	return Bytes(data), nil
}

// Bytes hashes data directly, useful in tests and for already-read content.
func Bytes(data []byte) Sum {
	return sha256.Sum256(data)
}

// Equal reports whether two sums are identical.
func (s Sum) Equal(other Sum) bool {
	return s == other
}

// IsZero reports whether s is the zero value (never hashed).
func (s Sum) IsZero() bool {
	return s == Sum{}
}
