// Package metacache implements the embedded single-process metadata
// store: a per-collection SQLite KV of file path -> {hash, mtime, size,
// indexed_at}, a small generic state table used for dimension/model guards,
// and the chunk payload table hybrid search hydrates results from. Durability
// is best-effort; correctness never depends on it since a Merkle rebuild
// from filesystem content is always the fallback.
package metacache

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rscodex/rscodex/internal/chunk"
	"github.com/rscodex/rscodex/internal/rerr"
)

// Record is one file's cached metadata.
type Record struct {
	Path      string
	Hash      string // hex-encoded SHA-256
	MTime     int64  // unix seconds
	Size      int64
	IndexedAt int64 // unix seconds
}

// Store is a SQLite-backed metadata cache for one collection.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open creates or opens the metadata database at path, in WAL mode with a
// single writer connection (mirrors the single-writer discipline used for
// the lexical index).
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, rerr.IO(path, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, rerr.Storage("failed to open metadata database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, rerr.Storage("failed to set pragma", err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		mtime INTEGER NOT NULL,
		size INTEGER NOT NULL,
		indexed_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS file_chunks (
		path TEXT PRIMARY KEY,
		chunk_ids TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id TEXT PRIMARY KEY,
		payload TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return rerr.Storage("failed to initialize metadata schema", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached record for path, or false if absent.
func (s *Store) Get(ctx context.Context, path string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var r Record
	row := s.db.QueryRowContext(ctx,
		`SELECT path, hash, mtime, size, indexed_at FROM files WHERE path = ?`, path)
	if err := row.Scan(&r.Path, &r.Hash, &r.MTime, &r.Size, &r.IndexedAt); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, false, nil
		}
		return Record{}, false, rerr.Storage("metadata lookup failed", err)
	}
	return r, true, nil
}

// Put upserts a record, stamping IndexedAt with the current time.
func (s *Store) Put(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.IndexedAt == 0 {
		r.IndexedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (path, hash, mtime, size, indexed_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET hash=excluded.hash, mtime=excluded.mtime,
			size=excluded.size, indexed_at=excluded.indexed_at`,
		r.Path, r.Hash, r.MTime, r.Size, r.IndexedAt)
	if err != nil {
		return rerr.Storage("metadata upsert failed", err)
	}
	return nil
}

// Delete removes the record for path, if present. Absence is not an error.
func (s *Store) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
		return rerr.Storage("metadata delete failed", err)
	}
	return nil
}

// Clear removes every record, used by force reindex.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM files`); err != nil {
		return rerr.Storage("metadata clear failed", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM file_chunks`); err != nil {
		return rerr.Storage("metadata clear failed", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return rerr.Storage("metadata clear failed", err)
	}
	return nil
}

// List returns every cached record, in no particular order.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT path, hash, mtime, size, indexed_at FROM files`)
	if err != nil {
		return nil, rerr.Storage("metadata list failed", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Path, &r.Hash, &r.MTime, &r.Size, &r.IndexedAt); err != nil {
			return nil, rerr.Storage("metadata scan failed", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// HasChanged reports whether path has no cached record, or its cached hash
// differs from currentHash. This is the second gate that keeps an unchanged
// mtime-but-touched file from being re-embedded.
func (s *Store) HasChanged(ctx context.Context, path, currentHash string) (bool, error) {
	record, ok, err := s.Get(ctx, path)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return record.Hash != currentHash, nil
}

// PutState sets a generic key/value in the state table, used for guards such
// as the embedding dimension and model name the vector index was built with.
func (s *Store) PutState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	if err != nil {
		return rerr.Storage("state upsert failed", err)
	}
	return nil
}

// GetState returns the value for key, or false if absent.
func (s *Store) GetState(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	row := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, rerr.Storage("state lookup failed", err)
	}
	return value, true, nil
}

const (
	StateKeyIndexDimension = "index_dimension"
	StateKeyIndexModel     = "index_model"
)

// PutChunkIDs records the chunk ids currently live for path. This is the
// side map keyed by file that lets the pipeline issue
// chunk-id deletes to the lexical index (which only deletes by id, not by
// path filter) before re-inserting a modified file's chunks, and so a
// deleted file's chunk ids are known without re-parsing it.
func (s *Store) PutChunkIDs(ctx context.Context, path string, chunkIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := json.Marshal(chunkIDs)
	if err != nil {
		return rerr.Storage("failed to encode chunk ids", err)
	}
	_, execErr := s.db.ExecContext(ctx, `
		INSERT INTO file_chunks (path, chunk_ids) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET chunk_ids=excluded.chunk_ids`,
		path, string(encoded))
	if execErr != nil {
		return rerr.Storage("chunk id upsert failed", execErr)
	}
	return nil
}

// GetChunkIDs returns the chunk ids last recorded for path, or an empty
// slice if none exist.
func (s *Store) GetChunkIDs(ctx context.Context, path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var encoded string
	row := s.db.QueryRowContext(ctx, `SELECT chunk_ids FROM file_chunks WHERE path = ?`, path)
	if err := row.Scan(&encoded); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, rerr.Storage("chunk id lookup failed", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(encoded), &ids); err != nil {
		return nil, rerr.Storage("failed to decode chunk ids", err)
	}
	return ids, nil
}

// DeleteChunkIDs removes the recorded chunk-id mapping for path.
func (s *Store) DeleteChunkIDs(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM file_chunks WHERE path = ?`, path); err != nil {
		return rerr.Storage("chunk id delete failed", err)
	}
	return nil
}

// PutChunks upserts the full retrieval payload (content, structured context,
// overlaps) for each chunk, keyed by chunk id. This is what search results
// hydrate from: the lexical and vector indexes only ever carry an id and a
// ranking score, never the payload itself.
func (s *Store) PutChunks(ctx context.Context, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rerr.Storage("failed to begin chunk payload transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, payload) VALUES (?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET payload=excluded.payload`)
	if err != nil {
		return rerr.Storage("failed to prepare chunk payload upsert", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		encoded, encErr := json.Marshal(c)
		if encErr != nil {
			return rerr.Storage("failed to encode chunk payload", encErr)
		}
		if _, execErr := stmt.ExecContext(ctx, c.ChunkID, string(encoded)); execErr != nil {
			return rerr.Storage("chunk payload upsert failed", execErr)
		}
	}
	if err := tx.Commit(); err != nil {
		return rerr.Storage("failed to commit chunk payload transaction", err)
	}
	return nil
}

// GetChunk loads one chunk's full payload by id.
func (s *Store) GetChunk(ctx context.Context, chunkID string) (chunk.Chunk, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM chunks WHERE chunk_id = ?`, chunkID).Scan(&payload)
	if err == sql.ErrNoRows {
		return chunk.Chunk{}, false, nil
	}
	if err != nil {
		return chunk.Chunk{}, false, rerr.Storage("chunk payload read failed", err)
	}
	var c chunk.Chunk
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return chunk.Chunk{}, false, rerr.Storage("failed to decode chunk payload", err)
	}
	return c, true, nil
}

// GetChunks batch-loads payloads for ids, skipping any id with no stored
// payload rather than failing the whole batch.
func (s *Store) GetChunks(ctx context.Context, ids []string) (map[string]chunk.Chunk, error) {
	result := make(map[string]chunk.Chunk, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `SELECT chunk_id, payload FROM chunks WHERE chunk_id IN (` + strings.Join(placeholders, ",") + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, rerr.Storage("chunk payload batch read failed", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, rerr.Storage("chunk payload batch scan failed", err)
		}
		var c chunk.Chunk
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, rerr.Storage("failed to decode chunk payload", err)
		}
		result[id] = c
	}
	return result, rows.Err()
}

// DeleteChunks removes stored payloads for the given ids.
func (s *Store) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `DELETE FROM chunks WHERE chunk_id IN (` + strings.Join(placeholders, ",") + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return rerr.Storage("chunk payload delete failed", err)
	}
	return nil
}
