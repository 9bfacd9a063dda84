// Package lexical implements the BM25 inverted index: a Bleve v2
// index over {content, symbol_name, docstring} fields with at-most-one-writer
// discipline enforced both in-process and across processes.
package lexical

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/gofrs/flock"

	"github.com/rscodex/rscodex/internal/rerr"
)

const (
	codeTokenizerName  = "code_tokenizer"
	codeStopFilterName = "code_stop"
	codeAnalyzerName   = "code_analyzer"
)

// defaultCodeStopWords are common keywords that carry no discriminative
// weight in a code-search BM25 index.
var defaultCodeStopWords = []string{
	"fn", "let", "mut", "const", "static", "struct", "enum", "trait", "impl",
	"mod", "pub", "use", "return", "if", "else", "for", "while", "match",
	"self", "result", "value", "item", "key", "err", "ctx",
}

var registerOnce sync.Once

func registerAnalysis() {
	registerOnce.Do(func() {
		_ = registry.RegisterTokenizer(codeTokenizerName, codeTokenizerConstructor)
		_ = registry.RegisterTokenFilter(codeStopFilterName, codeStopFilterConstructor)
	})
}

// Config carries the BM25 tuning knobs. Bleve's v2 match
// scorer does not expose k1/b directly at this API layer; they are carried
// here for documentation and for a future scorer swap rather than wired into
// a call that would silently ignore them.
type Config struct {
	K1             float64
	B              float64
	StopWords      []string
	MinTokenLength int
}

// DefaultConfig returns the default BM25 tuning.
func DefaultConfig() Config {
	return Config{K1: 1.2, B: 0.75, StopWords: defaultCodeStopWords, MinTokenLength: 2}
}

// Tier is the memory/thread budget for a writer, selected by estimated
// LOC: <100k -> ~100MB/2 threads, 100k-1M -> ~400MB/4 threads,
// >1M -> ~1.6GB/8 threads.
type Tier struct {
	MemoryBudgetMB int
	Threads        int
}

// TierForLOC selects the memory/thread tier for an estimated line count.
func TierForLOC(loc int) Tier {
	switch {
	case loc < 100_000:
		return Tier{MemoryBudgetMB: 100, Threads: 2}
	case loc < 1_000_000:
		return Tier{MemoryBudgetMB: 400, Threads: 4}
	default:
		return Tier{MemoryBudgetMB: 1600, Threads: 8}
	}
}

// Document is one indexable unit, keyed by chunk_id.
type Document struct {
	ChunkID    string
	Content    string
	SymbolName string
	Docstring  string
}

// Result is a single BM25 hit.
type Result struct {
	ChunkID string
	Score   float64
}

type bleveDoc struct {
	Content    string `json:"content"`
	SymbolName string `json:"symbol_name"`
	Docstring  string `json:"docstring"`
}

// Index is a BM25 inverted index with single-writer discipline per index
// path. Readers (Search) may run concurrently with everything.
type Index struct {
	mu      sync.Mutex
	idx     bleve.Index
	path    string
	cfg     Config
	flk     *flock.Flock
	writing bool
	closed  bool
}

// Open opens or creates the index at path. An empty path creates an
// in-memory index, for tests and ephemeral use.
func Open(path string, cfg Config) (*Index, error) {
	registerAnalysis()
	indexMapping, err := buildMapping()
	if err != nil {
		return nil, rerr.Storage("failed to build bm25 index mapping", err)
	}

	var idx bleve.Index
	var lockPath string
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, rerr.IO(path, err)
		}
		if validErr := validateIntegrity(path); validErr != nil {
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, rerr.Storage(fmt.Sprintf("bm25 index corrupted at %s and cannot remove", path), removeErr)
			}
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, rerr.Storage(fmt.Sprintf("bm25 index corrupted at %s and cannot clear", path), removeErr)
			}
			idx, err = bleve.New(path, indexMapping)
		}
		lockPath = path + ".writer.lock"
	}
	if err != nil {
		return nil, rerr.Storage("failed to open bm25 index", err)
	}

	var flk *flock.Flock
	if lockPath != "" {
		flk = flock.New(lockPath)
	}
	return &Index{idx: idx, path: path, cfg: cfg, flk: flk}, nil
}

// validateIntegrity reports a descriptive error if an on-disk index looks
// corrupted (missing or unparsable index_meta.json), nil if the index is
// absent or looks sound.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "unexpected end of JSON") ||
		strings.Contains(s, "error parsing mapping JSON") ||
		strings.Contains(s, "failed to load segment") ||
		strings.Contains(s, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

func buildMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(codeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": codeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			codeStopFilterName,
		},
	})
	if err != nil {
		return nil, err
	}
	im.DefaultAnalyzer = codeAnalyzerName

	field := bleve.NewTextFieldMapping()
	field.Analyzer = codeAnalyzerName
	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("content", field)
	doc.AddFieldMappingsAt("symbol_name", field)
	doc.AddFieldMappingsAt("docstring", field)
	im.AddDocumentMapping("_default", doc)
	return im, nil
}

// Writer acquires the index's single writer slot. A second concurrent call,
// from this process or another holding the same path, returns rerr.Locked.
// Writes are buffered in-memory and only applied to the underlying index on
// Commit; Close (or Rollback) without a prior Commit discards them, so a
// writer dropped without commit never leaves partial state visible to
// readers and never leaves the index Locked.
func (ix *Index) Writer(ctx context.Context, tier Tier) (*Writer, error) {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return nil, rerr.Storage("index is closed", nil)
	}
	if ix.writing {
		ix.mu.Unlock()
		return nil, rerr.Locked(ix.path)
	}
	if ix.flk != nil {
		acquired, err := ix.flk.TryLock()
		if err != nil {
			ix.mu.Unlock()
			return nil, rerr.Storage("failed to acquire writer lock", err)
		}
		if !acquired {
			ix.mu.Unlock()
			return nil, rerr.Locked(ix.path)
		}
	}
	ix.writing = true
	ix.mu.Unlock()

	return &Writer{idx: ix, tier: tier}, nil
}

func (ix *Index) release() {
	ix.mu.Lock()
	ix.writing = false
	ix.mu.Unlock()
	if ix.flk != nil {
		_ = ix.flk.Unlock()
	}
}

// Search runs a BM25 match query over content/symbol_name/docstring.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	ix.mu.Lock()
	closed := ix.closed
	ix.mu.Unlock()
	if closed {
		return nil, rerr.Storage("index is closed", nil)
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	mq := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(mq)
	req.Size = limit
	res, err := ix.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, rerr.Storage("bm25 search failed", err)
	}

	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, Result{ChunkID: hit.ID, Score: hit.Score})
	}
	return out, nil
}

// AllIDs returns every chunk id currently in the index. Used by the
// consistency reconciler to find the symmetric difference against the
// vector index, not on the hot indexing/search path.
func (ix *Index) AllIDs(ctx context.Context) ([]string, error) {
	ix.mu.Lock()
	closed := ix.closed
	ix.mu.Unlock()
	if closed {
		return nil, rerr.Storage("index is closed", nil)
	}

	count, err := ix.Count()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	res, err := ix.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, rerr.Storage("bm25 list ids failed", err)
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Count returns the number of documents in the index.
func (ix *Index) Count() (uint64, error) {
	n, err := ix.idx.DocCount()
	if err != nil {
		return 0, rerr.Storage("bm25 doc count failed", err)
	}
	return n, nil
}

// Close closes the underlying index. It does not release an outstanding
// writer; callers must Commit or Close the writer first.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil
	}
	ix.closed = true
	return ix.idx.Close()
}

// Writer state machine: Writing -> Committed -> (slot released) or
// Writing -> RolledBack -> (slot released). Writing -> Locked never
// happens to an existing Writer; Locked is only returned to a second
// caller of Index.Writer while this one is live.
type writerState int

const (
	stateWriting writerState = iota
	stateCommitted
	stateRolledBack
)

// Writer buffers deletes and upserts for one indexing run. Deletes are
// applied before upserts within a run, matching the delete-before-insert
// ordering the pipeline requires per file.
type Writer struct {
	idx   *Index
	tier  Tier
	state writerState

	deletes []string
	upserts []Document
}

// Delete queues chunk ids for removal, applied on Commit.
func (w *Writer) Delete(ids ...string) {
	w.deletes = append(w.deletes, ids...)
}

// Upsert queues documents for insertion or replacement, applied on Commit.
func (w *Writer) Upsert(docs ...Document) {
	w.upserts = append(w.upserts, docs...)
}

// Commit applies all buffered deletes then upserts as one Bleve batch and
// releases the writer slot. After Commit, updates are visible to new
// Search calls and a subsequent Writer call will succeed.
func (w *Writer) Commit(ctx context.Context) error {
	if w.state != stateWriting {
		return nil
	}
	defer w.idx.release()

	batch := w.idx.idx.NewBatch()
	for _, id := range w.deletes {
		batch.Delete(id)
	}
	for _, d := range w.upserts {
		doc := bleveDoc{Content: d.Content, SymbolName: d.SymbolName, Docstring: d.Docstring}
		if err := batch.Index(d.ChunkID, doc); err != nil {
			w.state = stateRolledBack
			return rerr.Storage(fmt.Sprintf("failed to stage chunk %s", d.ChunkID), err)
		}
	}
	if err := w.idx.idx.Batch(batch); err != nil {
		w.state = stateRolledBack
		return rerr.Storage("bm25 commit failed", err)
	}

	w.state = stateCommitted
	return nil
}

// Rollback discards all buffered changes and releases the writer slot
// without touching the underlying index.
func (w *Writer) Rollback() error {
	if w.state != stateWriting {
		return nil
	}
	w.deletes = nil
	w.upserts = nil
	w.state = stateRolledBack
	w.idx.release()
	return nil
}

// Close rolls back the writer if it was never committed. Safe to call
// after Commit or Rollback.
func (w *Writer) Close() error {
	if w.state == stateWriting {
		return w.Rollback()
	}
	return nil
}

func codeTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &tokenizer{}, nil
}

type tokenizer struct{}

func (t *tokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := TokenizeCode(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0
	for _, tok := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), strings.ToLower(tok))
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(tok)
		result = append(result, &analysis.Token{
			Term:     []byte(tok),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return result
}

func codeStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &stopFilter{stopWords: buildStopWordMap(defaultCodeStopWords)}, nil
}

type stopFilter struct {
	stopWords map[string]struct{}
}

func (f *stopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := make(analysis.TokenStream, 0, len(input))
	for _, tok := range input {
		if _, stop := f.stopWords[strings.ToLower(string(tok.Term))]; !stop {
			out = append(out, tok)
		}
	}
	return out
}

func buildStopWordMap(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}
