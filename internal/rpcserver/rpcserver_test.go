package rpcserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rscodex/rscodex/internal/config"
	"github.com/rscodex/rscodex/pkg/rscodex"
)

func writeSource(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	engine := rscodex.New(t.TempDir(), config.New())
	t.Cleanup(func() { _ = engine.Close() })
	return New(engine, nil)
}

func TestHandleIndexCodebaseRejectsEmptyDirectory(t *testing.T) {
	s := newTestServer(t)
	_, _, err := s.handleIndexCodebase(context.Background(), nil, IndexCodebaseInput{})
	require.Error(t, err)
	mcpErr, ok := err.(*MCPError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestHandleIndexCodebaseRejectsUnknownMode(t *testing.T) {
	s := newTestServer(t)
	root := t.TempDir()
	_, _, err := s.handleIndexCodebase(context.Background(), nil, IndexCodebaseInput{
		Directory:    root,
		IndexingMode: "turbo",
	})
	require.Error(t, err)
	mcpErr, ok := err.(*MCPError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestHandleIndexCodebaseThenSearch(t *testing.T) {
	s := newTestServer(t)
	root := t.TempDir()
	writeSource(t, root, "src/lib.rs", "fn parse_tokens() {}")

	_, out, err := s.handleIndexCodebase(context.Background(), nil, IndexCodebaseInput{Directory: root})
	require.NoError(t, err)
	assert.Equal(t, 1, out.IndexedFiles)
	assert.Equal(t, 1, out.TotalChunks)

	_, searchOut, err := s.handleSearch(context.Background(), nil, SearchInput{Directory: root, Keyword: "parse_tokens"})
	require.NoError(t, err)
	require.NotEmpty(t, searchOut.Results)
	hit := searchOut.Results[0]
	assert.Equal(t, "src/lib.rs", hit.File)
	assert.NotZero(t, hit.LineStart)
	assert.NotEmpty(t, hit.Preview)
	assert.False(t, searchOut.Degraded)
}

func TestHandleSearchRejectsMissingKeyword(t *testing.T) {
	s := newTestServer(t)
	_, _, err := s.handleSearch(context.Background(), nil, SearchInput{Directory: "/tmp/whatever"})
	require.Error(t, err)
}

func TestHandleGetSimilarCodeRejectsMissingQuery(t *testing.T) {
	s := newTestServer(t)
	_, _, err := s.handleGetSimilarCode(context.Background(), nil, GetSimilarCodeInput{Directory: "/tmp/whatever"})
	require.Error(t, err)
}

func TestHandleGetSimilarCodeReturnsVectorOnlyHits(t *testing.T) {
	s := newTestServer(t)
	root := t.TempDir()
	writeSource(t, root, "src/lib.rs", "fn parse_tokens() {}")

	_, _, err := s.handleIndexCodebase(context.Background(), nil, IndexCodebaseInput{Directory: root})
	require.NoError(t, err)

	_, out, err := s.handleGetSimilarCode(context.Background(), nil, GetSimilarCodeInput{
		Directory: root,
		Query:     "tokenize input",
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	assert.Nil(t, out.Results[0].BM25Score)
	require.NotNil(t, out.Results[0].VectorScore)
}

func TestHandleHealthCheckReportsStatus(t *testing.T) {
	s := newTestServer(t)
	root := t.TempDir()
	writeSource(t, root, "src/lib.rs", "fn a() {}")
	_, _, err := s.handleIndexCodebase(context.Background(), nil, IndexCodebaseInput{Directory: root})
	require.NoError(t, err)

	_, out, err := s.handleHealthCheck(context.Background(), nil, HealthCheckInput{Directory: root})
	require.NoError(t, err)
	assert.Equal(t, "healthy", out.Overall)
}

func TestHandleHealthCheckWithoutDirectoryProbesAllCollections(t *testing.T) {
	s := newTestServer(t)
	_, out, err := s.handleHealthCheck(context.Background(), nil, HealthCheckInput{})
	require.NoError(t, err)
	assert.Equal(t, "healthy", out.Overall) // nothing open yet
}

func TestMapErrorTranslatesInvalidInput(t *testing.T) {
	_, _, err := newTestServer(t).handleSearch(context.Background(), nil, SearchInput{Directory: "/tmp", Keyword: ""})
	require.Error(t, err)
	mcpErr, ok := err.(*MCPError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}
