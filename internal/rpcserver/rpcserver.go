// Package rpcserver exposes the four MCP tools over JSON-RPC via
// github.com/modelcontextprotocol/go-sdk. It is a thin dispatch layer: every
// handler validates its input, calls into pkg/rscodex, and translates the
// result (or error) to the tool's output schema. No query rewriting or
// result reformatting happens here beyond that translation.
package rpcserver

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rscodex/rscodex/internal/pipeline"
	"github.com/rscodex/rscodex/pkg/rscodex"
	"github.com/rscodex/rscodex/pkg/version"
)

// Server bridges rscodex's Engine to an MCP stdio transport.
type Server struct {
	mcp    *mcp.Server
	engine *rscodex.Engine
	log    *slog.Logger
}

// New builds a Server over engine and registers its four tools.
func New(engine *rscodex.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine: engine,
		log:    logger,
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "rscodex",
		Version: version.Version,
	}, nil)
	s.registerTools()
	return s
}

// Run serves the registered tools over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_codebase",
		Description: "Index a Rust codebase directory for hybrid search, incrementally if it was indexed before.",
	}, s.handleIndexCodebase)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Hybrid BM25 + semantic search over a previously indexed codebase.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_similar_code",
		Description: "Semantic-only search: find chunks whose embeddings are nearest to a free-text query.",
	}, s.handleGetSimilarCode)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "health_check",
		Description: "Report the health of a codebase's lexical, vector, and Merkle snapshot state.",
	}, s.handleHealthCheck)

	s.log.Info("MCP tools registered", slog.Int("count", 4))
}

// IndexCodebaseInput is the index_codebase tool's input schema.
type IndexCodebaseInput struct {
	Directory    string `json:"directory" jsonschema:"absolute or relative path to the codebase root"`
	ForceReindex bool   `json:"force_reindex,omitempty" jsonschema:"discard the existing snapshot and reindex from scratch"`
	IndexingMode string `json:"indexing_mode,omitempty" jsonschema:"sequential, parallel, or pipeline; defaults to the configured mode"`
}

// IndexCodebaseOutput is the index_codebase tool's output schema.
type IndexCodebaseOutput struct {
	Root           string `json:"root"`
	IndexedFiles   int    `json:"indexed_files"`
	UnchangedFiles int    `json:"unchanged_files"`
	SkippedFiles   int    `json:"skipped_files"`
	TotalChunks    int    `json:"total_chunks"`
	DurationMS     int64  `json:"duration_ms"`
}

func (s *Server) handleIndexCodebase(ctx context.Context, _ *mcp.CallToolRequest, input IndexCodebaseInput) (
	*mcp.CallToolResult, IndexCodebaseOutput, error,
) {
	if input.Directory == "" {
		return nil, IndexCodebaseOutput{}, NewInvalidParamsError("directory is required")
	}
	result, err := s.engine.IndexCodebase(ctx, input.Directory, input.ForceReindex, pipeline.Mode(input.IndexingMode))
	if err != nil {
		return nil, IndexCodebaseOutput{}, MapError(err)
	}
	return nil, IndexCodebaseOutput{
		Root:           result.Root,
		IndexedFiles:   result.Stats.IndexedFiles,
		UnchangedFiles: result.Stats.UnchangedFiles,
		SkippedFiles:   result.Stats.SkippedFiles,
		TotalChunks:    result.Stats.TotalChunks,
		DurationMS:     result.Stats.Duration.Milliseconds(),
	}, nil
}

// SearchInput is the search tool's input schema.
type SearchInput struct {
	Directory string `json:"directory" jsonschema:"codebase root to search"`
	Keyword   string `json:"keyword" jsonschema:"the search query"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// SearchOutput is the search tool's output schema. Degraded is set when one
// of the two subsearches failed or timed out and the results are the
// surviving half.
type SearchOutput struct {
	Results  []SearchHit `json:"results"`
	Degraded bool        `json:"degraded,omitempty"`
}

// SearchHit is one hydrated, fused search result.
type SearchHit struct {
	File        string   `json:"file"`
	Symbol      string   `json:"symbol,omitempty"`
	Kind        string   `json:"kind,omitempty"`
	LineStart   int      `json:"line_start"`
	LineEnd     int      `json:"line_end"`
	RRFScore    float64  `json:"rrf_score"`
	BM25Score   *float64 `json:"bm25_score,omitempty"`
	VectorScore *float64 `json:"vector_score,omitempty"`
	Preview     string   `json:"preview"`
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult, SearchOutput, error,
) {
	if input.Directory == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("directory is required")
	}
	if input.Keyword == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("keyword is required")
	}
	resp, err := s.engine.Search(ctx, input.Directory, input.Keyword, input.Limit)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}
	return nil, SearchOutput{Results: toSearchHits(resp.Hits), Degraded: resp.Degraded}, nil
}

// GetSimilarCodeInput is the get_similar_code tool's input schema.
type GetSimilarCodeInput struct {
	Query     string `json:"query" jsonschema:"free-text description of the code to find"`
	Directory string `json:"directory" jsonschema:"codebase root"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 5"`
}

func (s *Server) handleGetSimilarCode(ctx context.Context, _ *mcp.CallToolRequest, input GetSimilarCodeInput) (
	*mcp.CallToolResult, SearchOutput, error,
) {
	if input.Directory == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("directory is required")
	}
	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query is required")
	}
	hits, err := s.engine.GetSimilarCode(ctx, input.Directory, input.Query, input.Limit)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}
	return nil, SearchOutput{Results: toSearchHits(hits)}, nil
}

// HealthCheckInput is the health_check tool's input schema. Directory is
// optional; when absent, every open collection is probed and the worst
// status per component is reported.
type HealthCheckInput struct {
	Directory string `json:"directory,omitempty" jsonschema:"codebase root to probe; omit to probe all open collections"`
}

// HealthCheckOutput is the health_check tool's output schema.
type HealthCheckOutput struct {
	Overall string          `json:"overall"`
	BM25    ComponentHealth `json:"bm25"`
	Vector  ComponentHealth `json:"vector"`
	Merkle  ComponentHealth `json:"merkle"`
}

// ComponentHealth is one subcomponent's status in the tool's output.
type ComponentHealth struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	LatencyMS int64  `json:"latency_ms"`
}

func (s *Server) handleHealthCheck(ctx context.Context, _ *mcp.CallToolRequest, input HealthCheckInput) (
	*mcp.CallToolResult, HealthCheckOutput, error,
) {
	report, err := s.engine.HealthCheck(ctx, input.Directory)
	if err != nil {
		return nil, HealthCheckOutput{}, MapError(err)
	}
	return nil, HealthCheckOutput{
		Overall: report.Overall.String(),
		BM25:    toComponentHealth(report.BM25),
		Vector:  toComponentHealth(report.Vector),
		Merkle:  toComponentHealth(report.Merkle),
	}, nil
}
