package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rscodex/rscodex/internal/hybrid"
)

func newSearchCmd() *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "search <path> <query...>",
		Short: "Hybrid BM25 + semantic search over an indexed codebase",
		Long: `Search fuses BM25 and HNSW vector search results with Reciprocal
Rank Fusion and prints the top matches. The codebase at path must already be
indexed (see 'rscodex index').`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			query := strings.Join(args[1:], " ")
			return runSearch(cmd, path, query, limit, jsonOutput)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runSearch(cmd *cobra.Command, path, query string, limit int, jsonOutput bool) error {
	root, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	engine, err := newEngine(root)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	resp, err := engine.Search(cmd.Context(), root, query, limit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	if resp.Degraded {
		fmt.Fprintln(out, "warning: partial results (one search backend was unavailable or timed out)")
	}
	printHits(out, resp.Hits)
	return nil
}

func printHits(out io.Writer, hits []hybrid.Hit) {
	if len(hits) == 0 {
		fmt.Fprintln(out, "No results.")
		return
	}
	for i, h := range hits {
		symbol := h.Chunk.Context.SymbolName
		if symbol == "" {
			symbol = "(file)"
		}
		fmt.Fprintf(out, "%d. %s  [%s:%d]  score=%.4f\n",
			i+1, symbol, h.Chunk.Context.FilePath, h.Chunk.Context.LineStart, h.RRFScore)
	}
}
