package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rscodex/rscodex/internal/pipeline"
)

func newIndexCmd() *cobra.Command {
	var force bool
	var mode string

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a Rust codebase directory",
		Long: `Index scans a directory for Rust source files, chunks each file by
top-level item, and builds both the BM25 lexical index and the HNSW vector
index, diffing against the last indexed snapshot so unchanged files are
skipped.

Use --force to discard the existing snapshot and reindex everything.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndex(cmd, path, force, mode)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Discard the existing snapshot and reindex from scratch")
	cmd.Flags().StringVar(&mode, "mode", "", "Indexing mode: sequential, parallel, or pipeline (default: configured mode)")
	return cmd
}

func runIndex(cmd *cobra.Command, path string, force bool, mode string) error {
	root, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	engine, err := newEngine(root)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	result, err := engine.IndexCodebase(cmd.Context(), root, force, pipeline.Mode(mode))
	if err != nil {
		return fmt.Errorf("index %s: %w", root, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Indexed %s\n", result.Root)
	fmt.Fprintf(out, "  files indexed:   %d\n", result.Stats.IndexedFiles)
	fmt.Fprintf(out, "  files unchanged: %d\n", result.Stats.UnchangedFiles)
	fmt.Fprintf(out, "  files skipped:   %d\n", result.Stats.SkippedFiles)
	fmt.Fprintf(out, "  chunks total:    %d\n", result.Stats.TotalChunks)
	fmt.Fprintf(out, "  duration:        %s\n", result.Stats.Duration)
	return nil
}
