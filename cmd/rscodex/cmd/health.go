package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rscodex/rscodex/internal/health"
)

func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health [path]",
		Short: "Report index health for a codebase",
		Long: `Health probes the BM25 index, the HNSW vector store, and the
Merkle snapshot for a previously indexed codebase, and reports the worst of
the three as the overall status.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runHealth(cmd, path)
		},
	}
	return cmd
}

func runHealth(cmd *cobra.Command, path string) error {
	root, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	engine, err := newEngine(root)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	report, err := engine.HealthCheck(cmd.Context(), root)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "overall: %s\n", report.Overall)
	printCheck(out, "bm25", report.BM25)
	printCheck(out, "vector", report.Vector)
	printCheck(out, "merkle", report.Merkle)

	if report.Overall == health.Unhealthy {
		return fmt.Errorf("%s is unhealthy", root)
	}
	return nil
}

func printCheck(out io.Writer, name string, c health.Check) {
	fmt.Fprintf(out, "  %-8s %-10s %s (%s)\n", name, c.Status, c.Message, c.Latency)
}
