// Package cmd provides the CLI commands for rscodex.
package cmd

import (
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rscodex/rscodex/internal/config"
	"github.com/rscodex/rscodex/internal/rlog"
	"github.com/rscodex/rscodex/pkg/rscodex"
	"github.com/rscodex/rscodex/pkg/version"
)

var (
	debugMode   bool
	loggingDone func()
)

// NewRootCmd creates the root command for the rscodex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rscodex",
		Short: "Hybrid BM25 + semantic search over Rust codebases",
		Long: `rscodex indexes a Rust codebase's source tree into a dual BM25 +
HNSW vector index and serves hybrid search results, either as a one-off CLI
command or as an MCP server for AI coding assistants.`,
		Version: version.Version,
	}
	cmd.SetVersionTemplate("rscodex version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newHealthCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func startLogging(_ *cobra.Command, _ []string) error {
	cfg := rlog.Default()
	if debugMode {
		cfg.Level = "debug"
	}
	logger, cleanup, err := rlog.Setup(cfg)
	if err != nil {
		return err
	}
	loggingDone = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingDone != nil {
		loggingDone()
		loggingDone = nil
	}
	return nil
}

// dataDirFor returns the .rscodex data directory for root.
func dataDirFor(root string) string {
	return filepath.Join(root, ".rscodex")
}

// newEngine builds an Engine rooted at root's .rscodex data directory,
// loading .rscodex.yaml overrides if present.
func newEngine(root string) (*rscodex.Engine, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	return rscodex.New(dataDirFor(root), cfg, rscodex.WithLogger(slog.Default())), nil
}
