package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rscodex/rscodex/internal/rpcserver"
)

func newServeCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over stdio",
		Long: `Serve exposes index_codebase, search, get_similar_code, and
health_check as MCP tools over a stdio JSON-RPC transport, while keeping
every tracked root resynced in the background.

MCP requires stdout to carry nothing but JSON-RPC frames: all logging goes
to stderr, never stdout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, path)
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Project root whose .rscodex data dir backs this server")
	return cmd
}

func runServe(ctx context.Context, path string) error {
	root, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}

	engine, err := newEngine(root)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	server := rpcserver.New(engine, slog.Default())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.RunScheduler(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
