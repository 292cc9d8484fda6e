package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/tlog/internal/api"
	"github.com/kalambet/tlog/internal/config"
	"github.com/kalambet/tlog/internal/storage"
	"github.com/kalambet/tlog/internal/tracker"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve session history and live status over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		// stdout carries the protocol, so logs stay on stderr.
		setupLogging(cfg.Log.Level)

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		client := clientFor(cfg)
		s := api.NewMCPServer(api.MCPDeps{
			Store: store,
			Status: func(ctx context.Context) (tracker.Snapshot, error) {
				return client.status(ctx)
			},
		}, version)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		slog.Info("mcp server ready", "db", store.Path())
		return server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout)
	},
}
