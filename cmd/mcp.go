package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spigell/auto-applier/internal/mcpserver"
	"go.uber.org/zap"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the knowledge base as an MCP tool over stdio",
	Run: func(_ *cobra.Command, _ []string) {
		serveMCP()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func serveMCP() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger, config := setup()

	retriever, _, closeKnowledge, err := openKnowledge(ctx, config, nil, logger)
	if err != nil {
		logger.Fatal("opening knowledge base", zap.Error(err))
	}
	defer closeKnowledge()

	logger.Info("serving knowledge base over mcp", zap.Int("facts", retriever.Len()))

	server := mcpserver.New(app, resolveVersion(), retriever, logger)
	if err := mcpserver.Serve(ctx, server); err != nil && ctx.Err() == nil {
		logger.Error("mcp server stopped", zap.Error(err))
	}
}
