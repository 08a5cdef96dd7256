package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spigell/auto-applier/internal/documents"
	"github.com/spigell/auto-applier/internal/knowledge"
	"go.uber.org/zap"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Extract facts from the knowledge base directory into the database",
	Run: func(_ *cobra.Command, _ []string) {
		ingest()
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func ingest() {
	ctx := context.Background()
	logger, config := setup()

	models, err := newModels(ctx, config, logger)
	if err != nil {
		logger.Fatal("creating ai clients", zap.Error(err))
	}

	retriever, _, closeKnowledge, err := openKnowledge(ctx, config, models.knowledge, logger)
	if err != nil {
		logger.Fatal("opening knowledge base", zap.Error(err))
	}
	defer closeKnowledge()

	added, err := ingestDirectory(ctx, config, retriever, logger)
	if err != nil {
		logger.Fatal("ingesting knowledge base", zap.Error(err))
	}

	logger.Info("knowledge base ingested", zap.Int("new_facts", added), zap.Int("total_facts", retriever.Len()))
}

func ingestDirectory(ctx context.Context, config *Config, retriever *knowledge.Retriever, logger *zap.Logger) (int, error) {
	added, err := retriever.LoadDirectory(ctx, documents.NewStore(logger), config.KnowledgeBaseDir)
	if err != nil {
		return added, fmt.Errorf("loading %s: %w", config.KnowledgeBaseDir, err)
	}
	return added, nil
}
