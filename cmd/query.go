package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask the knowledge base a question about the applicant",
	Args:  cobra.MinimumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		query(strings.Join(args, " "))
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
}

func query(question string) {
	ctx := context.Background()
	logger, config := setup()

	retriever, _, closeKnowledge, err := openKnowledge(ctx, config, nil, logger)
	if err != nil {
		logger.Fatal("opening knowledge base", zap.Error(err))
	}
	defer closeKnowledge()

	answer, err := retriever.Query(ctx, question)
	if err != nil {
		logger.Fatal("querying knowledge base", zap.Error(err))
	}

	fmt.Println(answer)
}
