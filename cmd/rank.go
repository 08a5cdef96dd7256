package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spigell/auto-applier/internal/ai"
	"github.com/spigell/auto-applier/internal/application"
	"github.com/spigell/auto-applier/internal/fit"
	"github.com/spigell/auto-applier/internal/ranking"
	"go.uber.org/zap"
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Print the resume that fits a job description best",
	Run: func(cmd *cobra.Command, _ []string) {
		rank(cmd)
	},
}

func init() {
	rootCmd.AddCommand(rankCmd)

	rankCmd.Flags().String("description-file", "", "a file with the job description (required)")
	rankCmd.Flags().Bool("evaluate-fit", false, "also print whether the job is a fit")
	rankCmd.MarkFlagRequired("description-file")
}

func rank(cmd *cobra.Command) {
	ctx := context.Background()
	logger, config := setup()

	file, _ := cmd.Flags().GetString("description-file")
	evaluate, _ := cmd.Flags().GetBool("evaluate-fit")

	raw, err := os.ReadFile(file)
	if err != nil {
		logger.Fatal("reading job description", zap.Error(err))
	}
	description := string(raw)
	if description == "" {
		description = application.DefaultJobDescription
	}

	models, err := newModels(ctx, config, logger)
	if err != nil {
		logger.Fatal("creating ai clients", zap.Error(err))
	}

	resumes, err := loadResumes(ctx, config, logger)
	if err != nil {
		logger.Fatal("loading resumes", zap.Error(err))
	}

	best, err := newRanker(config, models.resume, logger).SelectBest(ctx, description, resumes)
	if err != nil {
		logger.Fatal("selecting resume", zap.Error(err))
	}

	fmt.Println(best)

	if !evaluate {
		return
	}

	profile := ""
	for _, r := range resumes.All() {
		if r.Path == best {
			profile = r.Text
		}
	}

	analysis := newEvaluator(models.knowledge, logger).Evaluate(ctx, profile, description)
	fmt.Printf("fit: %t\nreasoning: %s\n", analysis.IsFit, analysis.Reasoning)
}

func newRanker(config *Config, generator ai.Generator, logger *zap.Logger) *ranking.Ranker {
	truncate := 0
	if config.Ranking != nil {
		truncate = config.Ranking.TruncateChars
	}
	return ranking.NewRanker(generator, truncate, logger)
}

func newEvaluator(generator ai.JSONGenerator, logger *zap.Logger) *fit.Evaluator {
	return fit.NewEvaluator(generator, logger)
}
