package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/spigell/auto-applier/internal/application"
	"github.com/spigell/auto-applier/internal/history"
	"github.com/spigell/auto-applier/internal/utils"
	"go.uber.org/zap"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var applyCmd = &cobra.Command{
	Use:   "apply <job-url>...",
	Short: "Fill in and submit application forms for the given job postings",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		apply(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for any confirmation")
	applyCmd.Flags().BoolP("force", "f", false, "apply even if the job was already submitted")
	applyCmd.Flags().Bool("evaluate-fit", false, "evaluate whether the job fits before applying")
	applyCmd.Flags().Bool("skip-unfit", false, "skip jobs judged not a fit without asking")

	viper.BindPFlag("apply.evaluate-fit", applyCmd.Flags().Lookup("evaluate-fit"))
	viper.BindPFlag("apply.skip-unfit", applyCmd.Flags().Lookup("skip-unfit"))
}

func apply(cmd *cobra.Command, urls []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger, config := setup()
	logger.Info("starting the auto-applier", zap.String("version", resolveVersion()), zap.Int("jobs", len(urls)))

	autoApprove, _ := cmd.Flags().GetBool("auto-approve")
	force, _ := cmd.Flags().GetBool("force")

	models, err := newModels(ctx, config, logger)
	if err != nil {
		logger.Fatal("creating ai clients", zap.Error(err))
	}

	resumes, err := loadResumes(ctx, config, logger)
	if err != nil {
		logger.Fatal("loading resumes", zap.Error(err))
	}
	logger.Info("resumes loaded", zap.Int("count", resumes.Len()))

	retriever, db, closeKnowledge, err := openKnowledge(ctx, config, models.knowledge, logger)
	if err != nil {
		logger.Fatal("opening knowledge base", zap.Error(err))
	}
	defer closeKnowledge()

	if retriever.Len() == 0 {
		added, err := ingestDirectory(ctx, config, retriever, logger)
		if err != nil {
			logger.Fatal("loading knowledge base", zap.Error(err))
		}
		logger.Info("knowledge base loaded", zap.Int("facts", added))
	}

	if !autoApprove && !confirm(fmt.Sprintf("Apply to %d job(s)?", len(urls))) {
		logger.Info("exiting", zap.String("reason", "got no from prompt"))
		return
	}

	browserAgent, closeBrowser, err := newBrowserAgent(ctx, config, models.agent, logger)
	if err != nil {
		logger.Fatal("starting browser", zap.Error(err))
	}
	defer closeBrowser()

	applyCfg := config.Apply
	if applyCfg == nil {
		applyCfg = &ApplyConfig{}
	}

	deps := application.Deps{
		Agent:     browserAgent,
		Ranker:    newRanker(config, models.resume, logger),
		Evaluator: newEvaluator(models.knowledge, logger),
		Knowledge: retriever,
		Resumes:   resumes,
		History:   history.New(db),
		Logger:    logger,
	}
	if !autoApprove && !applyCfg.SkipUnfit {
		deps.Confirm = func(r *application.Result) bool {
			return confirm(fmt.Sprintf("Not a fit (%s). Apply anyway?", utils.TruncateForLog(r.Fit.Reasoning, 120)))
		}
	}

	orchestrator := application.New(deps, application.Options{
		EvaluateFit: applyCfg.EvaluateFit,
		SkipUnfit:   applyCfg.SkipUnfit,
		Force:       force,
	})

	for _, status := range application.Describe(orchestrator.Steps()) {
		logger.Debug("application step status",
			zap.String("name", status.Name),
			zap.Bool("enabled", status.Enabled),
			zap.String("reason", status.Reason),
		)
	}

	counts := make(map[application.State]int)
	for _, url := range urls {
		if ctx.Err() != nil {
			break
		}

		result, err := orchestrator.Apply(ctx, url)
		counts[result.State]++
		if err != nil {
			logger.Error("applying to job", zap.String("job_url", url), zap.Error(err))
		}
	}

	logger.Info("done",
		zap.Int("submitted", counts[application.StateSubmitted]),
		zap.Int("skipped", counts[application.StateSkipped]),
		zap.Int("aborted", counts[application.StateAborted]),
	)
}

func confirm(label string) bool {
	prompt := promptui.Select{
		Label: label,
		Items: []string{PromptYes, PromptNo},
	}

	_, answer, err := prompt.Run()
	if err != nil {
		return false
	}
	return answer == PromptYes
}
