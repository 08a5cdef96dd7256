package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spigell/auto-applier/internal/history"
	"github.com/spigell/auto-applier/internal/storage"
	"github.com/spigell/auto-applier/internal/utils"
	"go.uber.org/zap"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent application runs",
	Run: func(cmd *cobra.Command, _ []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		showHistory(limit)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntP("limit", "n", 20, "how many runs to show")
}

func showHistory(limit int) {
	ctx := context.Background()
	logger, config := setup()

	db, err := storage.Open(config.Database)
	if err != nil {
		logger.Fatal("opening database", zap.Error(err))
	}
	defer db.Close()

	entries, err := history.New(db).Recent(ctx, limit)
	if err != nil {
		logger.Fatal("reading history", zap.Error(err))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSTATE\tURL\tRESUME\tRESULT")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime),
			e.State,
			e.URL,
			e.Resume,
			utils.TruncateForLog(e.Result, 60),
		)
	}
	w.Flush()
}
