package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/halcyonops/rollout/internal/deploy"
	"github.com/halcyonops/rollout/internal/history"
)

var (
	historyLimit int
	historyRunID int64
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent rollout runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.HistoryDB == "" {
			return fmt.Errorf("history is disabled (history_db is empty)")
		}

		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()

		if historyRunID > 0 {
			return printRunDetail(ctx, store, historyRunID)
		}

		runs, err := store.RecentRuns(ctx, historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No recorded runs.")
			return nil
		}

		fmt.Printf("%-5s %-20s %-25s %-7s %-7s\n", "ID", "STARTED", "INSTALLER", "TOTAL", "FAILED")
		for _, r := range runs {
			fmt.Printf("%-5d %-20s %-25s %-7d %-7d\n",
				r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Installer, r.Total, r.Failed)
		}
		return nil
	},
}

func printRunDetail(ctx context.Context, store *history.Store, runID int64) error {
	results, err := store.RunResults(ctx, runID)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("no results for run %d", runID)
	}

	fmt.Printf("%-30s %-15s %-12s %-15s %s\n", "TARGET", "ADDRESS", "STAGE", "REASON", "DETAIL")
	for _, r := range results {
		reason := string(r.Reason)
		if r.Outcome == deploy.OutcomeSuccess {
			reason = "ok"
		}
		fmt.Printf("%-30s %-15s %-12s %-15s %s\n",
			r.Target, r.AddressUsed, r.StageReached, reason, r.Detail)
	}
	return nil
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to list")
	historyCmd.Flags().Int64Var(&historyRunID, "run", 0, "show per-target results for one run")
	rootCmd.AddCommand(historyCmd)
}
