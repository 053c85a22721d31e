package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show past bring-up runs",
	Long: `history lists recorded bring-up runs with their outcome. With a run id
argument it shows that run's individual controller operations.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return showRunEvents(args[0])
		}

		runs, err := runStore.ListRuns(historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no bring-up runs recorded")
			return nil
		}

		statusFmt := func(status string) string {
			switch status {
			case "succeeded":
				return okFmt(status)
			case "failed":
				return failFmt(status)
			default:
				return color.YellowString(status)
			}
		}
		for _, r := range runs {
			fmt.Printf("%s  %-16s %-10s %s\n",
				r.StartedAt.Format("2006-01-02 15:04:05"), r.Board, statusFmt(r.Status), dimFmt(r.ID))
			if r.Detail != "" {
				fmt.Printf("    %s\n", dimFmt(r.Detail))
			}
		}
		return nil
	},
}

func showRunEvents(runID string) error {
	events, err := runStore.ListEvents(runID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Printf("no events for run %s\n", runID)
		return nil
	}
	for _, ev := range events {
		status := okFmt("ok")
		if ev.Status != "ok" {
			status = failFmt(ev.Status)
		}
		fmt.Printf("%3d  %-10s %-20s %s\n", ev.Seq, ev.Op, ev.Target, status)
	}
	return nil
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum runs to list")
	rootCmd.AddCommand(historyCmd)
}
