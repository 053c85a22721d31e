package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show firmware and run-history status",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := newEmulatorSession(time.Second)
		defer s.close()

		ver, err := s.ctrl.GetFirmwareVersion()
		if err != nil {
			return err
		}
		catalog, err := s.ctrl.ReadModuleDetails()
		if err != nil {
			return err
		}
		fmt.Printf("firmware   %s\n", ver)
		fmt.Printf("modules    %d types available\n", len(catalog))

		runs, err := runStore.ListRuns(1)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("bring-up   never run")
			return nil
		}
		r := runs[0]
		fmt.Printf("bring-up   last run %s on %s: %s\n",
			r.StartedAt.Format("2006-01-02 15:04:05"), r.Board, r.Status)
		if r.Detail != "" {
			fmt.Printf("           %s\n", dimFmt(r.Detail))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
