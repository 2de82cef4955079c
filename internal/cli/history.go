package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/zkq/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var (
		flagApp   string
		flagLimit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from this worker's local run journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.HistoryDB == "" {
				return errors.New("no history_db configured")
			}

			hist, err := history.Open(cfg.HistoryDB, logger)
			if err != nil {
				return err
			}
			defer hist.Close()
			if err := hist.Migrate(cmd.Context()); err != nil {
				return err
			}

			runs, err := hist.Recent(cmd.Context(), flagApp, flagLimit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}

			for _, r := range runs {
				fmt.Printf("%s  %-8s  exit=%-3d  %8s  %s %s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					r.Outcome, r.ExitCode, r.Duration().Round(10*time.Millisecond),
					r.App, r.JobID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagApp, "app", "", "Only show runs for this app")
	cmd.Flags().IntVar(&flagLimit, "limit", 20, "Maximum number of runs to list")
	return cmd
}
