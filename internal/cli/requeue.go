package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <app> <job_id>",
		Short: "Re-create a queue entry for a claimed but unconsumed job",
		Long: "Administrative recovery: puts the job back at the tail of its app's\n" +
			"queue without touching its recorded status. Use when a claim was lost\n" +
			"without the entry being consumed.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, jobID := args[0], args[1]

			client, err := connect()
			if err != nil {
				return err
			}
			defer client.Close()

			co, _, cleanup, err := newCoordinator(client)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := co.Requeue(app, jobID); err != nil {
				return fmt.Errorf("requeue %s/%s: %w", app, jobID, err)
			}
			fmt.Printf("re-queued %s %s\n", app, jobID)
			return nil
		},
	}
}
