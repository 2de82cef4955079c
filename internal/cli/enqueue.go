package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEnqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <app> <job_id>",
		Short: "Add a job to an app's queue",
		Long: "Adds the job to the app's queue and marks it pending. Idempotent:\n" +
			"a job already queued or already in a terminal state is left alone.",
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

			added, err := co.Enqueue(cmd.Context(), app, jobID)
			if err != nil {
				return fmt.Errorf("enqueue %s/%s: %w", app, jobID, err)
			}
			if added {
				fmt.Printf("queued %s %s\n", app, jobID)
			} else {
				fmt.Printf("skipped %s %s (already queued or terminal)\n", app, jobID)
			}
			return nil
		},
	}
}
