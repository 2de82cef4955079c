package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var flagJSON bool

	cmd := &cobra.Command{
		Use:   "status <app> <job_id>",
		Short: "Show the full coordination state of a job",
		Args:  cobra.ExactArgs(2),
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

			view, err := co.Status(app, jobID)
			if err != nil {
				return fmt.Errorf("status %s/%s: %w", app, jobID, err)
			}

			if flagJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}

			fmt.Printf("Job: %s %s\n", app, jobID)
			fmt.Printf("  State:         %s\n", view.State)
			fmt.Printf("  In queue:      %t\n", view.InQueue)
			fmt.Printf("  Execute locks: %d\n", view.NumExecuteLocks)
			fmt.Printf("  Add locks:     %d\n", view.NumAddLocks)
			fmt.Printf("  Queue size:    %d\n", view.QueueSize)
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagJSON, "json", false, "Emit the raw status view as JSON")
	return cmd
}
