package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/zkq/internal/executor"
	"github.com/me/zkq/pkg/model"
)

func newRunCmd() *cobra.Command {
	var flagWatch int

	cmd := &cobra.Command{
		Use:   "run <app> <job_id> [-- extra args...]",
		Short: "Execute one job locally, bypassing the queue",
		Long: "Renders the app's command for the given job id and runs it under the\n" +
			"watchdog, without claiming or consuming any queue entry. Anything after\n" +
			"\"--\" is appended to the rendered command verbatim. Intended for\n" +
			"debugging job commands and watchdog settings.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, jobID := args[0], args[1]
			var extra []string
			if at := cmd.ArgsLenAtDash(); at >= 0 && at <= 2 {
				extra = args[2:]
			} else if len(args) > 2 {
				return fmt.Errorf("unexpected arguments %v; put pass-through args after --", args[2:])
			}

			appCfg, ok := cfg.App(app)
			if !ok {
				return fmt.Errorf("app %s is not configured", app)
			}
			command, err := appCfg.RenderCommand(app, jobID)
			if err != nil {
				return err
			}

			watch := appCfg.Watchdog()
			if cmd.Flags().Changed("watch") {
				watch = flagWatch
			}

			sh := executor.NewShell(logger)
			res, err := sh.Execute(cmd.Context(), &executor.Job{
				App:            app,
				JobID:          jobID,
				Command:        command,
				ExtraArgs:      extra,
				Dir:            appCfg.WorkDir,
				Env:            appCfg.Environ(),
				TimeoutSeconds: watch,
			})
			if err != nil {
				return err
			}

			fmt.Fprint(os.Stdout, res.Stdout)
			fmt.Fprint(os.Stderr, res.Stderr)
			if res.TimedOut {
				return fmt.Errorf("%s %s: %s after %d seconds", app, jobID, model.ReasonTimedOut, watch)
			}
			if res.ExitCode != 0 {
				return fmt.Errorf("%s %s: exit %d", app, jobID, res.ExitCode)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&flagWatch, "watch", -1, "Watchdog seconds for this run; negative disables (overrides config)")
	return cmd
}
