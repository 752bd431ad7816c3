package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ExitError carries a non-zero exit code out of a cobra command.
type ExitError struct {
	Code int
}

func (e ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// NewJobsCommand builds `jobs trigger <process|reap>` and `jobs stats`.
// open is called once per invocation and the returned helpers are closed
// when the command finishes.
func NewJobsCommand(open func() *JobsCLI) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:           "jobs",
		Short:         "Manage the compliance queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: `  fawtara jobs trigger process --batches 3
  fawtara jobs trigger reap
  fawtara jobs stats`,
	}

	run := func(cmd *cobra.Command, opts JobsOptions) error {
		jobsCLI := open()
		defer func() {
			_ = jobsCLI.Close()
		}()
		opts.Stdout = cmd.OutOrStdout()
		opts.Stderr = cmd.ErrOrStderr()
		if code := jobsCLI.Command(cmd.Context(), opts); code != 0 {
			return ExitError{Code: code}
		}
		return nil
	}

	triggerCmd := &cobra.Command{
		Use:       "trigger <process|reap>",
		Short:     "Enqueue a compliance task",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"process", "reap"},
		RunE: func(cmd *cobra.Command, args []string) error {
			batches, _ := cmd.Flags().GetInt("batches")
			if batches <= 0 {
				return errors.New("batches must be positive")
			}
			return run(cmd, JobsOptions{Action: "trigger", Job: args[0], MaxBatches: batches})
		},
	}
	triggerCmd.Flags().Int("batches", 1, "Maximum batches drained by a process run")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print queue statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, JobsOptions{Action: "stats"})
		},
	}

	jobsCmd.AddCommand(triggerCmd, statsCmd)
	return jobsCmd
}
