package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tunnel-reaper/scheduler"
)

func newCleanupCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup JOB_ID",
		Short: "Deregister one job",
		Long: `Run a single deregistration attempt for JOB_ID. A job that no longer
exists counts as cleaned up.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			q := &scheduler.ListQueue{}
			sched, err := a.scheduler(q)
			if err != nil {
				return err
			}
			if err := sched.ScheduleCleanup(cmd.Context(), args[0], 0); err != nil {
				return err
			}

			done, failed := a.runDue(cmd.Context(), sched, q)
			if len(failed) > 0 {
				return fmt.Errorf("cleanup %s failed, see log", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), done[0])
			return nil
		},
	}
}
