package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"tunnel-reaper/scheduler"
)

type sweepOutput struct {
	scheduler.SweepResult
	DryRun  bool     `json:"dry_run"`
	Cleaned []string `json:"cleaned,omitempty"`
	Retry   []string `json:"retry,omitempty"`
}

func newSweepCmd(flags *globalFlags) *cobra.Command {
	var dryRun, force bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation sweep",
		Long: `Run one reconciliation sweep and print its result as JSON.

Without --dry-run, every stale job is deregistered once. Failed
deregistrations are not retried by this command; the next sweep picks them
up again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if !dryRun {
				if err := a.checkSweepable(force); err != nil {
					return err
				}
			}

			q := &scheduler.ListQueue{}
			sched, err := a.scheduler(q)
			if err != nil {
				return err
			}

			res, err := sched.ReconcileAll(cmd.Context())
			if err != nil {
				return err
			}

			out := sweepOutput{SweepResult: res, DryRun: dryRun}
			if !dryRun {
				out.Cleaned, out.Retry = a.runDue(cmd.Context(), sched, q)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			if len(out.Retry) > 0 {
				return fmt.Errorf("%d cleanups failed", len(out.Retry))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report stale jobs without deregistering them")
	cmd.Flags().BoolVar(&force, "force", false, "sweep even with the memory session registry")
	return cmd
}
