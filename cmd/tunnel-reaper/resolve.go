package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResolveCmd(flags *globalFlags) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "resolve SERVICE",
		Short: "Resolve a service through DNS SRV records",
		Long: `Print one endpoint drawn from the preferred priority tier of SERVICE, or
every endpoint of that tier with --all.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.discovery.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !all {
				fmt.Fprintln(out, svc.URL())
				return nil
			}
			for _, ep := range svc.Entries() {
				fmt.Fprintln(out, ep.String())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "print every endpoint of the tier")
	return cmd
}
