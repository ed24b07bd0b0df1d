package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReconcileCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Replay every task's ledger against its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(o.cfg, nil, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			reports, err := rt.engine.ReconcileAll(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(reports) == 0 {
				fmt.Fprintln(out, "all ledgers reconcile")
				return nil
			}
			for _, rep := range reports {
				fmt.Fprintf(out, "%s (%s): %s\n", rep.TaskID, rep.Status, rep.Error)
			}
			return fmt.Errorf("%d tasks do not reconcile", len(reports))
		},
	}
}
