package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBalanceCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <task-id>",
		Short: "Show the money a task's ledger has moved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(o.cfg, nil, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			b, err := rt.engine.Balance(cmd.Context(), operator, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Task:      %s (%s)\n", b.TaskID, b.Currency)
			fmt.Fprintf(out, "Charged:   %s\n", b.Charged)
			fmt.Fprintf(out, "Held:      %s\n", b.Held)
			fmt.Fprintf(out, "Released:  %s\n", b.Released)
			fmt.Fprintf(out, "Refunded:  %s\n", b.Refunded)
			fmt.Fprintf(out, "Fees:      %s\n", b.Fees)
			fmt.Fprintf(out, "Paid out:  %s\n", b.PaidOut)
			fmt.Fprintf(out, "Escrow:    %s\n", b.Escrow())
			fmt.Fprintf(out, "Unpaid:    %s\n", b.Unpaid())
			fmt.Fprintf(out, "Entries:   %d (%d failed payouts)\n", b.Entries, b.FailedPayouts)
			return nil
		},
	}
}
