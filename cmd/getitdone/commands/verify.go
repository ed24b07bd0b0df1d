package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/slyt3/GetItDone/internal/ledger/audit"
)

func newVerifyCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [task-id]",
		Short: "Validate ledger hash chains and signatures",
		Long: `Checks seq continuity, hash linkage and Ed25519 signatures of the ledger.
With a task id only that task's chain is checked; otherwise every task is.
Exits non-zero when any chain is invalid.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(o.cfg, nil, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			var results []*audit.Result
			if len(args) == 1 {
				res, err := rt.engine.VerifyTask(cmd.Context(), operator, args[0])
				if err != nil {
					return err
				}
				results = append(results, res)
			} else {
				results, err = rt.engine.VerifyAll(cmd.Context())
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			invalid := 0
			for _, res := range results {
				if res.Valid {
					fmt.Fprintf(out, "[OK]   %s (%d entries)\n", res.TaskID, res.Entries)
					continue
				}
				invalid++
				fmt.Fprintf(out, "[FAIL] %s at seq %d: %s\n", res.TaskID, res.FailedAtSeq, res.ErrorMessage)
			}
			fmt.Fprintf(out, "verified %d tasks, %d invalid\n", len(results), invalid)
			if invalid > 0 {
				return fmt.Errorf("%d ledger chains failed verification", invalid)
			}
			return nil
		},
	}
}
