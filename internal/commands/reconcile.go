package commands

import (
	"github.com/spf13/cobra"
)

func newReconcileCommand() *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Audit every account balance against its active entries",
		Long: `Recomputes each account balance from its active ledger entries and
compares it with the stored running balance. With --repair, drifted
balances are rewritten. Drift can only appear after a crash between an
entry write and its balance delta; normal operation never needs this.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			accounts, err := app.store.ListAccounts(ctx)
			if err != nil {
				return err
			}

			drifted := 0
			for _, account := range accounts {
				report, err := app.ledger.Reconcile(ctx, account.ID, repair)
				if err != nil {
					return err
				}
				if report.InSync() {
					cmd.Printf("%s  %-20s balance=%s entries=%d ok\n",
						account.ID, account.Label, report.Stored, report.Entries)
					continue
				}
				drifted++
				status := "DRIFT"
				if report.Repaired {
					status = "repaired"
				}
				cmd.Printf("%s  %-20s stored=%s computed=%s drift=%s %s\n",
					account.ID, account.Label, report.Stored, report.Computed,
					report.Drift, status)
			}

			if drifted > 0 && !repair {
				cmd.Println("run again with --repair to rewrite drifted balances")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "rewrite drifted balances")
	return cmd
}
