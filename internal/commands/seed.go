package commands

import (
	"github.com/spf13/cobra"

	"comptes/internal/core"
)

func newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create a default account and example recurring rules",
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
			if len(accounts) > 0 {
				cmd.Println("store already seeded, nothing to do")
				return nil
			}

			account, err := app.store.PutAccount(ctx, core.Account{
				Label:    "Compte courant",
				Currency: "EUR",
			})
			if err != nil {
				return err
			}
			cmd.Printf("created account %s (%s)\n", account.ID, account.Label)

			today := core.Today()
			seeds := []core.RecurringRule{
				{
					Label:           "Loyer",
					Amount:          core.Money{Cents: -85000},
					FrequencyMonths: 1,
					StartDate:       core.NewDate(today.Year, today.Month, 1),
					Active:          true,
					AccountID:       account.ID,
				},
				{
					Label:           "Assurance habitation",
					Amount:          core.Money{Cents: -2350},
					FrequencyMonths: 3,
					StartDate:       core.NewDate(today.Year, today.Month, 5),
					Active:          true,
					AccountID:       account.ID,
				},
			}
			for _, seed := range seeds {
				rule, err := app.rules.Create(ctx, seed)
				if err != nil {
					return err
				}
				cmd.Printf("created rule %s (%s, every %d month(s))\n",
					rule.ID, rule.Label, rule.FrequencyMonths)
			}

			return nil
		},
	}
}
