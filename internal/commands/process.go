package commands

import (
	"github.com/spf13/cobra"

	"comptes/internal/core"
)

func newProcessCommand() *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run one recurring-expense materialization pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			today := core.Today()
			if asOf != "" {
				today, err = core.ParseDate(asOf)
				if err != nil {
					return err
				}
			}

			summary, err := app.processor.ProcessAll(cmd.Context(), today)
			if err != nil {
				return err
			}

			cmd.Printf("created=%d skipped=%d errors=%d\n",
				summary.Created, summary.Skipped, summary.Errors)
			return nil
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "process as of this date (2006-01-02, default today)")
	return cmd
}
