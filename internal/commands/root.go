// Package commands wires the CLI: serve, process, reconcile and seed.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	appamqp "comptes/internal/amqp"
	"comptes/internal/config"
	"comptes/internal/services"
	"comptes/internal/store"
	"comptes/internal/store/memory"
	"comptes/internal/store/sqlite"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "comptes",
		Short: "Family finance ledger with recurring-expense materialization",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newProcessCommand())
	rootCmd.AddCommand(newReconcileCommand())
	rootCmd.AddCommand(newSeedCommand())

	return rootCmd
}

// app bundles everything a subcommand needs.
type app struct {
	cfg       *config.Config
	store     store.Store
	events    *appamqp.Client // nil when AMQP is not configured
	ledger    *services.Ledger
	rules     *services.Rules
	processor *services.RecurringProcessor
}

func (a *app) Close() {
	if a.events != nil {
		a.events.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// newApp loads config, opens the store and builds the service graph.
// AMQP failures degrade to local-only mode instead of aborting.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		st  store.Store
		err error
	)
	switch cfg.DataBackend {
	case "sqlite":
		st, err = sqlite.New(cfg.SQLiteDBPath, cfg.DeviceID)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
	default:
		st = memory.New(cfg.DeviceID)
	}

	var events *appamqp.Client
	if cfg.AMQPURL != "" {
		events, err = appamqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			cmd.PrintErrf("AMQP unavailable, continuing without change events: %v\n", err)
			events = nil
		}
	}

	// ChangePublisher is an interface; a typed nil pointer would not compare
	// equal to nil inside the services, hence the explicit split.
	var publisher services.ChangePublisher
	if events != nil {
		publisher = events
	}

	ledger := services.NewLedger(st, publisher)
	return &app{
		cfg:       cfg,
		store:     st,
		events:    events,
		ledger:    ledger,
		rules:     services.NewRules(st, publisher),
		processor: services.NewRecurringProcessor(st, services.NewMaterializer(st, ledger)),
	}, nil
}
