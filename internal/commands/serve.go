package commands

import (
	"context"
	"errors"
	"log/slog"
	nethttp "net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	appamqp "comptes/internal/amqp"
	"comptes/internal/core"
	apphttp "comptes/internal/http"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic recurring processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			handler := apphttp.NewHandler(app.store, app.ledger, app.rules, app.processor)
			srv := apphttp.NewServer(":"+app.cfg.Port, handler)

			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				slog.Info("HTTP server listening", "addr", srv.Addr, "backend", app.cfg.DataBackend)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
					return err
				}
				return nil
			})

			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			if app.events != nil {
				g.Go(func() error {
					err := app.events.ConsumeChanges(ctx, func(msg *appamqp.ChangeMessage) error {
						// Hook point for multi-device refresh; for now the
						// event is surfaced in the log.
						slog.InfoContext(ctx, "Change event received",
							"collection", msg.Collection,
							"id", msg.ID,
							"revision", msg.Revision,
							"deleted", msg.Deleted)
						return nil
					})
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				})
			}

			// Session-start processing, then periodic re-runs. Reruns are
			// cheap: the dedup scan makes a same-day pass a no-op.
			g.Go(func() error {
				runRecurring(ctx, app)

				ticker := time.NewTicker(app.cfg.RecurringInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
						runRecurring(ctx, app)
					}
				}
			})

			if err := g.Wait(); err != nil {
				return err
			}
			slog.Info("Shutdown complete")
			return nil
		},
	}
}

func runRecurring(ctx context.Context, app *app) {
	summary, err := app.processor.ProcessAll(ctx, core.Today())
	if err != nil {
		// Never fatal: the next tick (or next session) retries safely.
		slog.ErrorContext(ctx, "Recurring processing failed",
			"error", err,
			"created", summary.Created,
			"errors", summary.Errors)
		return
	}
	if summary.Created > 0 || summary.Errors > 0 {
		slog.InfoContext(ctx, "Recurring processing run finished",
			"created", summary.Created,
			"skipped", summary.Skipped,
			"errors", summary.Errors)
	}
}
