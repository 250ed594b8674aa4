package services

import (
	"context"
	"fmt"
	"log/slog"

	"comptes/internal/core"
	"comptes/internal/store"
)

// RecurringProcessor runs the materialization batch over all active rules.
// It is invoked once at session start and is safe to invoke again at any
// time: the dedup scan makes a same-day rerun yield created = 0.
type RecurringProcessor struct {
	store store.Store
	mat   *Materializer
}

func NewRecurringProcessor(st store.Store, mat *Materializer) *RecurringProcessor {
	return &RecurringProcessor{store: st, mat: mat}
}

// ProcessAll materializes every active, non-deleted rule as of today and
// aggregates the per-rule counters. A failure on one rule is counted and
// logged but never aborts the batch; only a systemic store failure (the
// rule listing itself) is returned, and even then alongside a summary so
// callers can report instead of blocking session startup.
func (p *RecurringProcessor) ProcessAll(ctx context.Context, today core.Date) (Summary, error) {
	if p.store == nil || p.mat == nil {
		return Summary{}, fmt.Errorf("processor not properly initialized")
	}

	rules, err := p.store.ListActiveRules(ctx)
	if err != nil {
		return Summary{Errors: 1}, fmt.Errorf("list active rules: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring rules",
		"total_rules", len(rules),
		"processing_date", today.String())

	var total Summary
	for _, rule := range rules {
		if !rule.Active {
			continue
		}

		summary, err := p.mat.Materialize(ctx, rule, today)
		total.Add(summary)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to materialize rule",
				"rule_id", rule.ID,
				"libelle", rule.Label,
				"error", err)
			continue
		}

		if summary.Created > 0 {
			slog.InfoContext(ctx, "Materialized recurring rule",
				"rule_id", rule.ID,
				"libelle", rule.Label,
				"created", summary.Created,
				"skipped", summary.Skipped,
				"errors", summary.Errors,
				"amount_cents", rule.Amount.Cents,
				"frequency_months", rule.FrequencyMonths)
		}
	}

	slog.InfoContext(ctx, "Recurring processing complete",
		"created", total.Created,
		"skipped", total.Skipped,
		"errors", total.Errors,
		"total_rules", len(rules))

	return total, nil
}
