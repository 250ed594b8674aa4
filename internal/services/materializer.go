package services

import (
	"context"
	"fmt"
	"log/slog"

	"comptes/internal/core"
	"comptes/internal/store"
)

// Summary aggregates the outcome of a materialization run.
type Summary struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Add accumulates another summary into s.
func (s *Summary) Add(o Summary) {
	s.Created += o.Created
	s.Skipped += o.Skipped
	s.Errors += o.Errors
}

// Materializer turns due occurrences of a recurring rule into ledger entries
// and advances the rule's watermark.
type Materializer struct {
	store  store.Store
	ledger *Ledger
}

func NewMaterializer(st store.Store, ledger *Ledger) *Materializer {
	return &Materializer{store: st, ledger: ledger}
}

// existingDates returns the set of calendar dates already materialized for
// the rule. Soft-deleted entries are included on purpose: a transaction the
// user explicitly deleted must never be resurrected. The store has no
// uniqueness constraint on (rule, date); this lookup is the sole
// anti-duplicate mechanism.
func (m *Materializer) existingDates(ctx context.Context, ruleID string) (map[core.Date]struct{}, error) {
	entries, err := m.store.ListEntriesByRule(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("list entries for rule %s: %w", ruleID, err)
	}
	dates := make(map[core.Date]struct{}, len(entries))
	for _, e := range entries {
		dates[e.EntryDate()] = struct{}{}
	}
	return dates, nil
}

// Materialize creates the missing ledger entries for every due-and-not-yet-
// materialized occurrence of the rule, in date order. A store failure on one
// occurrence is counted and logged but does not abort the remaining ones.
// If at least one entry was created, the watermark advances to the date of
// the last occurrence attempted, so the next run resumes from the following
// period instead of re-scanning the whole window.
func (m *Materializer) Materialize(ctx context.Context, rule core.RecurringRule, today core.Date) (Summary, error) {
	due := DueOccurrences(rule, today)
	if len(due) == 0 {
		return Summary{}, nil
	}

	existing, err := m.existingDates(ctx, rule.ID)
	if err != nil {
		return Summary{Errors: 1}, err
	}

	var toCreate []Occurrence
	for _, occ := range due {
		if _, ok := existing[occ.Date]; !ok {
			toCreate = append(toCreate, occ)
		}
	}

	if len(toCreate) == 0 {
		// Everything already materialized (or explicitly deleted).
		return Summary{Skipped: len(due)}, nil
	}

	summary := Summary{Skipped: len(due) - len(toCreate)}
	for _, occ := range toCreate {
		entry := core.LedgerEntry{
			Date:          occ.Date.Time(), // midnight UTC, exactly
			Amount:        occ.Amount,
			AccountID:     rule.AccountID,
			CategoryID:    rule.CategoryID,
			PayeeID:       rule.PayeeID,
			ExpenseTypeID: rule.ExpenseTypeID,
			Description:   rule.Label,
			RuleID:        rule.ID,
		}
		if _, err := m.ledger.CreateEntry(ctx, entry); err != nil {
			summary.Errors++
			slog.ErrorContext(ctx, "Failed to materialize occurrence",
				"rule_id", rule.ID,
				"libelle", rule.Label,
				"date", occ.Date.String(),
				"error", err)
			continue
		}
		summary.Created++
	}

	if summary.Created > 0 {
		// Watermark = last occurrence attempted, regardless of individual
		// failures; retries for failed dates go through the dedup scan.
		last := toCreate[len(toCreate)-1].Date
		if rule.LastExecution == nil || last.After(*rule.LastExecution) {
			rule.LastExecution = &last
			if _, err := m.store.PutRule(ctx, rule); err != nil {
				// Best effort: next run re-scans and dedups.
				slog.ErrorContext(ctx, "Failed to advance rule watermark",
					"rule_id", rule.ID,
					"last_execution", last.String(),
					"error", err)
			}
		}
	}

	return summary, nil
}
