// Package services provides the business logic: occurrence scheduling,
// materialization of recurring rules into ledger entries, balance
// maintenance and the batch processor run at session start.
package services

import (
	"comptes/internal/core"
)

// Occurrence is one due calendar date computed from a recurring rule, not
// yet necessarily materialized into a ledger entry.
type Occurrence struct {
	Date   core.Date
	Amount core.Money
}

// backfillHorizonYears bounds how far back occurrences are generated. A
// corrupted or ancient start_date must not flood the ledger with years of
// backfill; anything older than the horizon is skipped, but the scan keeps
// advancing so recent periods are still emitted.
const backfillHorizonYears = 5

// DueOccurrences computes, in ascending order, every occurrence of the rule
// that is due as of today (inclusive). It is a pure function of its inputs.
//
// The scan starts from the period after the watermark (last_execution) when
// one exists, otherwise from the start_date's month. Each period's candidate
// day is the rule's day-of-month clamped to the end of that month, so a
// day-31 rule yields Feb 28/29, Apr 30 and so on. The cursor advances in
// whole (year, month) steps of frequency_months, never from a clamped date
// (which would drift), so any frequency works, including ones that do not
// divide 12.
func DueOccurrences(rule core.RecurringRule, today core.Date) []Occurrence {
	if !rule.Active || rule.Deleted() {
		return nil
	}
	if rule.FrequencyMonths < 1 || rule.DayOfMonth < 1 {
		// Pre-validated upstream; refuse to loop forever on bad data.
		return nil
	}

	var cursor core.Date
	if rule.LastExecution != nil {
		// Resume from the period after the last materialized one.
		le := *rule.LastExecution
		cursor = core.NewDate(le.Year, le.Month, 1).AddMonths(rule.FrequencyMonths)
	} else {
		cursor = core.NewDate(rule.StartDate.Year, rule.StartDate.Month, 1)
	}

	floor := today.AddYears(-backfillHorizonYears)

	var out []Occurrence
	for {
		candidate := cursor.WithDayClamped(rule.DayOfMonth)
		if candidate.After(today) {
			break
		}
		if !candidate.Before(floor) {
			out = append(out, Occurrence{Date: candidate, Amount: rule.Amount})
		}
		cursor = cursor.AddMonths(rule.FrequencyMonths)
	}
	return out
}
