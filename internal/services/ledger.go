package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"comptes/internal/core"
	"comptes/internal/store"
)

// ChangePublisher receives lightweight change events after every ledger or
// rule mutation, so other devices can pull the new revision. Publishing is
// always best-effort: a failure is logged, never propagated.
type ChangePublisher interface {
	PublishChange(ctx context.Context, collection, recordID string, revision int64, deleted bool) error
}

// Ledger owns every ledger-entry mutation and keeps each account's stored
// balance equal to initial_balance plus the signed sum of its active
// entries. The balance is maintained with point deltas on create, amount
// update and soft delete; it is never recomputed in the steady state.
//
// There is no transaction spanning the entry write and the balance write: a
// crash in between leaves the balance off by one entry until Reconcile runs.
// The entry itself is never duplicated on retry because materialization
// dedups on (rule, date).
type Ledger struct {
	store  store.Store
	events ChangePublisher // nil disables publishing
}

func NewLedger(st store.Store, events ChangePublisher) *Ledger {
	return &Ledger{store: st, events: events}
}

// CreateEntry validates and persists a new entry, then credits its amount to
// the account balance.
func (l *Ledger) CreateEntry(ctx context.Context, e core.LedgerEntry) (core.LedgerEntry, error) {
	if err := e.Validate(); err != nil {
		return core.LedgerEntry{}, err
	}
	if _, err := l.store.GetAccount(ctx, e.AccountID); err != nil {
		return core.LedgerEntry{}, fmt.Errorf("entry account %s: %w", e.AccountID, err)
	}

	saved, err := l.store.PutEntry(ctx, e)
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("save entry: %w", err)
	}

	if err := l.adjustBalance(ctx, saved.AccountID, saved.Amount); err != nil {
		// Entry exists but its balance delta is missing; Reconcile repairs.
		return saved, fmt.Errorf("apply balance delta: %w", err)
	}

	l.publish(ctx, "ledger_entries", saved.ID, saved.Revision, false)
	return saved, nil
}

// UpdateEntry applies a user edit. A changed amount adjusts the account by
// the difference; a changed account is treated as a removal from the old
// account and an addition to the new one.
func (l *Ledger) UpdateEntry(ctx context.Context, e core.LedgerEntry) (core.LedgerEntry, error) {
	if err := e.Validate(); err != nil {
		return core.LedgerEntry{}, err
	}

	old, err := l.store.GetEntry(ctx, e.ID)
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("load entry %s: %w", e.ID, err)
	}
	if old.Deleted() {
		return core.LedgerEntry{}, core.ErrRecordDeleted
	}
	if _, err := l.store.GetAccount(ctx, e.AccountID); err != nil {
		return core.LedgerEntry{}, fmt.Errorf("entry account %s: %w", e.AccountID, err)
	}

	// The rule back-reference is immutable; it is the dedup key.
	e.RuleID = old.RuleID
	e.Meta = old.Meta

	saved, err := l.store.PutEntry(ctx, e)
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("save entry: %w", err)
	}

	if old.AccountID != saved.AccountID {
		if err := l.adjustBalance(ctx, old.AccountID, old.Amount.Neg()); err != nil {
			return saved, fmt.Errorf("reverse old account balance: %w", err)
		}
		if err := l.adjustBalance(ctx, saved.AccountID, saved.Amount); err != nil {
			return saved, fmt.Errorf("apply new account balance: %w", err)
		}
	} else if delta := saved.Amount.Sub(old.Amount); !delta.IsZero() {
		if err := l.adjustBalance(ctx, saved.AccountID, delta); err != nil {
			return saved, fmt.Errorf("apply balance delta: %w", err)
		}
	}

	l.publish(ctx, "ledger_entries", saved.ID, saved.Revision, false)
	return saved, nil
}

// SoftDeleteEntry tombstones the entry and reverses its balance
// contribution. Deleting an already-deleted entry is a no-op, so the
// reversal can never be applied twice.
func (l *Ledger) SoftDeleteEntry(ctx context.Context, entryID string) error {
	e, err := l.store.GetEntry(ctx, entryID)
	if err != nil {
		return fmt.Errorf("load entry %s: %w", entryID, err)
	}
	if e.Deleted() {
		return nil
	}

	if err := l.store.SoftDeleteEntry(ctx, entryID); err != nil {
		return fmt.Errorf("soft delete entry: %w", err)
	}

	if err := l.adjustBalance(ctx, e.AccountID, e.Amount.Neg()); err != nil {
		return fmt.Errorf("reverse balance delta: %w", err)
	}

	l.publish(ctx, "ledger_entries", entryID, e.Revision+1, true)
	return nil
}

func (l *Ledger) adjustBalance(ctx context.Context, accountID string, delta core.Money) error {
	account, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", accountID, err)
	}
	account.Balance = account.Balance.Add(delta)
	if _, err := l.store.PutAccount(ctx, account); err != nil {
		return fmt.Errorf("save account %s: %w", accountID, err)
	}
	return nil
}

func (l *Ledger) publish(ctx context.Context, collection, recordID string, revision int64, deleted bool) {
	if l.events == nil {
		return
	}
	if err := l.events.PublishChange(ctx, collection, recordID, revision, deleted); err != nil {
		slog.WarnContext(ctx, "Failed to publish change event",
			"collection", collection,
			"id", recordID,
			"error", err)
	}
}

// ReconcileReport compares an account's stored balance against the sum of
// its active entries.
type ReconcileReport struct {
	AccountID string     `json:"account_id"`
	Stored    core.Money `json:"stored_balance"`
	Computed  core.Money `json:"computed_balance"`
	Drift     core.Money `json:"drift"`
	Entries   int        `json:"entries"`
	Repaired  bool       `json:"repaired"`
}

// InSync reports whether the stored balance matches the recomputed one.
func (r ReconcileReport) InSync() bool {
	return r.Drift.IsZero()
}

// Reconcile is the audit pass: it recomputes the balance from scratch and,
// when repair is requested, rewrites the stored balance. Not part of normal
// operation, where the incremental invariant is expected to hold; it is the
// recovery tool for a crash between an entry write and its balance delta.
func (l *Ledger) Reconcile(ctx context.Context, accountID string, repair bool) (ReconcileReport, error) {
	account, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("load account %s: %w", accountID, err)
	}

	entries, err := l.store.ListActiveEntriesByAccount(ctx, accountID)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("list entries for %s: %w", accountID, err)
	}

	computed := account.InitialBalance
	for _, e := range entries {
		computed = computed.Add(e.Amount)
	}

	report := ReconcileReport{
		AccountID: accountID,
		Stored:    account.Balance,
		Computed:  computed,
		Drift:     account.Balance.Sub(computed),
		Entries:   len(entries),
	}

	if !report.InSync() {
		slog.WarnContext(ctx, "Account balance drift detected",
			"account_id", accountID,
			"stored", report.Stored.Cents,
			"computed", report.Computed.Cents,
			"drift", report.Drift.Cents)
		if repair {
			account.Balance = computed
			if _, err := l.store.PutAccount(ctx, account); err != nil {
				return report, fmt.Errorf("repair account %s: %w", accountID, err)
			}
			report.Repaired = true
			slog.InfoContext(ctx, "Account balance repaired",
				"account_id", accountID,
				"balance", computed.Cents)
		}
	}

	return report, nil
}

// IsNotFound reports whether err is the store's missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
