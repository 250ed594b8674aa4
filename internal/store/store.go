// Package store defines the persistence contract shared by the memory and
// sqlite backends.
//
// The store is deliberately dumb: upserts, soft deletes and listing, nothing
// else. It enforces no uniqueness beyond primary keys; dedup of materialized
// occurrences is entirely the caller's job (services.Materializer), which is
// why the rule-scoped entry listing must include tombstoned records.
//
// Every Put stamps synchronization metadata on the record: the writing
// device's id, a monotonically increasing revision and an updated_at
// timestamp. Soft deletes keep the row and set deleted_at.
package store

import (
	"context"
	"errors"

	"comptes/internal/core"
)

// ErrNotFound is returned for lookups of ids the store has never seen.
var ErrNotFound = errors.New("record not found")

// Store is the entity store consumed by the services layer.
type Store interface {
	// Accounts. Accounts are never deleted, only rules and entries are.
	GetAccount(ctx context.Context, id string) (core.Account, error)
	PutAccount(ctx context.Context, a core.Account) (core.Account, error)
	ListAccounts(ctx context.Context) ([]core.Account, error)

	// Recurring rules.
	GetRule(ctx context.Context, id string) (core.RecurringRule, error)
	PutRule(ctx context.Context, r core.RecurringRule) (core.RecurringRule, error)
	SoftDeleteRule(ctx context.Context, id string) error
	// ListActiveRules returns non-tombstoned rules only; the Active flag is
	// not filtered here, callers decide.
	ListActiveRules(ctx context.Context) ([]core.RecurringRule, error)
	ListRules(ctx context.Context) ([]core.RecurringRule, error)

	// Ledger entries.
	GetEntry(ctx context.Context, id string) (core.LedgerEntry, error)
	PutEntry(ctx context.Context, e core.LedgerEntry) (core.LedgerEntry, error)
	SoftDeleteEntry(ctx context.Context, id string) error
	// ListEntriesByRule returns ALL entries generated from the rule,
	// INCLUDING tombstoned ones. A soft-deleted occurrence must keep
	// blocking re-materialization of its date.
	ListEntriesByRule(ctx context.Context, ruleID string) ([]core.LedgerEntry, error)
	ListActiveEntriesByAccount(ctx context.Context, accountID string) ([]core.LedgerEntry, error)
	ListActiveEntries(ctx context.Context) ([]core.LedgerEntry, error)

	Close() error
}
