package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"comptes/internal/core"
	"comptes/internal/store/memory"
)

func newTestAccount(t *testing.T, st *memory.Store, initial int64) core.Account {
	t.Helper()
	account, err := st.PutAccount(context.Background(), core.Account{
		Label:          "Compte courant",
		Currency:       "EUR",
		InitialBalance: core.Money{Cents: initial},
		Balance:        core.Money{Cents: initial},
	})
	require.NoError(t, err)
	return account
}

func balanceOf(t *testing.T, st *memory.Store, accountID string) int64 {
	t.Helper()
	account, err := st.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	return account.Balance.Cents
}

func TestLedger_CreateThenSoftDelete_BalanceReturnsToZero(t *testing.T) {
	ctx := context.Background()
	st := memory.New("test-device")
	ledger := NewLedger(st, nil)
	account := newTestAccount(t, st, 0)

	entry, err := ledger.CreateEntry(ctx, core.LedgerEntry{
		Date:      core.NewDate(2024, 3, 1).Time(),
		Amount:    core.Money{Cents: 150000},
		AccountID: account.ID,
	})
	require.NoError(t, err)
	require.Equal(t, int64(150000), balanceOf(t, st, account.ID))

	require.NoError(t, ledger.SoftDeleteEntry(ctx, entry.ID))
	require.Equal(t, int64(0), balanceOf(t, st, account.ID))

	// The tombstone stays behind.
	got, err := st.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.True(t, got.Deleted())
}

func TestLedger_SoftDeleteTwice_ReversesOnlyOnce(t *testing.T) {
	ctx := context.Background()
	st := memory.New("test-device")
	ledger := NewLedger(st, nil)
	account := newTestAccount(t, st, 0)

	entry, err := ledger.CreateEntry(ctx, core.LedgerEntry{
		Date:      core.NewDate(2024, 3, 1).Time(),
		Amount:    core.Money{Cents: -4800},
		AccountID: account.ID,
	})
	require.NoError(t, err)

	require.NoError(t, ledger.SoftDeleteEntry(ctx, entry.ID))
	require.NoError(t, ledger.SoftDeleteEntry(ctx, entry.ID))
	require.Equal(t, int64(0), balanceOf(t, st, account.ID))
}

func TestLedger_UpdateAmount_AppliesDelta(t *testing.T) {
	ctx := context.Background()
	st := memory.New("test-device")
	ledger := NewLedger(st, nil)
	account := newTestAccount(t, st, 10000)

	entry, err := ledger.CreateEntry(ctx, core.LedgerEntry{
		Date:      core.NewDate(2024, 3, 1).Time(),
		Amount:    core.Money{Cents: -3000},
		AccountID: account.ID,
	})
	require.NoError(t, err)
	require.Equal(t, int64(7000), balanceOf(t, st, account.ID))

	entry.Amount = core.Money{Cents: -5000}
	_, err = ledger.UpdateEntry(ctx, entry)
	require.NoError(t, err)
	require.Equal(t, int64(5000), balanceOf(t, st, account.ID))
}

func TestLedger_UpdateAccount_MovesContribution(t *testing.T) {
	ctx := context.Background()
	st := memory.New("test-device")
	ledger := NewLedger(st, nil)
	first := newTestAccount(t, st, 0)
	second := newTestAccount(t, st, 0)

	entry, err := ledger.CreateEntry(ctx, core.LedgerEntry{
		Date:      core.NewDate(2024, 3, 1).Time(),
		Amount:    core.Money{Cents: -2500},
		AccountID: first.ID,
	})
	require.NoError(t, err)
	require.Equal(t, int64(-2500), balanceOf(t, st, first.ID))

	// Moving the entry removes it from the old account and adds it to the
	// new one, with the new amount.
	entry.AccountID = second.ID
	entry.Amount = core.Money{Cents: -4000}
	_, err = ledger.UpdateEntry(ctx, entry)
	require.NoError(t, err)

	require.Equal(t, int64(0), balanceOf(t, st, first.ID))
	require.Equal(t, int64(-4000), balanceOf(t, st, second.ID))
}

func TestLedger_BalanceInvariant_UnderMutationSequence(t *testing.T) {
	ctx := context.Background()
	st := memory.New("test-device")
	ledger := NewLedger(st, nil)
	account := newTestAccount(t, st, 12345)

	checkInvariant := func() {
		report, err := ledger.Reconcile(ctx, account.ID, false)
		require.NoError(t, err)
		require.True(t, report.InSync(),
			"stored=%d computed=%d", report.Stored.Cents, report.Computed.Cents)
	}

	var entries []core.LedgerEntry
	for _, cents := range []int64{-4800, 150000, -333, -85000, 12} {
		e, err := ledger.CreateEntry(ctx, core.LedgerEntry{
			Date:      core.NewDate(2024, 4, 2).Time(),
			Amount:    core.Money{Cents: cents},
			AccountID: account.ID,
		})
		require.NoError(t, err)
		entries = append(entries, e)
		checkInvariant()
	}

	entries[1].Amount = core.Money{Cents: 140000}
	_, err := ledger.UpdateEntry(ctx, entries[1])
	require.NoError(t, err)
	checkInvariant()

	require.NoError(t, ledger.SoftDeleteEntry(ctx, entries[0].ID))
	checkInvariant()
	require.NoError(t, ledger.SoftDeleteEntry(ctx, entries[3].ID))
	checkInvariant()
}

func TestLedger_UpdateDeletedEntry_Rejected(t *testing.T) {
	ctx := context.Background()
	st := memory.New("test-device")
	ledger := NewLedger(st, nil)
	account := newTestAccount(t, st, 0)

	entry, err := ledger.CreateEntry(ctx, core.LedgerEntry{
		Date:      core.NewDate(2024, 3, 1).Time(),
		Amount:    core.Money{Cents: -100},
		AccountID: account.ID,
	})
	require.NoError(t, err)
	require.NoError(t, ledger.SoftDeleteEntry(ctx, entry.ID))

	entry.Amount = core.Money{Cents: -200}
	_, err = ledger.UpdateEntry(ctx, entry)
	require.ErrorIs(t, err, core.ErrRecordDeleted)
}

type recordedChange struct {
	collection string
	id         string
	deleted    bool
}

type fakePublisher struct {
	changes []recordedChange
}

func (p *fakePublisher) PublishChange(_ context.Context, collection, recordID string, _ int64, deleted bool) error {
	p.changes = append(p.changes, recordedChange{collection, recordID, deleted})
	return nil
}

func TestLedger_PublishesChangeEvents(t *testing.T) {
	ctx := context.Background()
	st := memory.New("test-device")
	pub := &fakePublisher{}
	ledger := NewLedger(st, pub)
	account := newTestAccount(t, st, 0)

	entry, err := ledger.CreateEntry(ctx, core.LedgerEntry{
		Date:      core.NewDate(2024, 3, 1).Time(),
		Amount:    core.Money{Cents: -100},
		AccountID: account.ID,
	})
	require.NoError(t, err)
	require.NoError(t, ledger.SoftDeleteEntry(ctx, entry.ID))

	require.Equal(t, []recordedChange{
		{"ledger_entries", entry.ID, false},
		{"ledger_entries", entry.ID, true},
	}, pub.changes)
}

func TestLedger_Reconcile_RepairsDrift(t *testing.T) {
	ctx := context.Background()
	st := memory.New("test-device")
	ledger := NewLedger(st, nil)
	account := newTestAccount(t, st, 0)

	_, err := ledger.CreateEntry(ctx, core.LedgerEntry{
		Date:      core.NewDate(2024, 3, 1).Time(),
		Amount:    core.Money{Cents: -700},
		AccountID: account.ID,
	})
	require.NoError(t, err)

	// Simulate a crash that lost the balance delta.
	broken, err := st.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	broken.Balance = core.Money{Cents: 0}
	_, err = st.PutAccount(ctx, broken)
	require.NoError(t, err)

	report, err := ledger.Reconcile(ctx, account.ID, true)
	require.NoError(t, err)
	require.False(t, report.InSync())
	require.True(t, report.Repaired)
	require.Equal(t, int64(-700), balanceOf(t, st, account.ID))
}
