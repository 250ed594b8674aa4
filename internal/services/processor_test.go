package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"comptes/internal/core"
	"comptes/internal/store/memory"
)

func TestProcessAll_AggregatesAcrossRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createRule(t, core.NewDate(2024, 1, 5), 1, -1200)  // Jan..Apr due
	f.createRule(t, core.NewDate(2024, 3, 20), 3, -5000) // Mar due

	summary, err := f.proc.ProcessAll(ctx, core.NewDate(2024, 4, 10))
	require.NoError(t, err)
	require.Equal(t, Summary{Created: 5}, summary)
	require.Equal(t, int64(-4*1200-5000), balanceOf(t, f.store, f.account.ID))
}

func TestProcessAll_SameDayRerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createRule(t, core.NewDate(2024, 1, 5), 1, -1200)
	today := core.NewDate(2024, 4, 10)

	first, err := f.proc.ProcessAll(ctx, today)
	require.NoError(t, err)
	require.Equal(t, 4, first.Created)

	second, err := f.proc.ProcessAll(ctx, today)
	require.NoError(t, err)
	require.Equal(t, 0, second.Created)
	require.Equal(t, 0, second.Errors)
	require.Equal(t, int64(-4*1200), balanceOf(t, f.store, f.account.ID))
}

func TestProcessAll_SkipsInactiveAndDeletedRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	active := f.createRule(t, core.NewDate(2024, 1, 5), 1, -1000)
	paused := f.createRule(t, core.NewDate(2024, 1, 5), 1, -9999)
	removed := f.createRule(t, core.NewDate(2024, 1, 5), 1, -7777)

	paused.Active = false
	_, err := f.store.PutRule(ctx, paused)
	require.NoError(t, err)
	require.NoError(t, f.rules.SoftDelete(ctx, removed.ID))

	summary, err := f.proc.ProcessAll(ctx, core.NewDate(2024, 2, 10))
	require.NoError(t, err)
	require.Equal(t, Summary{Created: 2}, summary)

	entries, err := f.store.ListEntriesByRule(ctx, active.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, int64(-2000), balanceOf(t, f.store, f.account.ID))
}

type listFailingStore struct {
	*memory.Store
}

func (s *listFailingStore) ListActiveRules(ctx context.Context) ([]core.RecurringRule, error) {
	return nil, fmt.Errorf("simulated store failure")
}

func TestProcessAll_ListFailureReturnsErrorWithSummary(t *testing.T) {
	st := &listFailingStore{Store: memory.New("test-device")}
	ledger := NewLedger(st, nil)
	proc := NewRecurringProcessor(st, NewMaterializer(st, ledger))

	summary, err := proc.ProcessAll(context.Background(), core.NewDate(2024, 4, 10))
	require.Error(t, err)
	require.Equal(t, Summary{Errors: 1}, summary)
}

func TestProcessAll_RuleFailureDoesNotAbortOthers(t *testing.T) {
	ctx := context.Background()
	mem := memory.New("test-device")
	// Every entry dated Feb 5 fails; the second rule (day 20) is unaffected.
	st := &flakyStore{Store: mem, failOn: core.NewDate(2024, 2, 5)}
	ledger := NewLedger(st, nil)
	proc := NewRecurringProcessor(st, NewMaterializer(st, ledger))

	account, err := st.PutAccount(ctx, core.Account{Label: "Compte courant", Currency: "EUR"})
	require.NoError(t, err)
	for _, day := range []int{5, 20} {
		_, err := st.PutRule(ctx, core.RecurringRule{
			Label:           "Prélèvement",
			Amount:          core.Money{Cents: -500},
			DayOfMonth:      day,
			FrequencyMonths: 1,
			StartDate:       core.NewDate(2024, 2, day),
			Active:          true,
			AccountID:       account.ID,
		})
		require.NoError(t, err)
	}

	summary, err := proc.ProcessAll(ctx, core.NewDate(2024, 2, 25))
	require.NoError(t, err)
	require.Equal(t, Summary{Created: 1, Errors: 1}, summary)
}
