package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"comptes/internal/core"
	"comptes/internal/services"
	"comptes/internal/store/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	st := memory.New("test-device")
	ledger := services.NewLedger(st, nil)
	handler := NewHandler(st, ledger,
		services.NewRules(st, nil),
		services.NewRecurringProcessor(st, services.NewMaterializer(st, ledger)))
	srv := httptest.NewServer(NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv, st
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func createAccount(t *testing.T, baseURL string, initialCents int64) core.Account {
	t.Helper()
	var account core.Account
	resp := doJSON(t, http.MethodPost, baseURL+"/api/accounts", map[string]any{
		"libelle":         "Compte courant",
		"initial_balance": initialCents,
	}, &account)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, account.ID)
	return account
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateAccount_DefaultsAndValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	account := createAccount(t, srv.URL, 120000)
	require.Equal(t, "EUR", account.Currency)
	require.Equal(t, int64(120000), account.Balance.Cents)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/accounts", map[string]any{
		"libelle": "   ",
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetAccount_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/accounts/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecurringFlow_CreateRuleProcessListEntries(t *testing.T) {
	srv, _ := newTestServer(t)
	account := createAccount(t, srv.URL, 0)

	// Start two months back so processing finds exactly three occurrences
	// (start month, last month, this month).
	start := core.Today().AddMonths(-2)
	var rule core.RecurringRule
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/rules", map[string]any{
		"libelle":    "Loyer",
		"amount":     -85000,
		"frequency":  1,
		"start_date": start.String(),
		"account_id": account.ID,
	}, &rule)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, start.Day, rule.DayOfMonth)
	require.True(t, rule.Active)

	var summary services.Summary
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/recurring/process", nil, &summary)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 3, summary.Created)

	var entries []core.LedgerEntry
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/entries?account_id="+account.ID, nil, &entries)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, entries, 3)
	for _, e := range entries {
		require.Equal(t, rule.ID, e.RuleID)
		require.Equal(t, "Loyer", e.Description)
	}

	var got core.Account
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/accounts/"+account.ID, nil, &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int64(-255000), got.Balance.Cents)

	// A second processing run must not duplicate anything.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/recurring/process", nil, &summary)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 0, summary.Created)
}

func TestCreateRule_Validation(t *testing.T) {
	srv, _ := newTestServer(t)
	account := createAccount(t, srv.URL, 0)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"zero frequency", map[string]any{
			"libelle": "X", "amount": -100, "frequency": 0,
			"start_date": "2024-01-15", "account_id": account.ID,
		}, http.StatusBadRequest},
		{"zero amount", map[string]any{
			"libelle": "X", "amount": 0, "frequency": 1,
			"start_date": "2024-01-15", "account_id": account.ID,
		}, http.StatusBadRequest},
		{"bad start date", map[string]any{
			"libelle": "X", "amount": -100, "frequency": 1,
			"start_date": "15/01/2024", "account_id": account.ID,
		}, http.StatusBadRequest},
		{"unknown account", map[string]any{
			"libelle": "X", "amount": -100, "frequency": 1,
			"start_date": "2024-01-15", "account_id": "missing",
		}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, srv.URL+"/api/rules", tt.body, nil)
			require.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestEntryLifecycle_BalanceFollows(t *testing.T) {
	srv, _ := newTestServer(t)
	account := createAccount(t, srv.URL, 100000)

	var entry core.LedgerEntry
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/entries", map[string]any{
		"date_mouvement": "2024-06-15",
		"amount":         -4800,
		"account_id":     account.ID,
		"description":    "Courses",
	}, &entry)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, core.NewDate(2024, 6, 15), entry.EntryDate())

	var got core.Account
	doJSON(t, http.MethodGet, srv.URL+"/api/accounts/"+account.ID, nil, &got)
	require.Equal(t, int64(95200), got.Balance.Cents)

	// Amount correction moves the balance by the delta.
	resp = doJSON(t, http.MethodPut, srv.URL+"/api/entries/"+entry.ID, map[string]any{
		"date_mouvement": "2024-06-15",
		"amount":         -5800,
		"account_id":     account.ID,
		"description":    "Courses",
	}, &entry)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	doJSON(t, http.MethodGet, srv.URL+"/api/accounts/"+account.ID, nil, &got)
	require.Equal(t, int64(94200), got.Balance.Cents)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/entries/"+entry.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	doJSON(t, http.MethodGet, srv.URL+"/api/accounts/"+account.ID, nil, &got)
	require.Equal(t, int64(100000), got.Balance.Cents)

	// The tombstoned entry no longer appears in listings.
	var entries []core.LedgerEntry
	doJSON(t, http.MethodGet, srv.URL+"/api/entries?account_id="+account.ID, nil, &entries)
	require.Empty(t, entries)
}

func TestDeleteRule_KeepsGeneratedEntries(t *testing.T) {
	srv, _ := newTestServer(t)
	account := createAccount(t, srv.URL, 0)

	start := core.Today().AddMonths(-1)
	var rule core.RecurringRule
	doJSON(t, http.MethodPost, srv.URL+"/api/rules", map[string]any{
		"libelle":    "Netflix",
		"amount":     -1399,
		"frequency":  1,
		"start_date": start.String(),
		"account_id": account.ID,
	}, &rule)

	var summary services.Summary
	doJSON(t, http.MethodPost, srv.URL+"/api/recurring/process", nil, &summary)
	require.Equal(t, 2, summary.Created)

	resp := doJSON(t, http.MethodDelete, srv.URL+"/api/rules/"+rule.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var rules []core.RecurringRule
	doJSON(t, http.MethodGet, srv.URL+"/api/rules", nil, &rules)
	require.Empty(t, rules)

	var entries []core.LedgerEntry
	doJSON(t, http.MethodGet, srv.URL+"/api/entries?account_id="+account.ID, nil, &entries)
	require.Len(t, entries, 2, "deleting the rule must not delete its movements")
}

func TestReconcileEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	account := createAccount(t, srv.URL, 50000)

	doJSON(t, http.MethodPost, srv.URL+"/api/entries", map[string]any{
		"date_mouvement": "2024-06-01",
		"amount":         -10000,
		"account_id":     account.ID,
	}, nil)

	var report services.ReconcileReport
	resp := doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/api/accounts/%s/reconcile", srv.URL, account.ID), nil, &report)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, report.InSync())
}
