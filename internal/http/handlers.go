package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"comptes/internal/core"
)

// ---------------------------------------------------------------------------
// Accounts

type accountRequest struct {
	Label          string `json:"libelle"`
	Currency       string `json:"currency"`
	InitialBalance int64  `json:"initial_balance"`
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.ListAccounts(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, accounts)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.store.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, account)
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidAmount, err))
		return
	}
	if req.Currency == "" {
		req.Currency = "EUR"
	}
	account := core.Account{
		Label:          req.Label,
		Currency:       req.Currency,
		InitialBalance: core.Money{Cents: req.InitialBalance},
		Balance:        core.Money{Cents: req.InitialBalance},
	}
	if err := account.Validate(); err != nil {
		respondError(w, r, err)
		return
	}
	saved, err := h.store.PutAccount(r.Context(), account)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, saved)
}

func (h *Handler) ReconcileAccount(w http.ResponseWriter, r *http.Request) {
	repair := r.URL.Query().Get("repair") == "true"
	report, err := h.ledger.Reconcile(r.Context(), chi.URLParam(r, "id"), repair)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// ---------------------------------------------------------------------------
// Recurring rules

type ruleRequest struct {
	Label         string `json:"libelle"`
	Amount        int64  `json:"amount"`
	Frequency     int    `json:"frequency"`
	StartDate     string `json:"start_date"`
	Active        *bool  `json:"is_active"`
	AccountID     string `json:"account_id"`
	CategoryID    string `json:"category_id"`
	PayeeID       string `json:"payee_id"`
	ExpenseTypeID string `json:"expense_type_id"`
}

func (req ruleRequest) toRule() (core.RecurringRule, error) {
	startDate, err := core.ParseDate(req.StartDate)
	if err != nil {
		return core.RecurringRule{}, err
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return core.RecurringRule{
		Label:           req.Label,
		Amount:          core.Money{Cents: req.Amount},
		FrequencyMonths: req.Frequency,
		StartDate:       startDate,
		Active:          active,
		AccountID:       req.AccountID,
		CategoryID:      req.CategoryID,
		PayeeID:         req.PayeeID,
		ExpenseTypeID:   req.ExpenseTypeID,
	}, nil
}

func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.ListActiveRules(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rules)
}

func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidDate, err))
		return
	}
	rule, err := req.toRule()
	if err != nil {
		respondError(w, r, err)
		return
	}
	saved, err := h.rules.Create(r.Context(), rule)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, saved)
}

func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidDate, err))
		return
	}
	rule, err := req.toRule()
	if err != nil {
		respondError(w, r, err)
		return
	}
	rule.ID = chi.URLParam(r, "id")
	saved, err := h.rules.Update(r.Context(), rule)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, saved)
}

func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.SoftDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Ledger entries

type entryRequest struct {
	Date          string `json:"date_mouvement"`
	Amount        int64  `json:"amount"`
	AccountID     string `json:"account_id"`
	CategoryID    string `json:"category_id"`
	PayeeID       string `json:"payee_id"`
	ExpenseTypeID string `json:"expense_type_id"`
	Description   string `json:"description"`
}

func (req entryRequest) toEntry() (core.LedgerEntry, error) {
	var date time.Time
	if req.Date != "" {
		var err error
		date, err = time.Parse(time.RFC3339, req.Date)
		if err != nil {
			// Accept plain dates too; user-entered movements often carry
			// no time of day.
			d, derr := core.ParseDate(req.Date)
			if derr != nil {
				return core.LedgerEntry{}, fmt.Errorf("%w: %q", core.ErrInvalidDate, req.Date)
			}
			date = d.Time()
		}
	}
	return core.LedgerEntry{
		Date:          date,
		Amount:        core.Money{Cents: req.Amount},
		AccountID:     req.AccountID,
		CategoryID:    req.CategoryID,
		PayeeID:       req.PayeeID,
		ExpenseTypeID: req.ExpenseTypeID,
		Description:   req.Description,
	}, nil
}

func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if accountID := r.URL.Query().Get("account_id"); accountID != "" {
		entries, err := h.store.ListActiveEntriesByAccount(ctx, accountID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, entries)
		return
	}
	entries, err := h.store.ListActiveEntries(ctx)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidDate, err))
		return
	}
	entry, err := req.toEntry()
	if err != nil {
		respondError(w, r, err)
		return
	}
	saved, err := h.ledger.CreateEntry(r.Context(), entry)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, saved)
}

func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidDate, err))
		return
	}
	entry, err := req.toEntry()
	if err != nil {
		respondError(w, r, err)
		return
	}
	entry.ID = chi.URLParam(r, "id")
	saved, err := h.ledger.UpdateEntry(r.Context(), entry)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, saved)
}

func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.SoftDeleteEntry(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Recurring processing

// ProcessRecurring runs the materialization batch for today and returns the
// aggregated summary. The endpoint never returns a 5xx for per-rule
// failures; the summary carries the error count.
func (h *Handler) ProcessRecurring(w http.ResponseWriter, r *http.Request) {
	summary, err := h.processor.ProcessAll(r.Context(), core.Today())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
