package core

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrEmptyLabel        = errors.New("empty label")
	ErrLabelTooLong      = errors.New("label too long (max 200 characters)")
	ErrInvalidDayOfMonth = errors.New("day of month must be between 1 and 31")
	ErrInvalidFrequency  = errors.New("frequency must be at least 1 month")
	ErrMissingStartDate  = errors.New("missing start date")
	ErrMissingAccount    = errors.New("missing account")
	ErrMissingEntryDate  = errors.New("missing entry date")
	ErrRecordDeleted     = errors.New("record is deleted")
)

// Meta carries the synchronization metadata the store stamps on every Put:
// which device wrote the record, a monotonic revision for last-write-wins
// merging, and the soft-delete tombstone. Records are never physically
// removed; a tombstoned record keeps participating in dedup checks.
type Meta struct {
	DeviceID  string     `json:"device_id,omitempty"`
	Revision  int64      `json:"revision"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the record is tombstoned.
func (m Meta) Deleted() bool {
	return m.DeletedAt != nil
}

// MarkDeleted tombstones the record at the given instant.
func (m *Meta) MarkDeleted(at time.Time) {
	if m.DeletedAt == nil {
		t := at
		m.DeletedAt = &t
	}
}

// Account is a money container with an incrementally maintained running
// balance: Balance == InitialBalance + sum of all active entry amounts.
// The balance is never recomputed from scratch in normal operation; every
// entry mutation applies a point delta (see services.Ledger).
type Account struct {
	ID             string `json:"id"`
	Label          string `json:"libelle"`
	Currency       string `json:"currency"`
	InitialBalance Money  `json:"initial_balance"`
	Balance        Money  `json:"balance"`

	Meta `json:"meta"`
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Label) == "" {
		return ErrEmptyLabel
	}
	if len(a.Label) > 200 {
		return ErrLabelTooLong
	}
	return nil
}

// RecurringRule is a template for a periodically repeating transaction.
// DayOfMonth is always re-derived from StartDate when the rule is persisted,
// so the two can never diverge. LastExecution is the watermark: the most
// recent occurrence date already attempted, nil for a rule that has never
// been materialized.
type RecurringRule struct {
	ID              string `json:"id"`
	Label           string `json:"libelle"`
	Amount          Money  `json:"amount"`
	DayOfMonth      int    `json:"day_of_month"`
	FrequencyMonths int    `json:"frequency"`
	StartDate       Date   `json:"start_date"`
	LastExecution   *Date  `json:"last_execution,omitempty"`
	Active          bool   `json:"is_active"`
	AccountID       string `json:"account_id"`
	CategoryID      string `json:"category_id,omitempty"`
	PayeeID         string `json:"payee_id,omitempty"`
	ExpenseTypeID   string `json:"expense_type_id,omitempty"`

	Meta `json:"meta"`
}

func (r RecurringRule) Validate() error {
	if strings.TrimSpace(r.Label) == "" {
		return ErrEmptyLabel
	}
	if len(r.Label) > 200 {
		return ErrLabelTooLong
	}
	if r.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
		return ErrInvalidDayOfMonth
	}
	if r.FrequencyMonths < 1 {
		return ErrInvalidFrequency
	}
	if r.StartDate.IsZero() {
		return ErrMissingStartDate
	}
	if err := r.StartDate.Validate(); err != nil {
		return err
	}
	if r.AccountID == "" {
		return ErrMissingAccount
	}
	return nil
}

// LedgerEntry is a single posted transaction ("movement") affecting one
// account. RuleID back-references the recurring rule that generated the
// entry; empty means manually entered. (RuleID, calendar date of Date) is
// the dedup key preventing double materialization. Deleting a rule does
// not delete its generated entries.
type LedgerEntry struct {
	ID            string    `json:"id"`
	Date          time.Time `json:"date_mouvement"`
	Amount        Money     `json:"amount"`
	AccountID     string    `json:"account_id"`
	CategoryID    string    `json:"category_id,omitempty"`
	PayeeID       string    `json:"payee_id,omitempty"`
	ExpenseTypeID string    `json:"expense_type_id,omitempty"`
	Description   string    `json:"description,omitempty"`
	RuleID        string    `json:"recurring_expense_id,omitempty"`

	Meta `json:"meta"`
}

func (e LedgerEntry) Validate() error {
	if e.Date.IsZero() {
		return ErrMissingEntryDate
	}
	if e.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if e.AccountID == "" {
		return ErrMissingAccount
	}
	if len(e.Description) > 200 {
		return ErrLabelTooLong
	}
	return nil
}

// EntryDate returns the entry's calendar date, the date component of the
// dedup key.
func (e LedgerEntry) EntryDate() Date {
	return DateOf(e.Date)
}
