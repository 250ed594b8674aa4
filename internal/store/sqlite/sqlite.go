// Package sqlite implements the entity store on SQLite via the pure-Go
// modernc.org driver. Schema lives in embedded golang-migrate migrations.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"comptes/internal/core"
	"comptes/internal/id"
	"comptes/internal/store"

	_ "modernc.org/sqlite"
)

type Repository struct {
	db       *sql.DB
	deviceID string
}

var _ store.Store = (*Repository)(nil)

func New(dbPath, deviceID string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if deviceID == "" {
		deviceID = id.New()
	}

	return &Repository{db: db, deviceID: deviceID}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// nextRevision reads the current revision of a row, 0 when absent.
func (r *Repository) nextRevision(ctx context.Context, table, rowID string) (int64, error) {
	var rev int64
	query := fmt.Sprintf(`SELECT revision FROM %s WHERE id = ?`, table)
	err := r.db.QueryRowContext(ctx, query, rowID).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return rev + 1, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func strOrEmpty(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func timeText(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeText(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// ---------------------------------------------------------------------------
// Accounts

const accountColumns = `id, libelle, currency, initial_balance, balance,
	device_id, revision, updated_at, deleted_at`

func scanAccount(row interface{ Scan(...any) error }) (core.Account, error) {
	var (
		a         core.Account
		updatedAt string
		deletedAt sql.NullString
	)
	err := row.Scan(&a.ID, &a.Label, &a.Currency, &a.InitialBalance.Cents,
		&a.Balance.Cents, &a.DeviceID, &a.Revision, &updatedAt, &deletedAt)
	if err != nil {
		return core.Account{}, err
	}
	if a.UpdatedAt, err = parseTimeText(updatedAt); err != nil {
		return core.Account{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if deletedAt.Valid {
		t, err := parseTimeText(deletedAt.String)
		if err != nil {
			return core.Account{}, fmt.Errorf("parse deleted_at: %w", err)
		}
		a.DeletedAt = &t
	}
	return a, nil
}

func (r *Repository) GetAccount(ctx context.Context, accountID string) (core.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, accountID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, store.ErrNotFound
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (r *Repository) PutAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if a.ID == "" {
		a.ID = id.New()
	}
	rev, err := r.nextRevision(ctx, "accounts", a.ID)
	if err != nil {
		return core.Account{}, fmt.Errorf("account revision: %w", err)
	}
	a.DeviceID = r.deviceID
	a.Revision = rev
	a.UpdatedAt = time.Now().UTC()

	var deletedAt any
	if a.DeletedAt != nil {
		deletedAt = timeText(*a.DeletedAt)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, libelle, currency, initial_balance, balance,
			device_id, revision, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			libelle = excluded.libelle,
			currency = excluded.currency,
			initial_balance = excluded.initial_balance,
			balance = excluded.balance,
			device_id = excluded.device_id,
			revision = excluded.revision,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at`,
		a.ID, a.Label, a.Currency, a.InitialBalance.Cents, a.Balance.Cents,
		a.DeviceID, a.Revision, timeText(a.UpdatedAt), deletedAt)
	if err != nil {
		return core.Account{}, fmt.Errorf("put account: %w", err)
	}
	return a, nil
}

func (r *Repository) ListAccounts(ctx context.Context) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Recurring rules

const ruleColumns = `id, libelle, amount, day_of_month, frequency, start_date,
	last_execution, is_active, account_id, category_id, payee_id,
	expense_type_id, device_id, revision, updated_at, deleted_at`

func scanRule(row interface{ Scan(...any) error }) (core.RecurringRule, error) {
	var (
		r             core.RecurringRule
		startDate     string
		lastExecution sql.NullString
		category      sql.NullString
		payee         sql.NullString
		expenseType   sql.NullString
		updatedAt     string
		deletedAt     sql.NullString
	)
	err := row.Scan(&r.ID, &r.Label, &r.Amount.Cents, &r.DayOfMonth,
		&r.FrequencyMonths, &startDate, &lastExecution, &r.Active,
		&r.AccountID, &category, &payee, &expenseType,
		&r.DeviceID, &r.Revision, &updatedAt, &deletedAt)
	if err != nil {
		return core.RecurringRule{}, err
	}
	if r.StartDate, err = core.ParseDate(startDate); err != nil {
		return core.RecurringRule{}, fmt.Errorf("parse start_date: %w", err)
	}
	if lastExecution.Valid {
		d, err := core.ParseDate(lastExecution.String)
		if err != nil {
			return core.RecurringRule{}, fmt.Errorf("parse last_execution: %w", err)
		}
		r.LastExecution = &d
	}
	r.CategoryID = strOrEmpty(category)
	r.PayeeID = strOrEmpty(payee)
	r.ExpenseTypeID = strOrEmpty(expenseType)
	if r.UpdatedAt, err = parseTimeText(updatedAt); err != nil {
		return core.RecurringRule{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if deletedAt.Valid {
		t, err := parseTimeText(deletedAt.String)
		if err != nil {
			return core.RecurringRule{}, fmt.Errorf("parse deleted_at: %w", err)
		}
		r.DeletedAt = &t
	}
	return r, nil
}

func (r *Repository) GetRule(ctx context.Context, ruleID string) (core.RecurringRule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM recurring_rules WHERE id = ?`, ruleID)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringRule{}, store.ErrNotFound
	}
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

func (r *Repository) PutRule(ctx context.Context, rule core.RecurringRule) (core.RecurringRule, error) {
	if rule.ID == "" {
		rule.ID = id.New()
	}
	rev, err := r.nextRevision(ctx, "recurring_rules", rule.ID)
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("rule revision: %w", err)
	}
	rule.DeviceID = r.deviceID
	rule.Revision = rev
	rule.UpdatedAt = time.Now().UTC()

	var lastExecution any
	if rule.LastExecution != nil {
		lastExecution = rule.LastExecution.String()
	}
	var deletedAt any
	if rule.DeletedAt != nil {
		deletedAt = timeText(*rule.DeletedAt)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO recurring_rules (id, libelle, amount, day_of_month,
			frequency, start_date, last_execution, is_active, account_id,
			category_id, payee_id, expense_type_id, device_id, revision,
			updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			libelle = excluded.libelle,
			amount = excluded.amount,
			day_of_month = excluded.day_of_month,
			frequency = excluded.frequency,
			start_date = excluded.start_date,
			last_execution = excluded.last_execution,
			is_active = excluded.is_active,
			account_id = excluded.account_id,
			category_id = excluded.category_id,
			payee_id = excluded.payee_id,
			expense_type_id = excluded.expense_type_id,
			device_id = excluded.device_id,
			revision = excluded.revision,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at`,
		rule.ID, rule.Label, rule.Amount.Cents, rule.DayOfMonth,
		rule.FrequencyMonths, rule.StartDate.String(), lastExecution,
		rule.Active, rule.AccountID, nullStr(rule.CategoryID),
		nullStr(rule.PayeeID), nullStr(rule.ExpenseTypeID), rule.DeviceID,
		rule.Revision, timeText(rule.UpdatedAt), deletedAt)
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("put rule: %w", err)
	}
	return rule, nil
}

func (r *Repository) SoftDeleteRule(ctx context.Context, ruleID string) error {
	return r.softDelete(ctx, "recurring_rules", ruleID)
}

func (r *Repository) ListActiveRules(ctx context.Context) ([]core.RecurringRule, error) {
	return r.listRules(ctx,
		`SELECT `+ruleColumns+` FROM recurring_rules WHERE deleted_at IS NULL ORDER BY id`)
}

func (r *Repository) ListRules(ctx context.Context) ([]core.RecurringRule, error) {
	return r.listRules(ctx,
		`SELECT `+ruleColumns+` FROM recurring_rules ORDER BY id`)
}

func (r *Repository) listRules(ctx context.Context, query string) ([]core.RecurringRule, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Ledger entries

const entryColumns = `id, date_mouvement, amount, account_id, category_id,
	payee_id, expense_type_id, description, recurring_expense_id, device_id,
	revision, updated_at, deleted_at`

func scanEntry(row interface{ Scan(...any) error }) (core.LedgerEntry, error) {
	var (
		e           core.LedgerEntry
		date        string
		category    sql.NullString
		payee       sql.NullString
		expenseType sql.NullString
		ruleID      sql.NullString
		updatedAt   string
		deletedAt   sql.NullString
	)
	err := row.Scan(&e.ID, &date, &e.Amount.Cents, &e.AccountID, &category,
		&payee, &expenseType, &e.Description, &ruleID, &e.DeviceID,
		&e.Revision, &updatedAt, &deletedAt)
	if err != nil {
		return core.LedgerEntry{}, err
	}
	if e.Date, err = parseTimeText(date); err != nil {
		return core.LedgerEntry{}, fmt.Errorf("parse date_mouvement: %w", err)
	}
	e.CategoryID = strOrEmpty(category)
	e.PayeeID = strOrEmpty(payee)
	e.ExpenseTypeID = strOrEmpty(expenseType)
	e.RuleID = strOrEmpty(ruleID)
	if e.UpdatedAt, err = parseTimeText(updatedAt); err != nil {
		return core.LedgerEntry{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if deletedAt.Valid {
		t, err := parseTimeText(deletedAt.String)
		if err != nil {
			return core.LedgerEntry{}, fmt.Errorf("parse deleted_at: %w", err)
		}
		e.DeletedAt = &t
	}
	return e, nil
}

func (r *Repository) GetEntry(ctx context.Context, entryID string) (core.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE id = ?`, entryID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.LedgerEntry{}, store.ErrNotFound
	}
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

func (r *Repository) PutEntry(ctx context.Context, e core.LedgerEntry) (core.LedgerEntry, error) {
	if e.ID == "" {
		e.ID = id.New()
	}
	rev, err := r.nextRevision(ctx, "ledger_entries", e.ID)
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("entry revision: %w", err)
	}
	e.DeviceID = r.deviceID
	e.Revision = rev
	e.UpdatedAt = time.Now().UTC()

	var deletedAt any
	if e.DeletedAt != nil {
		deletedAt = timeText(*e.DeletedAt)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, date_mouvement, amount, account_id,
			category_id, payee_id, expense_type_id, description,
			recurring_expense_id, device_id, revision, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date_mouvement = excluded.date_mouvement,
			amount = excluded.amount,
			account_id = excluded.account_id,
			category_id = excluded.category_id,
			payee_id = excluded.payee_id,
			expense_type_id = excluded.expense_type_id,
			description = excluded.description,
			recurring_expense_id = excluded.recurring_expense_id,
			device_id = excluded.device_id,
			revision = excluded.revision,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at`,
		e.ID, timeText(e.Date), e.Amount.Cents, e.AccountID,
		nullStr(e.CategoryID), nullStr(e.PayeeID), nullStr(e.ExpenseTypeID),
		e.Description, nullStr(e.RuleID), e.DeviceID, e.Revision,
		timeText(e.UpdatedAt), deletedAt)
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("put entry: %w", err)
	}
	return e, nil
}

func (r *Repository) SoftDeleteEntry(ctx context.Context, entryID string) error {
	return r.softDelete(ctx, "ledger_entries", entryID)
}

func (r *Repository) ListEntriesByRule(ctx context.Context, ruleID string) ([]core.LedgerEntry, error) {
	// Tombstoned entries included on purpose: a date the user deleted must
	// never be rematerialized.
	return r.listEntries(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries
		 WHERE recurring_expense_id = ? ORDER BY date_mouvement, id`, ruleID)
}

func (r *Repository) ListActiveEntriesByAccount(ctx context.Context, accountID string) ([]core.LedgerEntry, error) {
	return r.listEntries(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries
		 WHERE account_id = ? AND deleted_at IS NULL
		 ORDER BY date_mouvement, id`, accountID)
}

func (r *Repository) ListActiveEntries(ctx context.Context) ([]core.LedgerEntry, error) {
	return r.listEntries(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries
		 WHERE deleted_at IS NULL ORDER BY date_mouvement, id`)
}

func (r *Repository) listEntries(ctx context.Context, query string, args ...any) ([]core.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []core.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) softDelete(ctx context.Context, table, rowID string) error {
	now := time.Now().UTC()
	query := fmt.Sprintf(`
		UPDATE %s SET
			deleted_at = COALESCE(deleted_at, ?),
			device_id = ?,
			revision = revision + 1,
			updated_at = ?
		WHERE id = ?`, table)
	res, err := r.db.ExecContext(ctx, query,
		timeText(now), r.deviceID, timeText(now), rowID)
	if err != nil {
		return fmt.Errorf("soft delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
