// Package memory provides an in-process Store used by tests and as the
// default backend when no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"comptes/internal/core"
	"comptes/internal/id"
	"comptes/internal/store"
)

type Store struct {
	mu       sync.Mutex
	deviceID string
	now      func() time.Time

	accounts map[string]core.Account
	rules    map[string]core.RecurringRule
	entries  map[string]core.LedgerEntry
}

var _ store.Store = (*Store)(nil)

func New(deviceID string) *Store {
	if deviceID == "" {
		deviceID = id.New()
	}
	return &Store{
		deviceID: deviceID,
		now:      time.Now,
		accounts: make(map[string]core.Account),
		rules:    make(map[string]core.RecurringRule),
		entries:  make(map[string]core.LedgerEntry),
	}
}

// SetClock overrides the timestamp source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) stamp(m *core.Meta) {
	m.DeviceID = s.deviceID
	m.Revision++
	m.UpdatedAt = s.now().UTC()
}

func (s *Store) GetAccount(_ context.Context, accountID string) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return core.Account{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Store) PutAccount(_ context.Context, a core.Account) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = id.New()
	}
	if prev, ok := s.accounts[a.ID]; ok {
		a.Revision = prev.Revision
	}
	s.stamp(&a.Meta)
	s.accounts[a.ID] = a
	return a, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetRule(_ context.Context, ruleID string) (core.RecurringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return core.RecurringRule{}, store.ErrNotFound
	}
	return r, nil
}

func (s *Store) PutRule(_ context.Context, r core.RecurringRule) (core.RecurringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = id.New()
	}
	if prev, ok := s.rules[r.ID]; ok {
		r.Revision = prev.Revision
	}
	s.stamp(&r.Meta)
	s.rules[r.ID] = r
	return r, nil
}

func (s *Store) SoftDeleteRule(_ context.Context, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return store.ErrNotFound
	}
	r.MarkDeleted(s.now().UTC())
	s.stamp(&r.Meta)
	s.rules[ruleID] = r
	return nil
}

func (s *Store) ListActiveRules(_ context.Context) ([]core.RecurringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.RecurringRule
	for _, r := range s.rules {
		if r.Deleted() {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListRules(_ context.Context) ([]core.RecurringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.RecurringRule
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetEntry(_ context.Context, entryID string) (core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return core.LedgerEntry{}, store.ErrNotFound
	}
	return e, nil
}

func (s *Store) PutEntry(_ context.Context, e core.LedgerEntry) (core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = id.New()
	}
	if prev, ok := s.entries[e.ID]; ok {
		e.Revision = prev.Revision
	}
	s.stamp(&e.Meta)
	s.entries[e.ID] = e
	return e, nil
}

func (s *Store) SoftDeleteEntry(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return store.ErrNotFound
	}
	e.MarkDeleted(s.now().UTC())
	s.stamp(&e.Meta)
	s.entries[entryID] = e
	return nil
}

func (s *Store) ListEntriesByRule(_ context.Context, ruleID string) ([]core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.LedgerEntry
	for _, e := range s.entries {
		// Tombstoned entries included: their dates stay consumed.
		if e.RuleID == ruleID {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *Store) ListActiveEntriesByAccount(_ context.Context, accountID string) ([]core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.LedgerEntry
	for _, e := range s.entries {
		if e.AccountID == accountID && !e.Deleted() {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *Store) ListActiveEntries(_ context.Context) ([]core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.LedgerEntry
	for _, e := range s.entries {
		if !e.Deleted() {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *Store) Close() error {
	return nil
}

func sortEntries(entries []core.LedgerEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		return entries[i].ID < entries[j].ID
	})
}
