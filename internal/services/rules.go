package services

import (
	"context"
	"fmt"
	"log/slog"

	"comptes/internal/core"
	"comptes/internal/store"
)

// Rules handles validated creation and editing of recurring rules.
// Malformed rules are rejected here, synchronously, so the scheduling and
// materialization path never sees one.
type Rules struct {
	store  store.Store
	events ChangePublisher // nil disables publishing
}

func NewRules(st store.Store, events ChangePublisher) *Rules {
	return &Rules{store: st, events: events}
}

// Create validates and persists a new rule. DayOfMonth is derived from the
// start date, whatever the caller supplied.
func (s *Rules) Create(ctx context.Context, rule core.RecurringRule) (core.RecurringRule, error) {
	rule.DayOfMonth = rule.StartDate.Day
	rule.LastExecution = nil
	if err := rule.Validate(); err != nil {
		return core.RecurringRule{}, err
	}
	if _, err := s.store.GetAccount(ctx, rule.AccountID); err != nil {
		return core.RecurringRule{}, fmt.Errorf("rule account %s: %w", rule.AccountID, err)
	}

	saved, err := s.store.PutRule(ctx, rule)
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("save rule: %w", err)
	}

	s.publish(ctx, saved.ID, saved.Revision, false)
	return saved, nil
}

// Update applies a user edit to an existing, non-deleted rule. The
// watermark is preserved from the stored rule and DayOfMonth is re-derived
// from the (possibly new) start date so the two never diverge.
func (s *Rules) Update(ctx context.Context, rule core.RecurringRule) (core.RecurringRule, error) {
	old, err := s.store.GetRule(ctx, rule.ID)
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("load rule %s: %w", rule.ID, err)
	}
	if old.Deleted() {
		return core.RecurringRule{}, core.ErrRecordDeleted
	}

	rule.DayOfMonth = rule.StartDate.Day
	rule.LastExecution = old.LastExecution
	rule.Meta = old.Meta
	if err := rule.Validate(); err != nil {
		return core.RecurringRule{}, err
	}
	if _, err := s.store.GetAccount(ctx, rule.AccountID); err != nil {
		return core.RecurringRule{}, fmt.Errorf("rule account %s: %w", rule.AccountID, err)
	}

	saved, err := s.store.PutRule(ctx, rule)
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("save rule: %w", err)
	}

	s.publish(ctx, saved.ID, saved.Revision, false)
	return saved, nil
}

// SoftDelete tombstones the rule. Ledger entries already generated from it
// are left untouched; their back-reference only serves dedup and audit.
func (s *Rules) SoftDelete(ctx context.Context, ruleID string) error {
	rule, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		return fmt.Errorf("load rule %s: %w", ruleID, err)
	}
	if rule.Deleted() {
		return nil
	}

	if err := s.store.SoftDeleteRule(ctx, ruleID); err != nil {
		return fmt.Errorf("soft delete rule: %w", err)
	}

	s.publish(ctx, ruleID, rule.Revision+1, true)
	return nil
}

func (s *Rules) publish(ctx context.Context, ruleID string, revision int64, deleted bool) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishChange(ctx, "recurring_rules", ruleID, revision, deleted); err != nil {
		slog.WarnContext(ctx, "Failed to publish rule change event",
			"rule_id", ruleID,
			"error", err)
	}
}
