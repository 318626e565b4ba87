package core

import (
	"context"
	"fmt"
)

// TransitionRule allows Role to move a usage from From to To.
type TransitionRule struct {
	From UsageStatus `json:"from"`
	To   UsageStatus `json:"to"`
	Role Role        `json:"role"`
}

// TransitionPolicy is the workflow allow-list keyed by (current status, requested status, role).
type TransitionPolicy interface {
	Allowed(from, to UsageStatus, role Role) bool
	Rules() []TransitionRule
}

// RuleSource loads transition rules from persistent storage.
type RuleSource interface {
	LoadTransitionRules(ctx context.Context) ([]TransitionRule, error)
}

type rulePolicy struct {
	allowed map[TransitionRule]struct{}
	rules   []TransitionRule
}

// NewTransitionPolicy constructs a TransitionPolicy from an explicit rule list.
func NewTransitionPolicy(rules []TransitionRule) TransitionPolicy {
	p := &rulePolicy{allowed: make(map[TransitionRule]struct{}, len(rules))}
	for _, r := range rules {
		if _, dup := p.allowed[r]; dup {
			continue
		}
		p.allowed[r] = struct{}{}
		p.rules = append(p.rules, r)
	}
	return p
}

// LoadTransitionPolicy builds a policy from src. An empty rule set is an error,
// since it would reject every transition.
func LoadTransitionPolicy(ctx context.Context, src RuleSource) (TransitionPolicy, error) {
	rules, err := src.LoadTransitionRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load transition rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("no transition rules found: seed usage_transition_rules or run migrations")
	}
	return NewTransitionPolicy(rules), nil
}

func (p *rulePolicy) Allowed(from, to UsageStatus, role Role) bool {
	_, ok := p.allowed[TransitionRule{From: from, To: to, Role: role}]
	return ok
}

func (p *rulePolicy) Rules() []TransitionRule {
	out := make([]TransitionRule, len(p.rules))
	copy(out, p.rules)
	return out
}

// DefaultTransitionRules is the built-in allow-list.
// Supervisors inherit operator rules and managers inherit both. Managers may also
// bypass the approval steps (draft -> in_process/completed, pending -> completed)
// and cancel completed usages.
func DefaultTransitionRules() []TransitionRule {
	operator := [][2]UsageStatus{
		{UsageDraft, UsagePending},
		{UsageDraft, UsageCancelled},
		{UsagePending, UsageCancelled},
		{UsageCancelled, UsageDraft},
		{UsageRejected, UsageDraft},
	}
	supervisor := [][2]UsageStatus{
		{UsagePending, UsageInProcess},
		{UsageInProcess, UsageCompleted},
		{UsagePending, UsageRejected},
		{UsageInProcess, UsageRejected},
		{UsageInProcess, UsageCancelled},
	}
	manager := [][2]UsageStatus{
		{UsageDraft, UsageInProcess},
		{UsageDraft, UsageCompleted},
		{UsagePending, UsageCompleted},
		{UsageCompleted, UsageCancelled},
	}

	var rules []TransitionRule
	add := func(role Role, sets ...[][2]UsageStatus) {
		for _, set := range sets {
			for _, t := range set {
				rules = append(rules, TransitionRule{From: t[0], To: t[1], Role: role})
			}
		}
	}
	add(RoleOperator, operator)
	add(RoleSupervisor, operator, supervisor)
	add(RoleManager, operator, supervisor, manager)
	return rules
}
