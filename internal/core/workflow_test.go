package core_test

import (
	"errors"
	"testing"

	"ximopet/internal/core"
)

func TestStockImpact_Table(t *testing.T) {
	const (
		D = core.UsageDraft
		P = core.UsagePending
		I = core.UsageInProcess
		C = core.UsageCompleted
		X = core.UsageCancelled
		R = core.UsageRejected
	)
	want := map[[2]core.UsageStatus]core.LedgerEffect{
		{D, P}: core.EffectDebit,
		{D, I}: core.EffectDebit,
		{D, C}: core.EffectDebit,
		{P, I}: core.EffectDebit,
		{P, C}: core.EffectDebit,
		{I, C}: core.EffectDebit,
		{P, X}: core.EffectCredit,
		{I, X}: core.EffectCredit,
		{C, X}: core.EffectCredit,
		{P, R}: core.EffectCredit,
		{I, R}: core.EffectCredit,
	}

	for _, from := range core.AllUsageStatuses {
		for _, to := range core.AllUsageStatuses {
			got := core.StockImpact(from, to)
			if got != want[[2]core.UsageStatus{from, to}] {
				t.Errorf("StockImpact(%s, %s) = %s, want %s", from, to, got, want[[2]core.UsageStatus{from, to}])
			}
		}
	}
}

func TestResolveEffect_DebitedGuard(t *testing.T) {
	tests := []struct {
		from, to core.UsageStatus
		debited  bool
		want     core.LedgerEffect
	}{
		{core.UsageDraft, core.UsagePending, false, core.EffectDebit},
		{core.UsagePending, core.UsageCompleted, true, core.EffectNone},
		{core.UsageInProcess, core.UsageCompleted, false, core.EffectDebit},
		{core.UsagePending, core.UsageCancelled, true, core.EffectCredit},
		{core.UsagePending, core.UsageCancelled, false, core.EffectNone},
		{core.UsageDraft, core.UsageCancelled, false, core.EffectNone},
		{core.UsageInProcess, core.UsagePending, false, core.EffectNone},
		{core.UsageCompleted, core.UsageInProcess, false, core.EffectNone},
	}
	for _, tt := range tests {
		if got := core.ResolveEffect(tt.from, tt.to, tt.debited); got != tt.want {
			t.Errorf("ResolveEffect(%s, %s, %v) = %s, want %s", tt.from, tt.to, tt.debited, got, tt.want)
		}
	}
}

func TestLedgerEffect_TextRoundTrip(t *testing.T) {
	for _, e := range []core.LedgerEffect{core.EffectNone, core.EffectDebit, core.EffectCredit} {
		b, _ := e.MarshalText()
		var got core.LedgerEffect
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", b, err)
		}
		if got != e {
			t.Errorf("round trip %s: got %s", e, got)
		}
	}
	if _, err := core.ParseLedgerEffect("refund"); err == nil {
		t.Error("expected error for unknown effect")
	}
}

func TestDefaultTransitionRules_RoleInheritance(t *testing.T) {
	policy := core.NewTransitionPolicy(core.DefaultTransitionRules())

	tests := []struct {
		from, to core.UsageStatus
		role     core.Role
		allowed  bool
	}{
		{core.UsageDraft, core.UsagePending, core.RoleOperator, true},
		{core.UsageDraft, core.UsagePending, core.RoleManager, true},
		{core.UsagePending, core.UsageInProcess, core.RoleOperator, false},
		{core.UsagePending, core.UsageInProcess, core.RoleSupervisor, true},
		{core.UsageDraft, core.UsageCompleted, core.RoleSupervisor, false},
		{core.UsageDraft, core.UsageCompleted, core.RoleManager, true},
		{core.UsageCompleted, core.UsageCancelled, core.RoleSupervisor, false},
		{core.UsageCompleted, core.UsageCancelled, core.RoleManager, true},
		{core.UsageCompleted, core.UsageDraft, core.RoleManager, false},
		{core.UsageRejected, core.UsageDraft, core.RoleOperator, true},
	}
	for _, tt := range tests {
		if got := policy.Allowed(tt.from, tt.to, tt.role); got != tt.allowed {
			t.Errorf("Allowed(%s, %s, %s) = %v, want %v", tt.from, tt.to, tt.role, got, tt.allowed)
		}
	}

	rules := policy.Rules()
	seen := map[core.TransitionRule]bool{}
	for _, r := range rules {
		if seen[r] {
			t.Errorf("duplicate rule %+v", r)
		}
		seen[r] = true
	}
}

func TestCheckTransition(t *testing.T) {
	policy := core.NewTransitionPolicy(core.DefaultTransitionRules())
	sub := int64(5)

	tests := []struct {
		name  string
		usage core.Usage
		req   core.TransitionRequest
		want  error
	}{
		{
			name:  "allowed",
			usage: core.Usage{Status: core.UsageDraft},
			req:   core.TransitionRequest{To: core.UsagePending, Role: core.RoleOperator},
		},
		{
			name:  "same state is a no-op",
			usage: core.Usage{Status: core.UsagePending},
			req:   core.TransitionRequest{To: core.UsagePending, Role: core.RoleOperator},
		},
		{
			name:  "role not permitted",
			usage: core.Usage{Status: core.UsageDraft},
			req:   core.TransitionRequest{To: core.UsageCompleted, Role: core.RoleOperator},
			want:  core.ErrInvalidTransition,
		},
		{
			name:  "complete needs sub-location",
			usage: core.Usage{Status: core.UsageInProcess, Debited: true},
			req:   core.TransitionRequest{To: core.UsageCompleted, Role: core.RoleSupervisor},
			want:  core.ErrMissingSubLocation,
		},
		{
			name:  "sub-location on request",
			usage: core.Usage{Status: core.UsageInProcess, Debited: true},
			req:   core.TransitionRequest{To: core.UsageCompleted, Role: core.RoleSupervisor, SubLocationID: &sub},
		},
		{
			name:  "sub-location on record",
			usage: core.Usage{Status: core.UsageInProcess, Debited: true, SubLocationID: &sub},
			req:   core.TransitionRequest{To: core.UsageCompleted, Role: core.RoleSupervisor},
		},
		{
			name:  "unknown status",
			usage: core.Usage{Status: core.UsageDraft},
			req:   core.TransitionRequest{To: "archived", Role: core.RoleManager},
			want:  core.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := core.CheckTransition(policy, &tt.usage, tt.req)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCheckTransition_DraftRequiresUndebited(t *testing.T) {
	policy := core.NewTransitionPolicy([]core.TransitionRule{
		{From: core.UsagePending, To: core.UsageDraft, Role: core.RoleManager},
	})
	u := &core.Usage{Status: core.UsagePending, Debited: true}

	err := core.CheckTransition(policy, u, core.TransitionRequest{To: core.UsageDraft, Role: core.RoleManager})
	var te *core.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransitionError, got %v", err)
	}
	if te.From != core.UsagePending || te.To != core.UsageDraft {
		t.Errorf("got %s -> %s", te.From, te.To)
	}
}
