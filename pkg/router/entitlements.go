package router

import (
	"github.com/nstogner/tiered/pkg/domain"
	"github.com/nstogner/tiered/pkg/tier"
)

// planRank orders plans; each plan is entitled to everything a lower plan
// is.
var planRank = map[domain.Plan]int{
	domain.PlanFree:       0,
	domain.PlanPro:        1,
	domain.PlanEnterprise: 2,
}

// Entitlements answers which tiers a plan may use.
type Entitlements struct {
	reg *tier.Registry
}

func NewEntitlements(reg *tier.Registry) Entitlements {
	return Entitlements{reg: reg}
}

// Allowed reports whether plan may use tierKey. Utility tiers are never
// allowed as chat tiers. Unknown keys are judged by the tier they fall back
// to.
func (e Entitlements) Allowed(plan domain.Plan, tierKey string) bool {
	spec := e.reg.Lookup(tierKey)
	if spec.Class == tier.ClassUtility {
		return false
	}
	if spec.Access.RequiresSubscription {
		return planRank[plan] >= planRank[domain.PlanPro]
	}
	return true
}

// Best returns the deepest chain-of-thought tier any plan may use: highest
// class, then key order. It falls back to the default tier when no
// ungated tier can think.
func (e Entitlements) Best() string {
	for _, s := range e.reg.Selectable() {
		if !s.Access.RequiresSubscription && e.reg.HasCapability(s.Key, tier.CapThinking) {
			return s.Key
		}
	}
	return e.reg.DefaultKey()
}

// Plans lists the plans from least to most privileged.
var Plans = []domain.Plan{domain.PlanFree, domain.PlanPro, domain.PlanEnterprise}

// MinimumPlan returns the least privileged plan that may use tierKey, or ""
// if no plan may.
func (e Entitlements) MinimumPlan(tierKey string) domain.Plan {
	for _, p := range Plans {
		if e.Allowed(p, tierKey) {
			return p
		}
	}
	return ""
}
