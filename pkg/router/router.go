package router

import (
	"context"
	"log/slog"

	"github.com/nstogner/tiered/pkg/domain"
	"github.com/nstogner/tiered/pkg/tier"
)

// Classifier is satisfied by *classify.Classifier.
type Classifier interface {
	Classify(ctx context.Context, input string) domain.IntentClassification
}

// Decision is the outcome of routing one request.
type Decision struct {
	// TierKey is the tier the turn runs on.
	TierKey string `json:"tier_key"`
	// Requested is the tier before entitlement checks.
	Requested string `json:"requested"`
	// Classification is set only for automatic routing.
	Classification *domain.IntentClassification `json:"classification,omitempty"`
	Downgraded     bool                         `json:"downgraded"`
	Reason         string                       `json:"reason"`
}

// Router applies subscription policy to tier recommendations.
type Router struct {
	reg          *tier.Registry
	classifier   Classifier
	entitlements Entitlements
}

func New(reg *tier.Registry, classifier Classifier) *Router {
	return &Router{reg: reg, classifier: classifier, entitlements: NewEntitlements(reg)}
}

// Entitlements exposes the plan policy used by the router.
func (r *Router) Entitlements() Entitlements { return r.entitlements }

// Route classifies input and returns a tier the plan is entitled to. Gated
// recommendations are downgraded, never rejected.
func (r *Router) Route(ctx context.Context, input string, plan domain.Plan) Decision {
	ic := r.classifier.Classify(ctx, input)
	d := Decision{
		TierKey:        ic.RecommendedTierKey,
		Requested:      ic.RecommendedTierKey,
		Classification: &ic,
		Reason:         "classified " + string(ic.Complexity),
	}
	if !r.reg.Has(d.TierKey) {
		d.TierKey = r.reg.DefaultKey()
	}
	if !r.entitlements.Allowed(plan, d.TierKey) {
		d.TierKey = r.entitlements.Best()
		d.Downgraded = true
		d.Reason = "plan " + string(plan) + " not entitled to " + d.Requested
	}
	slog.Debug("Routed request", "plan", plan, "requested", d.Requested, "tier", d.TierKey, "downgraded", d.Downgraded)
	return d
}

// Resolve picks the tier for a chat request. Mode "auto" (or empty) routes
// through the classifier; an explicit key the plan may not use is rejected
// with a *domain.EntitlementError; an unknown explicit key resolves to the
// default tier.
func (r *Router) Resolve(ctx context.Context, req domain.ChatRequest, plan domain.Plan) (Decision, error) {
	if req.Mode == "" || req.Mode == domain.ModeAuto {
		return r.Route(ctx, req.Message, plan), nil
	}
	d := Decision{TierKey: req.Mode, Requested: req.Mode, Reason: "explicit"}
	if !r.reg.Has(req.Mode) {
		d.TierKey = r.reg.DefaultKey()
		d.Reason = "unknown tier, using default"
	}
	if !r.entitlements.Allowed(plan, d.TierKey) {
		return Decision{}, &domain.EntitlementError{Plan: plan, TierKey: d.TierKey}
	}
	return d, nil
}
