package compensation

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PLAN - Named, versioned pay-plan template
// =============================================================================

// Plan is a catalog entry. Editing a plan bumps Version but never touches
// records already assigned under it: those carry their own PlanParams.
type Plan struct {
	ID                       PlanID
	Code                     PlanCode
	Name                     string
	Version                  int
	PreCampStipendAmount     Money
	OnSiteStipendAmount      Money
	EnrollmentThreshold      int
	EnrollmentBonusPerCamper Money
	Rules                    BonusRules
	IsActive                 bool
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// BonusRules is the plan-owned rule table for the performance bonuses that
// sit on top of the enrollment bonus.
type BonusRules struct {
	CSATTiers                 []CSATTier
	BudgetTiers               []BudgetTier
	GuestSpeakerBonusPerEvent Money
	GuestSpeakerMaxEvents     int // 0 = uncapped
}

// CSATTier pays Bonus when the session's CSAT average is at least MinScore.
// Only the highest qualifying tier pays.
type CSATTier struct {
	MinScore decimal.Decimal
	Bonus    Money
}

// BudgetTier pays Bonus when the budget variance is at most MaxVariance.
// Only the tightest qualifying tier pays.
type BudgetTier struct {
	MaxVariance decimal.Decimal
	Bonus       Money
}

// MaxCSATScore is the top of the survey scale.
var MaxCSATScore = decimal.NewFromInt(5)

// =============================================================================
// PLAN PARAMS - Immutable snapshot copied onto a record
// =============================================================================

// PlanParams are the plan values frozen onto a record at assignment time.
// PlanID, PlanCode and PlanVersion are kept for traceability only; the
// calculator never re-reads the catalog.
type PlanParams struct {
	PlanID                   PlanID
	PlanCode                 PlanCode
	PlanVersion              int
	PreCampStipend           Money
	OnSiteStipend            Money
	EnrollmentThreshold      int
	EnrollmentBonusPerCamper Money
	Rules                    BonusRules
}

// Params snapshots the plan. Tier slices are copied so later edits to the
// plan value cannot reach the snapshot.
func (p Plan) Params() PlanParams {
	return PlanParams{
		PlanID:                   p.ID,
		PlanCode:                 p.Code,
		PlanVersion:              p.Version,
		PreCampStipend:           p.PreCampStipendAmount,
		OnSiteStipend:            p.OnSiteStipendAmount,
		EnrollmentThreshold:      p.EnrollmentThreshold,
		EnrollmentBonusPerCamper: p.EnrollmentBonusPerCamper,
		Rules:                    p.Rules.clone(),
	}
}

func (r BonusRules) clone() BonusRules {
	out := r
	out.CSATTiers = append([]CSATTier(nil), r.CSATTiers...)
	out.BudgetTiers = append([]BudgetTier(nil), r.BudgetTiers...)
	return out
}

// Normalize sorts the tier tables into evaluation order: CSAT tiers by
// descending MinScore, budget tiers by ascending MaxVariance.
func (r *BonusRules) Normalize() {
	sort.SliceStable(r.CSATTiers, func(i, j int) bool {
		return r.CSATTiers[i].MinScore.GreaterThan(r.CSATTiers[j].MinScore)
	})
	sort.SliceStable(r.BudgetTiers, func(i, j int) bool {
		return r.BudgetTiers[i].MaxVariance.LessThan(r.BudgetTiers[j].MaxVariance)
	})
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the plan invariants. It returns the first violation as a
// *ValidationError.
func (p Plan) Validate() error {
	if p.Code == "" {
		return &ValidationError{Field: "plan_code", Reason: "required"}
	}
	if p.Name == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if p.PreCampStipendAmount.IsNegative() {
		return &ValidationError{Field: "pre_camp_stipend_amount", Reason: "must not be negative"}
	}
	if p.OnSiteStipendAmount.IsNegative() {
		return &ValidationError{Field: "on_site_stipend_amount", Reason: "must not be negative"}
	}
	if p.EnrollmentThreshold < 0 {
		return &ValidationError{Field: "enrollment_threshold", Reason: "must not be negative"}
	}
	if p.EnrollmentBonusPerCamper.IsNegative() {
		return &ValidationError{Field: "enrollment_bonus_per_camper", Reason: "must not be negative"}
	}
	return p.Rules.Validate()
}

// Validate checks the rule table invariants.
func (r BonusRules) Validate() error {
	seenScore := make(map[string]bool)
	for i, t := range r.CSATTiers {
		field := fmt.Sprintf("csat_tiers[%d]", i)
		if t.MinScore.IsNegative() || t.MinScore.GreaterThan(MaxCSATScore) {
			return &ValidationError{Field: field + ".min_score", Reason: "must be between 0 and 5"}
		}
		if t.Bonus.IsNegative() {
			return &ValidationError{Field: field + ".bonus", Reason: "must not be negative"}
		}
		key := t.MinScore.String()
		if seenScore[key] {
			return &ValidationError{Field: field + ".min_score", Reason: "duplicate tier"}
		}
		seenScore[key] = true
	}

	seenVariance := make(map[string]bool)
	for i, t := range r.BudgetTiers {
		field := fmt.Sprintf("budget_tiers[%d]", i)
		if t.Bonus.IsNegative() {
			return &ValidationError{Field: field + ".bonus", Reason: "must not be negative"}
		}
		key := t.MaxVariance.String()
		if seenVariance[key] {
			return &ValidationError{Field: field + ".max_variance", Reason: "duplicate tier"}
		}
		seenVariance[key] = true
	}

	if r.GuestSpeakerBonusPerEvent.IsNegative() {
		return &ValidationError{Field: "guest_speaker_bonus_per_event", Reason: "must not be negative"}
	}
	if r.GuestSpeakerMaxEvents < 0 {
		return &ValidationError{Field: "guest_speaker_max_events", Reason: "must not be negative"}
	}
	return nil
}
