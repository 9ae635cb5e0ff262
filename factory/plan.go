/*
Package factory provides JSON to Go plan conversion.

PURPOSE:
  Converts JSON plan definitions into compensation.Plan values and back.
  HQ maintains the catalog through the HTTP API and the demo scenarios load
  presets, both in this format.

JSON SCHEMA:
  {
    "code": "coach-standard",
    "name": "Coach (standard)",
    "pre_camp_stipend_amount": 5000,
    "on_site_stipend_amount": 10000,
    "enrollment_threshold": 30,
    "enrollment_bonus_per_camper": 500,
    "csat_tiers": [
      {"min_score": "4.0", "bonus": 2500},
      {"min_score": "4.5", "bonus": 5000}
    ],
    "budget_tiers": [
      {"max_variance": "0", "bonus": 2000},
      {"max_variance": "-0.05", "bonus": 4000}
    ],
    "guest_speaker_bonus_per_event": 1000,
    "guest_speaker_max_events": 3
  }

  Amounts are integer minor units. Tier thresholds are decimal strings so
  that "4.5" survives the round trip exactly.

USAGE:
  f := factory.NewPlanFactory()
  plan, err := f.ParsePlan(presets.CoachJSON("coach-standard", "Coach"))

SEE ALSO:
  - compensation/plan.go: Plan type and validation
  - presets/plans.go: Ready-made plan definitions
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/incentive-engine/compensation"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PlanJSON is the JSON representation of the editable part of a plan.
type PlanJSON struct {
	Code                      string           `json:"code" validate:"required,max=64"`
	Name                      string           `json:"name" validate:"required,max=200"`
	PreCampStipendAmount      int64            `json:"pre_camp_stipend_amount" validate:"gte=0"`
	OnSiteStipendAmount       int64            `json:"on_site_stipend_amount" validate:"gte=0"`
	EnrollmentThreshold       int              `json:"enrollment_threshold" validate:"gte=0"`
	EnrollmentBonusPerCamper  int64            `json:"enrollment_bonus_per_camper" validate:"gte=0"`
	CSATTiers                 []CSATTierJSON   `json:"csat_tiers,omitempty" validate:"dive"`
	BudgetTiers               []BudgetTierJSON `json:"budget_tiers,omitempty" validate:"dive"`
	GuestSpeakerBonusPerEvent int64            `json:"guest_speaker_bonus_per_event,omitempty" validate:"gte=0"`
	GuestSpeakerMaxEvents     int              `json:"guest_speaker_max_events,omitempty" validate:"gte=0"`
}

// CSATTierJSON represents one satisfaction tier.
type CSATTierJSON struct {
	MinScore string `json:"min_score" validate:"required,numeric"`
	Bonus    int64  `json:"bonus" validate:"gte=0"`
}

// BudgetTierJSON represents one budget adherence tier.
type BudgetTierJSON struct {
	MaxVariance string `json:"max_variance" validate:"required,numeric"`
	Bonus       int64  `json:"bonus" validate:"gte=0"`
}

// =============================================================================
// PLAN FACTORY
// =============================================================================

// PlanFactory converts JSON plans to Go structs.
type PlanFactory struct{}

// NewPlanFactory creates a new plan factory.
func NewPlanFactory() *PlanFactory {
	return &PlanFactory{}
}

// ParsePlan parses a JSON string into a Plan. The result is normalized and
// validated; identity, version and timestamps are left for the catalog.
func (f *PlanFactory) ParsePlan(jsonStr string) (compensation.Plan, error) {
	var pj PlanJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return compensation.Plan{}, fmt.Errorf("failed to parse plan JSON: %w", err)
	}

	plan, err := f.FromJSON(pj)
	if err != nil {
		return compensation.Plan{}, err
	}
	if err := plan.Validate(); err != nil {
		return compensation.Plan{}, err
	}
	return plan, nil
}

// FromJSON converts PlanJSON to a compensation.Plan. Malformed tier
// thresholds are reported as validation errors naming the offending tier.
func (f *PlanFactory) FromJSON(pj PlanJSON) (compensation.Plan, error) {
	plan := compensation.Plan{
		Code:                     compensation.PlanCode(pj.Code),
		Name:                     pj.Name,
		PreCampStipendAmount:     compensation.Money(pj.PreCampStipendAmount),
		OnSiteStipendAmount:      compensation.Money(pj.OnSiteStipendAmount),
		EnrollmentThreshold:      pj.EnrollmentThreshold,
		EnrollmentBonusPerCamper: compensation.Money(pj.EnrollmentBonusPerCamper),
		Rules: compensation.BonusRules{
			GuestSpeakerBonusPerEvent: compensation.Money(pj.GuestSpeakerBonusPerEvent),
			GuestSpeakerMaxEvents:     pj.GuestSpeakerMaxEvents,
		},
	}

	for i, t := range pj.CSATTiers {
		score, err := parseThreshold(t.MinScore, fmt.Sprintf("csat_tiers[%d].min_score", i))
		if err != nil {
			return compensation.Plan{}, err
		}
		plan.Rules.CSATTiers = append(plan.Rules.CSATTiers, compensation.CSATTier{
			MinScore: score,
			Bonus:    compensation.Money(t.Bonus),
		})
	}
	for i, t := range pj.BudgetTiers {
		variance, err := parseThreshold(t.MaxVariance, fmt.Sprintf("budget_tiers[%d].max_variance", i))
		if err != nil {
			return compensation.Plan{}, err
		}
		plan.Rules.BudgetTiers = append(plan.Rules.BudgetTiers, compensation.BudgetTier{
			MaxVariance: variance,
			Bonus:       compensation.Money(t.Bonus),
		})
	}

	plan.Rules.Normalize()
	return plan, nil
}

// ToJSON converts a Plan back to its JSON representation.
func (f *PlanFactory) ToJSON(p compensation.Plan) PlanJSON {
	pj := PlanJSON{
		Code:                      string(p.Code),
		Name:                      p.Name,
		PreCampStipendAmount:      int64(p.PreCampStipendAmount),
		OnSiteStipendAmount:       int64(p.OnSiteStipendAmount),
		EnrollmentThreshold:       p.EnrollmentThreshold,
		EnrollmentBonusPerCamper:  int64(p.EnrollmentBonusPerCamper),
		GuestSpeakerBonusPerEvent: int64(p.Rules.GuestSpeakerBonusPerEvent),
		GuestSpeakerMaxEvents:     p.Rules.GuestSpeakerMaxEvents,
	}
	for _, t := range p.Rules.CSATTiers {
		pj.CSATTiers = append(pj.CSATTiers, CSATTierJSON{MinScore: t.MinScore.String(), Bonus: int64(t.Bonus)})
	}
	for _, t := range p.Rules.BudgetTiers {
		pj.BudgetTiers = append(pj.BudgetTiers, BudgetTierJSON{MaxVariance: t.MaxVariance.String(), Bonus: int64(t.Bonus)})
	}
	return pj
}

func parseThreshold(s, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &compensation.ValidationError{Field: field, Reason: "must be a decimal number"}
	}
	return d, nil
}
