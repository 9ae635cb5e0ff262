/*
Package presets provides ready-made compensation plan definitions.

These functions build JSON plan definitions for the roles a camp network
usually staffs (coaches, lead coaches, camp directors, volunteers). They
produce the same JSON the catalog API accepts, so a preset can be posted
as-is or tweaked first.

USAGE:
  import "github.com/warp/incentive-engine/presets"

  jsonStr := presets.CoachJSON("coach-standard", "Coach (standard)")
  plan, err := factory.NewPlanFactory().ParsePlan(jsonStr)
*/
package presets

import (
	"encoding/json"

	"github.com/warp/incentive-engine/factory"
)

// Preset is a catalog entry a demo or an operator can start from.
type Preset struct {
	Code        string
	Name        string
	Description string
	JSON        string
}

// All returns every preset under its default code.
func All() []Preset {
	return []Preset{
		{"coach-standard", "Coach (standard)", "Stipends, enrollment bonus over 30 campers, CSAT and budget tiers, up to 3 guest speakers", CoachJSON("coach-standard", "Coach (standard)")},
		{"lead-coach", "Lead coach", "Higher stipends and tiers, enrollment bonus over 40 campers", LeadCoachJSON("lead-coach", "Lead coach")},
		{"camp-director", "Camp director", "Budget-weighted plan for the person running the session", DirectorJSON("camp-director", "Camp director")},
		{"volunteer", "Volunteer", "On-site stipend only", VolunteerJSON("volunteer", "Volunteer", 2500)},
	}
}

// CoachJSON returns JSON for the standard coach plan.
func CoachJSON(code, name string) string {
	return marshal(factory.PlanJSON{
		Code:                     code,
		Name:                     name,
		PreCampStipendAmount:     5000,
		OnSiteStipendAmount:      10000,
		EnrollmentThreshold:      30,
		EnrollmentBonusPerCamper: 500,
		CSATTiers: []factory.CSATTierJSON{
			{MinScore: "4.0", Bonus: 2500},
			{MinScore: "4.5", Bonus: 5000},
		},
		BudgetTiers: []factory.BudgetTierJSON{
			{MaxVariance: "0", Bonus: 2000},
			{MaxVariance: "-0.05", Bonus: 4000},
		},
		GuestSpeakerBonusPerEvent: 1000,
		GuestSpeakerMaxEvents:     3,
	})
}

// LeadCoachJSON returns JSON for a lead coach plan.
func LeadCoachJSON(code, name string) string {
	return marshal(factory.PlanJSON{
		Code:                     code,
		Name:                     name,
		PreCampStipendAmount:     7500,
		OnSiteStipendAmount:      15000,
		EnrollmentThreshold:      40,
		EnrollmentBonusPerCamper: 750,
		CSATTiers: []factory.CSATTierJSON{
			{MinScore: "4.0", Bonus: 4000},
			{MinScore: "4.5", Bonus: 7500},
			{MinScore: "4.8", Bonus: 10000},
		},
		BudgetTiers: []factory.BudgetTierJSON{
			{MaxVariance: "0", Bonus: 3000},
			{MaxVariance: "-0.05", Bonus: 6000},
		},
		GuestSpeakerBonusPerEvent: 1500,
		GuestSpeakerMaxEvents:     4,
	})
}

// DirectorJSON returns JSON for a camp director plan. Directors own the
// session budget, so the budget tiers carry most of the variable pay.
func DirectorJSON(code, name string) string {
	return marshal(factory.PlanJSON{
		Code:                     code,
		Name:                     name,
		PreCampStipendAmount:     15000,
		OnSiteStipendAmount:      25000,
		EnrollmentThreshold:      60,
		EnrollmentBonusPerCamper: 250,
		CSATTiers: []factory.CSATTierJSON{
			{MinScore: "4.5", Bonus: 5000},
		},
		BudgetTiers: []factory.BudgetTierJSON{
			{MaxVariance: "0", Bonus: 5000},
			{MaxVariance: "-0.05", Bonus: 10000},
			{MaxVariance: "-0.10", Bonus: 15000},
		},
	})
}

// VolunteerJSON returns JSON for a flat on-site stipend with no bonuses.
func VolunteerJSON(code, name string, onSiteStipend int64) string {
	return marshal(factory.PlanJSON{
		Code:                code,
		Name:                name,
		OnSiteStipendAmount: onSiteStipend,
	})
}

func marshal(pj factory.PlanJSON) string {
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}
