package factory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/incentive-engine/compensation"
)

const tieredPlanJSON = `{
  "code": "coach",
  "name": "Coach",
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
}`

func TestParsePlan_Tiered(t *testing.T) {
	plan, err := NewPlanFactory().ParsePlan(tieredPlanJSON)
	require.NoError(t, err)

	assert.Equal(t, compensation.PlanCode("coach"), plan.Code)
	assert.Equal(t, compensation.Money(5000), plan.PreCampStipendAmount)
	assert.Equal(t, 30, plan.EnrollmentThreshold)
	assert.Equal(t, 3, plan.Rules.GuestSpeakerMaxEvents)

	// Normalized into evaluation order
	require.Len(t, plan.Rules.CSATTiers, 2)
	assert.Equal(t, "4.5", plan.Rules.CSATTiers[0].MinScore.String())
	require.Len(t, plan.Rules.BudgetTiers, 2)
	assert.Equal(t, "-0.05", plan.Rules.BudgetTiers[0].MaxVariance.String())
}

func TestParsePlan_MalformedJSON(t *testing.T) {
	_, err := NewPlanFactory().ParsePlan(`{"code":`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse plan JSON")
}

func TestParsePlan_BadThreshold(t *testing.T) {
	_, err := NewPlanFactory().ParsePlan(`{"code":"c","name":"C","csat_tiers":[{"min_score":"high","bonus":1}]}`)

	var ve *compensation.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "csat_tiers[0].min_score", ve.Field)
}

func TestParsePlan_InvalidPlan(t *testing.T) {
	_, err := NewPlanFactory().ParsePlan(`{"code":"c","name":"C","on_site_stipend_amount":-1}`)
	assert.ErrorIs(t, err, compensation.ErrValidation)
}

func TestToJSON_RoundTrip(t *testing.T) {
	f := NewPlanFactory()
	plan, err := f.ParsePlan(tieredPlanJSON)
	require.NoError(t, err)

	again, err := f.FromJSON(f.ToJSON(plan))
	require.NoError(t, err)
	assert.Equal(t, plan.Params().Rules.CSATTiers[0].MinScore.String(), again.Rules.CSATTiers[0].MinScore.String())
	assert.Equal(t, f.ToJSON(plan), f.ToJSON(again))
}
