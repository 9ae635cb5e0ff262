/*
calculator.go - Incentive calculation

PURPOSE:
  Pure function from (PlanParams, SessionFacts) to an itemized breakdown.
  No clock, no randomness, no I/O: the same inputs always produce the same
  breakdown, which is what makes recomputing a pending record safe.

FORMULA:
  fixed       = preCamp + onSite
  enrollment  = max(0, enrollment - threshold) * perCamper
  csat        = bonus of highest CSAT tier with minScore <= csatAvg (0 if absent)
  budget      = bonus of tightest budget tier with variance <= maxVariance (0 if absent)
  guest       = min(count, maxEvents) * perEvent
  total       = fixed + enrollment + csat + budget + guest

EXAMPLE:
  plan {pre=50, onSite=100, threshold=30, rate=5}, enrollment=42
  fixed=150, enrollment=(42-30)*5=60, total=210
*/
package compensation

// Breakdown is the itemized result of a calculation.
type Breakdown struct {
	FixedStipend      Money
	EnrollmentBonus   Money
	CSATBonus         Money
	BudgetBonus       Money
	GuestSpeakerBonus Money
	Total             Money
}

// VariableBonus is the performance-linked part of the total.
func (b Breakdown) VariableBonus() Money {
	return b.EnrollmentBonus + b.CSATBonus + b.BudgetBonus + b.GuestSpeakerBonus
}

// Calculate computes the breakdown. It never fails: missing optional facts
// zero their component, and parameter validity is enforced when the plan is
// created.
func Calculate(p PlanParams, f SessionFacts) Breakdown {
	b := Breakdown{
		FixedStipend:      p.PreCampStipend + p.OnSiteStipend,
		EnrollmentBonus:   enrollmentBonus(p, f.Enrollment),
		CSATBonus:         csatBonus(p.Rules.CSATTiers, f),
		BudgetBonus:       budgetBonus(p.Rules.BudgetTiers, f),
		GuestSpeakerBonus: guestSpeakerBonus(p.Rules, f.GuestSpeakerCount),
	}
	b.Total = b.FixedStipend + b.VariableBonus()
	return b
}

func enrollmentBonus(p PlanParams, enrollment int) Money {
	over := enrollment - p.EnrollmentThreshold
	if over <= 0 {
		return 0
	}
	return p.EnrollmentBonusPerCamper.Mul(over)
}

// Tier tables may arrive in any order.
func csatBonus(tiers []CSATTier, f SessionFacts) Money {
	if !f.HasCSAT() {
		return 0
	}
	var (
		best  *CSATTier
		score = f.CSATAvg.Decimal
	)
	for i := range tiers {
		t := &tiers[i]
		if score.LessThan(t.MinScore) {
			continue
		}
		if best == nil || t.MinScore.GreaterThan(best.MinScore) {
			best = t
		}
	}
	if best == nil {
		return 0
	}
	return best.Bonus
}

func budgetBonus(tiers []BudgetTier, f SessionFacts) Money {
	if !f.HasBudget() {
		return 0
	}
	var (
		best     *BudgetTier
		variance = f.BudgetVariance.Decimal
	)
	for i := range tiers {
		t := &tiers[i]
		if variance.GreaterThan(t.MaxVariance) {
			continue
		}
		if best == nil || t.MaxVariance.LessThan(best.MaxVariance) {
			best = t
		}
	}
	if best == nil {
		return 0
	}
	return best.Bonus
}

func guestSpeakerBonus(r BonusRules, count int) Money {
	if count <= 0 {
		return 0
	}
	if r.GuestSpeakerMaxEvents > 0 && count > r.GuestSpeakerMaxEvents {
		count = r.GuestSpeakerMaxEvents
	}
	return r.GuestSpeakerBonusPerEvent.Mul(count)
}
