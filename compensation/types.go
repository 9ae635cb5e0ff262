/*
Package compensation provides the staff incentive compensation engine.

PURPOSE:
  Turns a camp session's operational results (enrollment, satisfaction
  scores, budget adherence, guest-speaker activity) into a payable amount
  per staff member, locks those numbers once a licensee signs off, and
  serves role-scoped rollups of what is owed.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: Integer amount in currency minor units (cents)
  - SessionFacts: Recorded results of a camp session (calculator input)
  - Camp: A camp session owned by a tenant (territory)
  - Identifiers: Type-safe ids for camps, staff, tenants, plans, records

DESIGN PRINCIPLES:
  1. Snapshot: Plan parameters are copied onto the record at assignment
  2. Purity: The calculator has no clock, no randomness, no I/O
  3. Explicit scope: Every read takes a Caller, nothing reads ambient identity
  4. Auditability: Records are never deleted, corrections supersede

USAGE:
  engine := compensation.NewEngine(compensation.Deps{...})
  res, err := engine.FinalizeSession(ctx, caller, "camp-1", "coach-7")
  if res.Outcome == compensation.OutcomeAlreadyFinalized {
      // someone else signed off first
  }

SEE ALSO:
  - plan.go: Plan catalog types and validation
  - calculator.go: Incentive calculation
  - record.go: Finalization state machine
  - snapshot.go: Role-scoped aggregation
  - engine.go: Operations exposed to the HTTP layer
*/
package compensation

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Currency minor units
// =============================================================================

// Money is an amount in currency minor units (e.g. cents).
type Money int64

func (m Money) Add(o Money) Money        { return m + o }
func (m Money) Mul(n int) Money          { return m * Money(n) }
func (m Money) IsNegative() bool         { return m < 0 }
func (m Money) Decimal() decimal.Decimal { return decimal.NewFromInt(int64(m)) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CampID string
type StaffProfileID string
type TenantID string
type PlanID string
type PlanCode string
type RecordID string
type UserID string

// RecordKey identifies the current compensation record of a staff member
// for a camp session.
type RecordKey struct {
	TenantID       TenantID
	CampID         CampID
	StaffProfileID StaffProfileID
}

func (k RecordKey) String() string {
	return string(k.TenantID) + "/" + string(k.CampID) + "/" + string(k.StaffProfileID)
}

// =============================================================================
// CAMP - A session run by a tenant
// =============================================================================

type Camp struct {
	ID       CampID
	TenantID TenantID
	Name     string
	StartsOn time.Time
	EndsOn   time.Time
}

// =============================================================================
// SESSION FACTS - Calculator input
// =============================================================================

// SessionFacts are the recorded results of a camp session.
// CSATAvg and BudgetVariance are optional: an invalid NullDecimal means the
// fact has not been collected, which is different from a zero score.
type SessionFacts struct {
	Enrollment        int
	CSATAvg           decimal.NullDecimal
	BudgetVariance    decimal.NullDecimal // (actual - budget) / budget, negative = under budget
	GuestSpeakerCount int
	UpdatedAt         time.Time
}

// HasCSAT reports whether a satisfaction average was recorded.
func (f SessionFacts) HasCSAT() bool { return f.CSATAvg.Valid }

// HasBudget reports whether budget data was recorded.
func (f SessionFacts) HasBudget() bool { return f.BudgetVariance.Valid }

// NewNullDecimal wraps a decimal as a present optional value.
func NewNullDecimal(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// MustParseDecimal parses s and panics on malformed input. For literals.
func MustParseDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// FactsOutdated reports whether incoming facts are older than the facts a
// record already holds. Facts are never removed, so nil incoming facts are
// outdated once the record holds any.
func FactsOutdated(incoming, held *SessionFacts) bool {
	if held == nil {
		return false
	}
	if incoming == nil {
		return true
	}
	return incoming.UpdatedAt.Before(held.UpdatedAt)
}
