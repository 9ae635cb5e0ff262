/*
snapshot.go - Role-scoped aggregation

PURPOSE:
  Builds IncentiveSnapshot views from the records visible to a caller.
  Snapshots are computed fresh on every request and never cached: pending
  amounts move whenever session facts move.

INVARIANTS:
  - Pending + Finalized == Total for the same visible set
  - Averages only count records that carry the fact (absent != zero)
  - Superseded records are never counted

ROLLUPS:
  IncentiveSnapshot:  one caller's view with per-camp line items
  TerritoryOverview:  per-staff breakdown of one tenant plus totals
  NetworkOverview:    per-tenant breakdown for HQ plus totals
  CampSummary:        one camp session's roster
*/
package compensation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// averagePlaces is the rounding applied to reported means.
const averagePlaces = 2

// =============================================================================
// VIEW TYPES
// =============================================================================

// Summary holds the aggregate figures of a record set.
type Summary struct {
	TotalCompensation     Money
	PendingCompensation   Money
	FinalizedCompensation Money
	TotalSessions         int
	AvgCSATScore          decimal.NullDecimal
	AvgEnrollment         decimal.NullDecimal
}

// LineItem is one record as shown in a snapshot.
type LineItem struct {
	RecordID       RecordID
	TenantID       TenantID
	CampID         CampID
	StaffProfileID StaffProfileID
	PlanCode       PlanCode
	PlanVersion    int
	Breakdown      Breakdown
	Status         Status
	FinalizedAt    *time.Time
}

type IncentiveSnapshot struct {
	Summary
	LineItems []LineItem
}

type StaffBreakdown struct {
	StaffProfileID StaffProfileID
	Summary
}

type TerritoryOverview struct {
	TenantID TenantID
	PerStaff []StaffBreakdown
	Totals   Summary
}

type TenantBreakdown struct {
	TenantID TenantID
	Summary
}

type NetworkOverview struct {
	PerTenant []TenantBreakdown
	Totals    Summary
}

type CampSummary struct {
	Camp      Camp
	Totals    Summary
	LineItems []LineItem
}

// =============================================================================
// AGGREGATION
// =============================================================================

type accumulator struct {
	s         Summary
	csatSum   decimal.Decimal
	csatN     int64
	enrollSum int64
	enrollN   int64
}

func (a *accumulator) add(r Record) {
	a.s.TotalSessions++
	a.s.TotalCompensation += r.Breakdown.Total
	if r.IsFinalized() {
		a.s.FinalizedCompensation += r.Breakdown.Total
	} else {
		a.s.PendingCompensation += r.Breakdown.Total
	}
	if r.Facts == nil {
		return
	}
	a.enrollSum += int64(r.Facts.Enrollment)
	a.enrollN++
	if r.Facts.HasCSAT() {
		a.csatSum = a.csatSum.Add(r.Facts.CSATAvg.Decimal)
		a.csatN++
	}
}

func (a *accumulator) summary() Summary {
	s := a.s
	if a.csatN > 0 {
		s.AvgCSATScore = NewNullDecimal(a.csatSum.Div(decimal.NewFromInt(a.csatN)).Round(averagePlaces))
	}
	if a.enrollN > 0 {
		s.AvgEnrollment = NewNullDecimal(decimal.NewFromInt(a.enrollSum).Div(decimal.NewFromInt(a.enrollN)).Round(averagePlaces))
	}
	return s
}

// Summarize aggregates the non-superseded records.
func Summarize(records []Record) Summary {
	var acc accumulator
	for _, r := range records {
		if r.IsSuperseded() {
			continue
		}
		acc.add(r)
	}
	return acc.summary()
}

// BuildSnapshot aggregates records into a snapshot with line items.
func BuildSnapshot(records []Record) IncentiveSnapshot {
	snap := IncentiveSnapshot{Summary: Summarize(records), LineItems: []LineItem{}}
	for _, r := range records {
		if r.IsSuperseded() {
			continue
		}
		snap.LineItems = append(snap.LineItems, lineItem(r))
	}
	return snap
}

// BuildTerritoryOverview groups a tenant's records per staff member.
func BuildTerritoryOverview(tenant TenantID, records []Record) TerritoryOverview {
	groups := make(map[StaffProfileID][]Record)
	for _, r := range records {
		groups[r.StaffProfileID] = append(groups[r.StaffProfileID], r)
	}
	out := TerritoryOverview{TenantID: tenant, PerStaff: []StaffBreakdown{}, Totals: Summarize(records)}
	for staff, rs := range groups {
		sum := Summarize(rs)
		if sum.TotalSessions == 0 {
			continue
		}
		out.PerStaff = append(out.PerStaff, StaffBreakdown{StaffProfileID: staff, Summary: sum})
	}
	sort.Slice(out.PerStaff, func(i, j int) bool {
		return out.PerStaff[i].StaffProfileID < out.PerStaff[j].StaffProfileID
	})
	return out
}

// BuildNetworkOverview groups records per tenant.
func BuildNetworkOverview(records []Record) NetworkOverview {
	groups := make(map[TenantID][]Record)
	for _, r := range records {
		groups[r.TenantID] = append(groups[r.TenantID], r)
	}
	out := NetworkOverview{PerTenant: []TenantBreakdown{}, Totals: Summarize(records)}
	for tenant, rs := range groups {
		sum := Summarize(rs)
		if sum.TotalSessions == 0 {
			continue
		}
		out.PerTenant = append(out.PerTenant, TenantBreakdown{TenantID: tenant, Summary: sum})
	}
	sort.Slice(out.PerTenant, func(i, j int) bool {
		return out.PerTenant[i].TenantID < out.PerTenant[j].TenantID
	})
	return out
}

func lineItem(r Record) LineItem {
	return LineItem{
		RecordID:       r.ID,
		TenantID:       r.TenantID,
		CampID:         r.CampID,
		StaffProfileID: r.StaffProfileID,
		PlanCode:       r.Params.PlanCode,
		PlanVersion:    r.Params.PlanVersion,
		Breakdown:      r.Breakdown,
		Status:         r.Status,
		FinalizedAt:    r.FinalizedAt,
	}
}
