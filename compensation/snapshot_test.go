package compensation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/incentive-engine/compensation"
)

func record(tenant compensation.TenantID, camp compensation.CampID, staff compensation.StaffProfileID, total compensation.Money, status compensation.Status, facts *compensation.SessionFacts) compensation.Record {
	return compensation.Record{
		ID:             compensation.RecordID(string(camp) + "/" + string(staff)),
		TenantID:       tenant,
		CampID:         camp,
		StaffProfileID: staff,
		Breakdown:      compensation.Breakdown{FixedStipend: total, Total: total},
		Status:         status,
		Facts:          facts,
	}
}

func withCSAT(enrollment int, score string) *compensation.SessionFacts {
	f := csat(score)
	f.Enrollment = enrollment
	return &f
}

func TestSummarize_PendingPlusFinalizedEqualsTotal(t *testing.T) {
	records := []compensation.Record{
		record("t-a", "c-1", "s-1", 150, compensation.StatusPending, nil),
		record("t-a", "c-1", "s-2", 210, compensation.StatusFinalized, nil),
		record("t-a", "c-2", "s-1", 175, compensation.StatusFinalized, nil),
	}
	s := compensation.Summarize(records)

	assert.Equal(t, compensation.Money(535), s.TotalCompensation)
	assert.Equal(t, compensation.Money(150), s.PendingCompensation)
	assert.Equal(t, compensation.Money(385), s.FinalizedCompensation)
	assert.Equal(t, s.TotalCompensation, s.PendingCompensation+s.FinalizedCompensation)
	assert.Equal(t, 3, s.TotalSessions)
}

func TestSummarize_AveragesExcludeMissingFacts(t *testing.T) {
	// GIVEN: three records, one with CSAT 4.0, one with CSAT 5.0, one with
	//        enrollment but no CSAT
	// THEN: CSAT average is 4.5 (not 3.0), enrollment averages all three

	noCSAT := &compensation.SessionFacts{Enrollment: 30}
	records := []compensation.Record{
		record("t-a", "c-1", "s-1", 100, compensation.StatusPending, withCSAT(40, "4.0")),
		record("t-a", "c-2", "s-1", 100, compensation.StatusPending, withCSAT(20, "5.0")),
		record("t-a", "c-3", "s-1", 100, compensation.StatusPending, noCSAT),
	}
	s := compensation.Summarize(records)

	require.True(t, s.AvgCSATScore.Valid)
	assert.Equal(t, "4.5", s.AvgCSATScore.Decimal.String())
	require.True(t, s.AvgEnrollment.Valid)
	assert.Equal(t, "30", s.AvgEnrollment.Decimal.String())
}

func TestSummarize_NoFacts_AveragesAbsent(t *testing.T) {
	s := compensation.Summarize([]compensation.Record{
		record("t-a", "c-1", "s-1", 150, compensation.StatusPending, nil),
	})
	assert.False(t, s.AvgCSATScore.Valid)
	assert.False(t, s.AvgEnrollment.Valid)
}

func TestSummarize_Empty(t *testing.T) {
	s := compensation.Summarize(nil)
	assert.Equal(t, compensation.Summary{}, s)
}

func TestSummarize_SkipsSuperseded(t *testing.T) {
	old := record("t-a", "c-1", "s-1", 150, compensation.StatusFinalized, nil)
	old.SupersededByID = "c-1/s-1#2"
	succ := record("t-a", "c-1", "s-1", 180, compensation.StatusPending, nil)

	s := compensation.Summarize([]compensation.Record{old, succ})
	assert.Equal(t, compensation.Money(180), s.TotalCompensation)
	assert.Equal(t, 1, s.TotalSessions)

	snap := compensation.BuildSnapshot([]compensation.Record{old, succ})
	assert.Len(t, snap.LineItems, 1)
}

func TestBuildTerritoryOverview_PerStaffSortedAndConserved(t *testing.T) {
	records := []compensation.Record{
		record("t-a", "c-1", "s-2", 210, compensation.StatusFinalized, nil),
		record("t-a", "c-1", "s-1", 150, compensation.StatusPending, nil),
		record("t-a", "c-2", "s-1", 100, compensation.StatusFinalized, nil),
	}
	o := compensation.BuildTerritoryOverview("t-a", records)

	require.Len(t, o.PerStaff, 2)
	assert.Equal(t, compensation.StaffProfileID("s-1"), o.PerStaff[0].StaffProfileID)
	assert.Equal(t, compensation.Money(250), o.PerStaff[0].TotalCompensation)

	var sum compensation.Money
	for _, s := range o.PerStaff {
		sum += s.TotalCompensation
	}
	assert.Equal(t, o.Totals.TotalCompensation, sum)
}

func TestBuildNetworkOverview_PerTenant(t *testing.T) {
	records := []compensation.Record{
		record("t-b", "c-9", "s-7", 300, compensation.StatusPending, nil),
		record("t-a", "c-1", "s-1", 150, compensation.StatusFinalized, nil),
	}
	o := compensation.BuildNetworkOverview(records)

	require.Len(t, o.PerTenant, 2)
	assert.Equal(t, compensation.TenantID("t-a"), o.PerTenant[0].TenantID)
	assert.Equal(t, compensation.Money(450), o.Totals.TotalCompensation)
	assert.Equal(t, compensation.Money(300), o.Totals.PendingCompensation)
}
