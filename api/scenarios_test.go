package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loadResponse struct {
	Status   string            `json:"status"`
	Scenario string            `json:"scenario"`
	Tokens   map[string]string `json:"tokens"`
}

func (ts *testServer) load(t *testing.T, id string) loadResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", hqOps, LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[loadResponse](t, rec)
}

func TestScenarios_ListAndLoadAll(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/scenarios", coachAna, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]ScenarioDTO](t, rec)
	require.Len(t, list, len(scenarios))

	for _, s := range list {
		t.Run(s.ID, func(t *testing.T) {
			resp := ts.load(t, s.ID)
			assert.Equal(t, "loaded", resp.Status)
			assert.Equal(t, s.ID, resp.Scenario)
			assert.Len(t, resp.Tokens, len(personas))

			rec := ts.do(t, http.MethodGet, "/api/scenarios/current", coachAna, nil)
			assert.Equal(t, s.ID, decodeBody[ScenarioDTO](t, rec).ID)
		})
	}
}

func TestLoadScenario_Rejections(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", licNorth, LoadScenarioRequest{ScenarioID: "summer-camp"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/scenarios/load", hqOps, LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/scenarios/load", hqOps, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoadScenario_ReplacesPreviousData(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.load(t, "two-territories")
	ts.load(t, "summer-camp")

	rec := ts.do(t, http.MethodGet, "/api/network/incentives", hqOps, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	n := decodeBody[NetworkOverviewDTO](t, rec)
	require.Len(t, n.PerTenant, 1)
	assert.Equal(t, 3, n.Totals.TotalSessions)
}

func TestScenarioTokens_Work(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.load(t, "summer-camp")

	caller, err := ts.tokens.Validate(resp.Tokens["coach-ana"])
	require.NoError(t, err)
	assert.Equal(t, coachAna, caller)
}

func TestSummerCamp_Amounts(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.load(t, "summer-camp")

	// GIVEN: 42 campers, CSAT 4.62, 8.1% under budget, two guest speakers
	// THEN: coach = 150 + 60 + 50 + 40 + 20, lead = 225 + 15 + 75 + 60 + 30
	rec := ts.do(t, http.MethodGet, "/api/camps/north-coding-jul/summary", licNorth, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody[CampSummaryDTO](t, rec)
	assert.Equal(t, "tenant-north", summary.Camp.TenantID)
	assert.Equal(t, "2025-07-07", summary.Camp.StartsOn)
	assert.Equal(t, int64(104500), summary.Totals.TotalCompensation)
	assert.Equal(t, int64(104500), summary.Totals.PendingCompensation)
	assert.Equal(t, 3, summary.Totals.TotalSessions)

	totals := map[string]int64{}
	for _, li := range summary.LineItems {
		totals[li.StaffProfileID] = li.Breakdown.Total
	}
	assert.Equal(t, map[string]int64{"coach-ana": 32000, "coach-ben": 32000, "lead-cara": 40500}, totals)

	rec = ts.do(t, http.MethodGet, "/api/me/incentives", coachAna, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeBody[SnapshotDTO](t, rec)
	assert.Equal(t, int64(32000), snap.TotalCompensation)
	require.NotNil(t, snap.AvgCSATScore)
	assert.Equal(t, "4.62", *snap.AvgCSATScore)
}

func TestTwoTerritories_Visibility(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.load(t, "two-territories")

	// coach-ana's snapshot spans both territories
	rec := ts.do(t, http.MethodGet, "/api/me/incentives", coachAna, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeBody[SnapshotDTO](t, rec)
	require.Len(t, snap.LineItems, 2)
	tenants := map[string]bool{}
	for _, li := range snap.LineItems {
		tenants[li.TenantID] = true
	}
	assert.True(t, tenants["tenant-north"])
	assert.True(t, tenants["tenant-south"])

	// each licensee sees its own territory only
	rec = ts.do(t, http.MethodGet, "/api/territories/tenant-south/incentives", licSouth, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	south := decodeBody[TerritoryOverviewDTO](t, rec)
	for _, s := range south.PerStaff {
		assert.NotEqual(t, "lead-cara", s.StaffProfileID)
	}
	rec = ts.do(t, http.MethodGet, "/api/camps/south-art-jul/records/volunteer-eli", licNorth, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// HQ sees both, and the network totals equal the sum of the tenants
	rec = ts.do(t, http.MethodGet, "/api/network/incentives", hqOps, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	n := decodeBody[NetworkOverviewDTO](t, rec)
	require.Len(t, n.PerTenant, 2)
	var sum int64
	for _, tr := range n.PerTenant {
		sum += tr.TotalCompensation
	}
	assert.Equal(t, n.Totals.TotalCompensation, sum)
	assert.Equal(t, n.Totals.TotalCompensation, n.Totals.PendingCompensation+n.Totals.FinalizedCompensation)
}

func TestSignOff_SecondFinalizeKeepsStamp(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.load(t, "sign-off")

	rec := ts.do(t, http.MethodGet, "/api/camps/north-coding-jul/records/coach-ana", licNorth, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[RecordDTO](t, rec)
	assert.Equal(t, "finalized", got.Status)
	assert.Equal(t, "lic-north", got.FinalizedByUserID)

	rec = ts.do(t, http.MethodGet, "/api/audit?action=record_finalized", hqOps, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]AuditEntryDTO](t, rec), 2, "repeat sign-off is not audited")
}

func TestCorrection_SuccessorUsesCorrectedFacts(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.load(t, "correction")

	// GIVEN: finalized at 32 campers (215.00), corrected to 40
	// THEN: the open successor pays 150 + 50 + 25 + 20 + 10
	rec := ts.do(t, http.MethodGet, "/api/camps/north-coding-jul/records/coach-ana", coachAna, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	succ := decodeBody[RecordDTO](t, rec)
	assert.Equal(t, "pending", succ.Status)
	assert.NotEmpty(t, succ.SupersedesID)
	assert.Equal(t, int64(25500), succ.Breakdown.Total)

	rec = ts.do(t, http.MethodGet, "/api/audit?action=record_superseded", licNorth, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]AuditEntryDTO](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "enrollment misreported", entries[0].Payload["reason"])
	assert.Equal(t, succ.SupersedesID, entries[0].Payload["superseded_id"])
}

func TestLoadScenario_WithoutTokenManager(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.handler.Tokens = nil
	resp := ts.load(t, "sign-off")
	assert.Nil(t, resp.Tokens)
}
