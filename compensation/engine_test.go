package compensation_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/incentive-engine/compensation"
	"github.com/warp/incentive-engine/compensation/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	hq       = compensation.Caller{ID: "hq-1", Role: compensation.RoleHQ}
	licA     = compensation.Caller{ID: "lic-a", Role: compensation.RoleLicensee, TenantID: "tenant-a"}
	licB     = compensation.Caller{ID: "lic-b", Role: compensation.RoleLicensee, TenantID: "tenant-b"}
	coach1   = compensation.Caller{ID: "coach-1", Role: compensation.RoleStaff, TenantID: "tenant-a"}
	coach2   = compensation.Caller{ID: "coach-2", Role: compensation.RoleStaff, TenantID: "tenant-a"}
	campA    = compensation.CampID("camp-a1")
	campB    = compensation.CampID("camp-b1")
	planCode = compensation.PlanCode("standard")
)

type testEngine struct {
	*compensation.Engine
	store *store.Memory
	clock *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingObserver struct {
	mu       sync.Mutex
	updated  int
	skipped  int
	outcomes map[compensation.FinalizeOutcome]int
}

func (o *countingObserver) RecomputeCompleted(updated, skipped int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updated += updated
	o.skipped += skipped
}

func (o *countingObserver) FinalizeCompleted(outcome compensation.FinalizeOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = make(map[compensation.FinalizeOutcome]int)
	}
	o.outcomes[outcome]++
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	return newTestEngineWithObserver(t, nil)
}

func newTestEngineWithObserver(t *testing.T, obs compensation.Observer) *testEngine {
	t.Helper()
	ctx := context.Background()

	mem := store.NewMemory()
	require.NoError(t, mem.SaveCamp(ctx, compensation.Camp{ID: campA, TenantID: "tenant-a", Name: "Robotics A"}))
	require.NoError(t, mem.SaveCamp(ctx, compensation.Camp{ID: campB, TenantID: "tenant-b", Name: "Robotics B"}))

	clock := &fakeClock{now: time.Date(2025, time.July, 1, 9, 0, 0, 0, time.UTC)}
	var seq atomic.Int64
	e := compensation.NewEngine(compensation.Deps{
		Store:    mem,
		Clock:    clock.Now,
		NewID:    func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
		Observer: obs,
	})

	_, err := e.CreatePlan(ctx, hq, compensation.Plan{
		Code:                     planCode,
		Name:                     "Standard Coach",
		PreCampStipendAmount:     50,
		OnSiteStipendAmount:      100,
		EnrollmentThreshold:      30,
		EnrollmentBonusPerCamper: 5,
	})
	require.NoError(t, err)

	return &testEngine{Engine: e, store: mem, clock: clock}
}

func (te *testEngine) assign(t *testing.T, caller compensation.Caller, camp compensation.CampID, staff compensation.StaffProfileID) compensation.Record {
	t.Helper()
	rec, err := te.AssignStaff(context.Background(), caller, camp, staff, planCode)
	require.NoError(t, err)
	return rec
}

func (te *testEngine) facts(t *testing.T, caller compensation.Caller, camp compensation.CampID, enrollment int) {
	t.Helper()
	_, err := te.RecordSessionFacts(context.Background(), caller, camp, compensation.SessionFacts{Enrollment: enrollment})
	require.NoError(t, err)
}

// =============================================================================
// PLAN CATALOG
// =============================================================================

func TestEngine_CreatePlan_HQOnly(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	_, err := te.CreatePlan(ctx, licA, compensation.Plan{Code: "other", Name: "Other"})
	assert.ErrorIs(t, err, compensation.ErrForbidden)

	_, err = te.CreatePlan(ctx, hq, compensation.Plan{Code: planCode, Name: "Dup"})
	assert.ErrorIs(t, err, compensation.ErrPlanExists)

	_, err = te.CreatePlan(ctx, hq, compensation.Plan{Code: "bad", Name: "Bad", OnSiteStipendAmount: -1})
	assert.ErrorIs(t, err, compensation.ErrValidation)
}

func TestEngine_UpdatePlan_BumpsVersionNotRetroactive(t *testing.T) {
	// GIVEN: a record assigned under version 1
	// WHEN: HQ raises the on-site stipend and facts change
	// THEN: the existing record still pays version 1 stipends

	te := newTestEngine(t)
	ctx := context.Background()
	te.assign(t, licA, campA, "coach-1")

	p, err := te.GetPlan(ctx, planCode)
	require.NoError(t, err)
	p.OnSiteStipendAmount = 500
	updated, err := te.UpdatePlan(ctx, hq, p)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	te.facts(t, licA, campA, 30)

	rec, err := te.GetRecord(ctx, licA, campA, "coach-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Params.PlanVersion)
	assert.Equal(t, compensation.Money(150), rec.Breakdown.Total)

	// New assignments pick up version 2.
	rec2 := te.assign(t, licA, campA, "coach-2")
	assert.Equal(t, 2, rec2.Params.PlanVersion)
	assert.Equal(t, compensation.Money(550), rec2.Breakdown.Total)
}

func TestEngine_RetirePlan_BlocksNewAssignments(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.assign(t, licA, campA, "coach-1")

	p, err := te.RetirePlan(ctx, hq, planCode)
	require.NoError(t, err)
	assert.False(t, p.IsActive)

	_, err = te.AssignStaff(ctx, licA, campA, "coach-2", planCode)
	assert.ErrorIs(t, err, compensation.ErrPlanInactive)

	// Existing record keeps working.
	res, err := te.FinalizeSession(ctx, licA, campA, "coach-1")
	require.NoError(t, err)
	assert.Equal(t, compensation.OutcomeFinalized, res.Outcome)
}

// =============================================================================
// ASSIGNMENT & RECOMPUTE
// =============================================================================

func TestEngine_AssignStaff_Scope(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	_, err := te.AssignStaff(ctx, licB, campA, "coach-1", planCode)
	assert.True(t, compensation.IsNotFound(err), "other tenant's camp looks missing")

	_, err = te.AssignStaff(ctx, coach1, campA, "coach-1", planCode)
	assert.ErrorIs(t, err, compensation.ErrForbidden)

	te.assign(t, licA, campA, "coach-1")
	_, err = te.AssignStaff(ctx, licA, campA, "coach-1", planCode)
	assert.ErrorIs(t, err, compensation.ErrRecordExists)

	_, err = te.AssignStaff(ctx, licA, campA, "coach-9", "missing")
	assert.True(t, compensation.IsNotFound(err))
}

func TestEngine_RecordSessionFacts_RecomputesPendingOnly(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.assign(t, licA, campA, "coach-1")
	te.assign(t, licA, campA, "coach-2")
	te.facts(t, licA, campA, 42)

	_, err := te.FinalizeSession(ctx, licA, campA, "coach-1")
	require.NoError(t, err)

	res, err := te.RecordSessionFacts(ctx, licA, campA, compensation.SessionFacts{Enrollment: 50})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Skipped)

	final, err := te.GetRecord(ctx, licA, campA, "coach-1")
	require.NoError(t, err)
	assert.Equal(t, compensation.Money(210), final.Breakdown.Total, "finalized record frozen")

	pending, err := te.GetRecord(ctx, licA, campA, "coach-2")
	require.NoError(t, err)
	assert.Equal(t, compensation.Money(250), pending.Breakdown.Total)
}

func TestEngine_RecordSessionFacts_Validation(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	_, err := te.RecordSessionFacts(ctx, licA, campA, compensation.SessionFacts{Enrollment: -1})
	assert.ErrorIs(t, err, compensation.ErrValidation)

	_, err = te.RecordSessionFacts(ctx, licA, campA, csat("5.5"))
	assert.ErrorIs(t, err, compensation.ErrValidation)
}

func TestEngine_Recompute_FinalizedReturnsConflictAndUnchanged(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.assign(t, licA, campA, "coach-1")
	te.facts(t, licA, campA, 42)

	res, err := te.FinalizeSession(ctx, licA, campA, "coach-1")
	require.NoError(t, err)

	require.NoError(t, te.store.SaveSessionFacts(ctx, campA, compensation.SessionFacts{Enrollment: 99}))
	rec, err := te.Recompute(ctx, licA, campA, "coach-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, compensation.ErrAlreadyFinalized)
	assert.Equal(t, res.Record, rec)
	assert.Equal(t, compensation.Money(210), rec.Breakdown.Total)
}

func TestEngine_Recompute_Idempotent(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.assign(t, licA, campA, "coach-1")
	te.facts(t, licA, campA, 42)

	first, err := te.Recompute(ctx, licA, campA, "coach-1")
	require.NoError(t, err)
	second, err := te.Recompute(ctx, licA, campA, "coach-1")
	require.NoError(t, err)
	assert.Equal(t, first.Breakdown, second.Breakdown)
}

func TestEngine_RecomputePending_NoFactsPaysFixed(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.assign(t, licA, campA, "coach-1")

	res, err := te.RecomputePending(ctx, campA)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	rec, err := te.GetRecord(ctx, hq, campA, "coach-1")
	require.NoError(t, err)
	assert.Equal(t, compensation.Money(150), rec.Breakdown.Total)
	assert.Nil(t, rec.Facts)
}

// =============================================================================
// FINALIZATION
// =============================================================================

func TestEngine_Finalize_SecondCallReportsAlreadyFinalized(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.assign(t, licA, campA, "coach-1")

	first, err := te.FinalizeSession(ctx, licA, campA, "coach-1")
	require.NoError(t, err)
	assert.Equal(t, compensation.OutcomeFinalized, first.Outcome)

	te.clock.Advance(time.Hour)
	second, err := te.FinalizeSession(ctx, hq, campA, "coach-1")
	require.NoError(t, err)
	assert.Equal(t, compensation.OutcomeAlreadyFinalized, second.Outcome)
	assert.Equal(t, *first.Record.FinalizedAt, *second.Record.FinalizedAt)
	assert.Equal(t, compensation.UserID("lic-a"), second.Record.FinalizedByUserID)
}

func TestEngine_Finalize_ConcurrentExactlyOneWins(t *testing.T) {
	// GIVEN: one pending record
	// WHEN: many callers finalize at once
	// THEN: exactly one sees OutcomeFinalized, the rest AlreadyFinalized

	obs := &countingObserver{}
	te := newTestEngineWithObserver(t, obs)
	ctx := context.Background()
	te.assign(t, licA, campA, "coach-1")

	const n = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = make(map[compensation.FinalizeOutcome]int)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller := licA
			if i%2 == 0 {
				caller = hq
			}
			res, err := te.FinalizeSession(ctx, caller, campA, "coach-1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[compensation.OutcomeFinalized])
	assert.Equal(t, n-1, outcomes[compensation.OutcomeAlreadyFinalized])
	assert.Equal(t, 1, obs.outcomes[compensation.OutcomeFinalized])

	entries, err := te.AuditTrail(ctx, hq, compensation.AuditFilter{Actions: []compensation.AuditAction{compensation.AuditRecordFinalized}})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEngine_Finalize_Scope(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.assign(t, licA, campA, "coach-1")

	_, err := te.FinalizeSession(ctx, licB, campA, "coach-1")
	assert.True(t, compensation.IsNotFound(err))

	_, err = te.FinalizeSession(ctx, coach1, campA, "coach-1")
	assert.ErrorIs(t, err, compensation.ErrForbidden)

	_, err = te.FinalizeSession(ctx, licA, campA, "ghost")
	assert.True(t, compensation.IsNotFound(err))
}

// =============================================================================
// SUPERSEDE
// =============================================================================

func TestEngine_Supersede(t *testing.T) {
	// GIVEN: a finalized record paid on enrollment 42
	// WHEN: enrollment is corrected to 36 and the record superseded
	// THEN: a new pending record carries the corrected amount, the old one
	//       stays finalized and drops out of rollups

	te := newTestEngine(t)
	ctx := context.Background()
	te.assign(t, licA, campA, "coach-1")
	te.facts(t, licA, campA, 42)
	final, err := te.FinalizeSession(ctx, licA, campA, "coach-1")
	require.NoError(t, err)

	_, err = te.Supersede(ctx, licA, campA, "coach-1", "")
	assert.ErrorIs(t, err, compensation.ErrValidation)

	require.NoError(t, te.store.SaveSessionFacts(ctx, campA, compensation.SessionFacts{Enrollment: 36}))
	te.clock.Advance(time.Hour)
	succ, err := te.Supersede(ctx, licA, campA, "coach-1", "enrollment miscounted")
	require.NoError(t, err)
	assert.Equal(t, final.Record.ID, succ.SupersedesID)
	assert.Equal(t, compensation.StatusPending, succ.Status)
	assert.Equal(t, compensation.Money(180), succ.Breakdown.Total)

	current, err := te.GetRecord(ctx, licA, campA, "coach-1")
	require.NoError(t, err)
	assert.Equal(t, succ.ID, current.ID)

	all, err := te.store.ListRecords(ctx, compensation.RecordFilter{CampID: campA, IncludeSuperseded: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, compensation.StatusFinalized, all[0].Status)
	assert.Equal(t, compensation.Money(210), all[0].Breakdown.Total)
	assert.Equal(t, succ.ID, all[0].SupersededByID)

	snap, err := te.GetMyIncentiveSnapshot(ctx, coach1)
	require.NoError(t, err)
	assert.Equal(t, compensation.Money(180), snap.TotalCompensation)
	assert.Equal(t, 1, snap.TotalSessions)

	// Superseding the pending successor is refused.
	_, err = te.Supersede(ctx, licA, campA, "coach-1", "again")
	assert.ErrorIs(t, err, compensation.ErrNotFinalized)
}

// =============================================================================
// ROLE-SCOPED ROLLUPS
// =============================================================================

func seedTwoTenants(t *testing.T, te *testEngine) {
	t.Helper()
	te.assign(t, licA, campA, "coach-1")
	te.assign(t, licA, campA, "coach-2")
	te.assign(t, licB, campB, "coach-1")
	te.assign(t, licB, campB, "coach-3")
	te.facts(t, licA, campA, 42)
	te.facts(t, licB, campB, 30)
	_, err := te.FinalizeSession(context.Background(), licA, campA, "coach-2")
	require.NoError(t, err)
}

func TestEngine_MySnapshot_OwnRecordsAcrossTenants(t *testing.T) {
	te := newTestEngine(t)
	seedTwoTenants(t, te)

	snap, err := te.GetMyIncentiveSnapshot(context.Background(), coach1)
	require.NoError(t, err)

	require.Len(t, snap.LineItems, 2)
	for _, li := range snap.LineItems {
		assert.Equal(t, compensation.StaffProfileID("coach-1"), li.StaffProfileID)
	}
	assert.Equal(t, compensation.Money(210+150), snap.TotalCompensation)
	assert.Equal(t, snap.TotalCompensation, snap.PendingCompensation+snap.FinalizedCompensation)
}

func TestEngine_MySnapshot_NoRecords(t *testing.T) {
	te := newTestEngine(t)
	snap, err := te.GetMyIncentiveSnapshot(context.Background(), compensation.Caller{ID: "nobody", Role: compensation.RoleStaff})
	require.NoError(t, err)
	assert.Equal(t, 0, snap.TotalSessions)
	assert.Empty(t, snap.LineItems)
}

func TestEngine_TerritoryOverview_Isolation(t *testing.T) {
	te := newTestEngine(t)
	seedTwoTenants(t, te)
	ctx := context.Background()

	o, err := te.GetTerritoryIncentiveOverview(ctx, licA, "tenant-a")
	require.NoError(t, err)
	require.Len(t, o.PerStaff, 2)
	assert.Equal(t, compensation.Money(420), o.Totals.TotalCompensation)
	assert.Equal(t, compensation.Money(210), o.Totals.FinalizedCompensation)

	_, err = te.GetTerritoryIncentiveOverview(ctx, licA, "tenant-b")
	assert.True(t, compensation.IsNotFound(err))

	_, err = te.GetTerritoryIncentiveOverview(ctx, coach1, "tenant-a")
	assert.ErrorIs(t, err, compensation.ErrForbidden)

	viaHQ, err := te.GetTerritoryIncentiveOverview(ctx, hq, "tenant-b")
	require.NoError(t, err)
	assert.Equal(t, compensation.Money(300), viaHQ.Totals.TotalCompensation)
}

func TestEngine_NetworkOverview(t *testing.T) {
	te := newTestEngine(t)
	seedTwoTenants(t, te)
	ctx := context.Background()

	o, err := te.GetNetworkOverview(ctx, hq)
	require.NoError(t, err)
	require.Len(t, o.PerTenant, 2)
	assert.Equal(t, compensation.Money(720), o.Totals.TotalCompensation)

	_, err = te.GetNetworkOverview(ctx, licA)
	assert.ErrorIs(t, err, compensation.ErrForbidden)
}

func TestEngine_GetRecord_OtherStaffLooksMissing(t *testing.T) {
	te := newTestEngine(t)
	seedTwoTenants(t, te)
	ctx := context.Background()

	_, err := te.GetRecord(ctx, coach2, campA, "coach-1")
	assert.True(t, compensation.IsNotFound(err))

	_, err = te.GetRecord(ctx, licB, campA, "coach-1")
	assert.True(t, compensation.IsNotFound(err))

	rec, err := te.GetRecord(ctx, coach1, campA, "coach-1")
	require.NoError(t, err)
	assert.Equal(t, compensation.TenantID("tenant-a"), rec.TenantID)
}

func TestEngine_CampSummary(t *testing.T) {
	te := newTestEngine(t)
	seedTwoTenants(t, te)
	ctx := context.Background()

	s, err := te.GetCampSummary(ctx, licA, campA)
	require.NoError(t, err)
	assert.Len(t, s.LineItems, 2)

	mine, err := te.GetCampSummary(ctx, coach2, campA)
	require.NoError(t, err)
	require.Len(t, mine.LineItems, 1)
	assert.Equal(t, compensation.StaffProfileID("coach-2"), mine.LineItems[0].StaffProfileID)

	_, err = te.GetCampSummary(ctx, licB, campA)
	assert.True(t, compensation.IsNotFound(err))
}

// =============================================================================
// AUDIT
// =============================================================================

func TestEngine_AuditTrail_Scoped(t *testing.T) {
	te := newTestEngine(t)
	seedTwoTenants(t, te)
	ctx := context.Background()

	entries, err := te.AuditTrail(ctx, licB, compensation.AuditFilter{TenantID: "tenant-a"})
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, compensation.TenantID("tenant-b"), e.TenantID)
	}
	assert.Len(t, entries, 2)

	all, err := te.AuditTrail(ctx, hq, compensation.AuditFilter{})
	require.NoError(t, err)
	// plan_created + 4 assignments + 1 finalize
	assert.Len(t, all, 6)

	_, err = te.AuditTrail(ctx, coach1, compensation.AuditFilter{})
	assert.ErrorIs(t, err, compensation.ErrForbidden)
}

// interleavingStore runs during once, right before the first ListRecords,
// to slip a competing write between a recompute's facts read and its write.
type interleavingStore struct {
	*store.Memory
	during func()
	fired  bool
}

func (s *interleavingStore) ListRecords(ctx context.Context, f compensation.RecordFilter) ([]compensation.Record, error) {
	if !s.fired {
		s.fired = true
		s.during()
	}
	return s.Memory.ListRecords(ctx, f)
}

func TestEngine_RecomputePending_NewerFactsWin(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.assign(t, licA, campA, "coach-1")
	te.facts(t, licA, campA, 30)

	// GIVEN: a pass that has read enrollment=30
	// WHEN: enrollment=42 is recorded and applied before that pass writes
	// THEN: the older pass is refused and the record keeps 42
	wrapped := &interleavingStore{Memory: te.store}
	slow := compensation.NewEngine(compensation.Deps{Store: wrapped, Clock: te.clock.Now})
	wrapped.during = func() {
		te.clock.Advance(time.Minute)
		te.facts(t, licA, campA, 42)
	}

	res, err := slow.RecomputePending(ctx, campA)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.Skipped)

	rec, err := te.GetRecord(ctx, licA, campA, "coach-1")
	require.NoError(t, err)
	require.NotNil(t, rec.Facts)
	assert.Equal(t, 42, rec.Facts.Enrollment)
	assert.Equal(t, compensation.Money(210), rec.Breakdown.Total)
}
