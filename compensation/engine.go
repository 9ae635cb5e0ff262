/*
engine.go - Operations exposed to the HTTP layer and the scheduler

PURPOSE:
  Orchestrates the catalog, the calculator, the state machine and the
  aggregator over a Store. The engine is stateless between calls: every
  operation reads current data, computes, and persists.

SCOPING:
  Every operation that touches records takes an explicit Caller.
  - Role cannot perform the operation at all  -> ErrForbidden
  - Target exists but is outside the scope    -> NotFoundError (same as missing)

OPERATIONS:
  Catalog:     CreatePlan, UpdatePlan, RetirePlan, GetPlan, ListPlans
  Records:     AssignStaff, RecordSessionFacts, RecomputePending, RecomputeCamp,
               Recompute, FinalizeSession, Supersede, GetRecord
  Rollups:     GetMyIncentiveSnapshot, GetTerritoryIncentiveOverview,
               GetNetworkOverview, GetCampSummary
  Audit:       AuditTrail
*/
package compensation

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Deps are the engine's collaborators. Only Store is required.
type Deps struct {
	Store    Store
	Logger   *slog.Logger
	Clock    func() time.Time
	NewID    func() string
	Observer Observer
}

type Engine struct {
	store    Store
	log      *slog.Logger
	now      func() time.Time
	newID    func() string
	observer Observer
}

func NewEngine(d Deps) *Engine {
	e := &Engine{
		store:    d.Store,
		log:      d.Logger,
		now:      d.Clock,
		newID:    d.NewID,
		observer: d.Observer,
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.observer == nil {
		e.observer = NopObserver{}
	}
	return e
}

// =============================================================================
// PLAN CATALOG
// =============================================================================

// CreatePlan validates and stores a new plan at version 1.
func (e *Engine) CreatePlan(ctx context.Context, caller Caller, p Plan) (Plan, error) {
	if caller.Role != RoleHQ {
		return Plan{}, ErrForbidden
	}
	p.Rules.Normalize()
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}

	now := e.now()
	p.ID = PlanID(e.newID())
	p.Version = 1
	p.IsActive = true
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := e.store.CreatePlan(ctx, p); err != nil {
		return Plan{}, err
	}
	e.audit(ctx, AuditEntry{ActorID: caller.ID, Action: AuditPlanCreated, Payload: planPayload(p)})
	e.log.InfoContext(ctx, "plan created", "plan_code", p.Code, "actor", caller.ID)
	return p, nil
}

// UpdatePlan replaces the editable fields of a plan and bumps its version.
// Records already assigned keep the parameters they were created with.
func (e *Engine) UpdatePlan(ctx context.Context, caller Caller, p Plan) (Plan, error) {
	if caller.Role != RoleHQ {
		return Plan{}, ErrForbidden
	}
	existing, err := e.store.GetPlan(ctx, p.Code)
	if err != nil {
		return Plan{}, err
	}
	p.Rules.Normalize()
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}

	p.ID = existing.ID
	p.Version = existing.Version + 1
	p.IsActive = existing.IsActive
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = e.now()

	if err := e.store.UpdatePlan(ctx, p); err != nil {
		return Plan{}, err
	}
	e.audit(ctx, AuditEntry{ActorID: caller.ID, Action: AuditPlanUpdated, Payload: planPayload(p)})
	e.log.InfoContext(ctx, "plan updated", "plan_code", p.Code, "version", p.Version, "actor", caller.ID)
	return p, nil
}

// RetirePlan deactivates a plan. New assignments are refused; existing
// records are unaffected. Retiring a retired plan is a no-op.
func (e *Engine) RetirePlan(ctx context.Context, caller Caller, code PlanCode) (Plan, error) {
	if caller.Role != RoleHQ {
		return Plan{}, ErrForbidden
	}
	p, err := e.store.GetPlan(ctx, code)
	if err != nil {
		return Plan{}, err
	}
	if !p.IsActive {
		return p, nil
	}
	p.IsActive = false
	p.UpdatedAt = e.now()
	if err := e.store.UpdatePlan(ctx, p); err != nil {
		return Plan{}, err
	}
	e.audit(ctx, AuditEntry{ActorID: caller.ID, Action: AuditPlanRetired, Payload: planPayload(p)})
	e.log.InfoContext(ctx, "plan retired", "plan_code", p.Code, "actor", caller.ID)
	return p, nil
}

func (e *Engine) GetPlan(ctx context.Context, code PlanCode) (Plan, error) {
	return e.store.GetPlan(ctx, code)
}

func (e *Engine) ListPlans(ctx context.Context) ([]Plan, error) {
	return e.store.ListPlans(ctx)
}

// =============================================================================
// ASSIGNMENT & FACTS
// =============================================================================

// AssignStaff creates the pending record for a staff member on a camp,
// snapshotting the plan's current parameters.
func (e *Engine) AssignStaff(ctx context.Context, caller Caller, campID CampID, staff StaffProfileID, code PlanCode) (Record, error) {
	if staff == "" {
		return Record{}, &ValidationError{Field: "staff_profile_id", Reason: "required"}
	}
	camp, err := e.manageableCamp(ctx, caller, campID)
	if err != nil {
		return Record{}, err
	}
	plan, err := e.store.GetPlan(ctx, code)
	if err != nil {
		return Record{}, err
	}
	if !plan.IsActive {
		return Record{}, ErrPlanInactive
	}
	facts, err := e.store.SessionFacts(ctx, camp.ID)
	if err != nil {
		return Record{}, err
	}

	rec := NewRecord(RecordID(e.newID()), camp, staff, plan, facts, e.now())
	if err := e.store.InsertRecord(ctx, rec); err != nil {
		return Record{}, err
	}
	e.audit(ctx, AuditEntry{
		ActorID:        caller.ID,
		Action:         AuditStaffAssigned,
		TenantID:       camp.TenantID,
		CampID:         camp.ID,
		StaffProfileID: staff,
		Payload:        map[string]string{"plan_code": string(plan.Code), "record_id": string(rec.ID)},
	})
	e.log.InfoContext(ctx, "staff assigned",
		"camp_id", camp.ID, "staff_profile_id", staff, "plan_code", plan.Code, "actor", caller.ID)
	return rec, nil
}

// RecordSessionFacts stores new facts for a camp and recomputes its
// pending records.
func (e *Engine) RecordSessionFacts(ctx context.Context, caller Caller, campID CampID, f SessionFacts) (RecomputeResult, error) {
	if err := validateFacts(f); err != nil {
		return RecomputeResult{}, err
	}
	camp, err := e.manageableCamp(ctx, caller, campID)
	if err != nil {
		return RecomputeResult{}, err
	}
	f.UpdatedAt = e.now()
	if err := e.store.SaveSessionFacts(ctx, camp.ID, f); err != nil {
		return RecomputeResult{}, err
	}
	return e.RecomputePending(ctx, camp.ID)
}

func validateFacts(f SessionFacts) error {
	if f.Enrollment < 0 {
		return &ValidationError{Field: "enrollment", Reason: "must not be negative"}
	}
	if f.GuestSpeakerCount < 0 {
		return &ValidationError{Field: "guest_speaker_count", Reason: "must not be negative"}
	}
	if f.HasCSAT() && (f.CSATAvg.Decimal.IsNegative() || f.CSATAvg.Decimal.GreaterThan(MaxCSATScore)) {
		return &ValidationError{Field: "csat_avg", Reason: "must be between 0 and 5"}
	}
	return nil
}

// =============================================================================
// RECOMPUTE
// =============================================================================

// RecomputeResult reports what a recompute pass did.
type RecomputeResult struct {
	CampID  CampID
	Updated int
	Skipped int // finalized records, or records finalized mid-pass
}

// RecomputePending recomputes every pending record of a camp from the
// current facts. Finalized records are skipped, never rewritten.
func (e *Engine) RecomputePending(ctx context.Context, campID CampID) (RecomputeResult, error) {
	res := RecomputeResult{CampID: campID}

	facts, err := e.store.SessionFacts(ctx, campID)
	if err != nil {
		return res, err
	}
	e.logMissingFacts(ctx, campID, facts)

	records, err := e.store.ListRecords(ctx, RecordFilter{CampID: campID})
	if err != nil {
		return res, err
	}

	now := e.now()
	for _, r := range records {
		next, err := r.Recompute(facts, now)
		if err != nil {
			res.Skipped++
			continue
		}
		if err := e.store.UpdateComputed(ctx, next); err != nil {
			if IsConflict(err) {
				res.Skipped++
				continue
			}
			return res, err
		}
		res.Updated++
	}

	e.observer.RecomputeCompleted(res.Updated, res.Skipped)
	e.log.DebugContext(ctx, "recompute pass",
		"camp_id", campID, "updated", res.Updated, "skipped", res.Skipped)
	return res, nil
}

// RecomputeCamp is RecomputePending for a caller that must manage the camp.
func (e *Engine) RecomputeCamp(ctx context.Context, caller Caller, campID CampID) (RecomputeResult, error) {
	camp, err := e.manageableCamp(ctx, caller, campID)
	if err != nil {
		return RecomputeResult{}, err
	}
	return e.RecomputePending(ctx, camp.ID)
}

// Recompute recomputes one record. A finalized record is returned unchanged
// together with a ConflictError.
func (e *Engine) Recompute(ctx context.Context, caller Caller, campID CampID, staff StaffProfileID) (Record, error) {
	rec, err := e.managedRecord(ctx, caller, campID, staff)
	if err != nil {
		return Record{}, err
	}
	facts, err := e.store.SessionFacts(ctx, campID)
	if err != nil {
		return Record{}, err
	}
	e.logMissingFacts(ctx, campID, facts)

	next, err := rec.Recompute(facts, e.now())
	if err != nil {
		e.observer.RecomputeCompleted(0, 1)
		return rec, err
	}
	if err := e.store.UpdateComputed(ctx, next); err != nil {
		if IsConflict(err) {
			e.observer.RecomputeCompleted(0, 1)
			current, getErr := e.store.GetRecord(ctx, rec.Key())
			if getErr != nil {
				return rec, err
			}
			return current, err
		}
		return Record{}, err
	}
	e.observer.RecomputeCompleted(1, 0)
	return next, nil
}

func (e *Engine) logMissingFacts(ctx context.Context, campID CampID, facts *SessionFacts) {
	switch {
	case facts == nil:
		e.log.DebugContext(ctx, "no session facts recorded, paying fixed stipend only", "camp_id", campID)
	case !facts.HasCSAT() || !facts.HasBudget():
		e.log.DebugContext(ctx, "optional session facts missing",
			"camp_id", campID, "csat", facts.HasCSAT(), "budget", facts.HasBudget())
	}
}

// =============================================================================
// FINALIZATION
// =============================================================================

type FinalizeOutcome string

const (
	OutcomeFinalized        FinalizeOutcome = "finalized"
	OutcomeAlreadyFinalized FinalizeOutcome = "already_finalized"
)

// FinalizeResult carries the outcome and the record as stored afterwards.
// On OutcomeAlreadyFinalized the record shows the first finalizer's stamp.
type FinalizeResult struct {
	Outcome FinalizeOutcome
	Record  Record
}

// FinalizeSession locks a staff member's record for a camp. Losing a race
// against another finalizer yields OutcomeAlreadyFinalized, not an error.
func (e *Engine) FinalizeSession(ctx context.Context, caller Caller, campID CampID, staff StaffProfileID) (FinalizeResult, error) {
	rec, err := e.managedRecord(ctx, caller, campID, staff)
	if err != nil {
		return FinalizeResult{}, err
	}
	if rec.IsFinalized() {
		e.observer.FinalizeCompleted(OutcomeAlreadyFinalized)
		return FinalizeResult{Outcome: OutcomeAlreadyFinalized, Record: rec}, nil
	}

	stored, err := e.store.MarkFinalized(ctx, rec.Key(), caller.ID, e.now())
	if err != nil {
		if errors.Is(err, ErrAlreadyFinalized) {
			e.observer.FinalizeCompleted(OutcomeAlreadyFinalized)
			return FinalizeResult{Outcome: OutcomeAlreadyFinalized, Record: stored}, nil
		}
		return FinalizeResult{}, err
	}

	e.observer.FinalizeCompleted(OutcomeFinalized)
	e.audit(ctx, AuditEntry{
		ActorID:        caller.ID,
		Action:         AuditRecordFinalized,
		TenantID:       stored.TenantID,
		CampID:         stored.CampID,
		StaffProfileID: stored.StaffProfileID,
		Payload: map[string]string{
			"record_id": string(stored.ID),
			"total":     stored.Breakdown.Total.Decimal().String(),
		},
	})
	e.log.InfoContext(ctx, "record finalized",
		"camp_id", stored.CampID, "staff_profile_id", stored.StaffProfileID,
		"total", int64(stored.Breakdown.Total), "actor", caller.ID)
	return FinalizeResult{Outcome: OutcomeFinalized, Record: stored}, nil
}

// Supersede replaces a finalized record with a new pending one computed
// from current facts. The finalized record keeps its amounts and stamp.
func (e *Engine) Supersede(ctx context.Context, caller Caller, campID CampID, staff StaffProfileID, reason string) (Record, error) {
	if reason == "" {
		return Record{}, &ValidationError{Field: "reason", Reason: "required"}
	}
	rec, err := e.managedRecord(ctx, caller, campID, staff)
	if err != nil {
		return Record{}, err
	}
	if !rec.IsFinalized() {
		return Record{}, &ConflictError{Key: rec.Key(), Op: "supersede", Status: rec.Status, Err: ErrNotFinalized}
	}
	facts, err := e.store.SessionFacts(ctx, campID)
	if err != nil {
		return Record{}, err
	}

	succ := rec.Successor(RecordID(e.newID()), facts, e.now())
	if err := e.store.Supersede(ctx, rec, succ); err != nil {
		return Record{}, err
	}
	e.audit(ctx, AuditEntry{
		ActorID:        caller.ID,
		Action:         AuditRecordSuperseded,
		TenantID:       rec.TenantID,
		CampID:         rec.CampID,
		StaffProfileID: rec.StaffProfileID,
		Payload: map[string]string{
			"superseded_id": string(rec.ID),
			"successor_id":  string(succ.ID),
			"reason":        reason,
		},
	})
	e.log.InfoContext(ctx, "record superseded",
		"camp_id", rec.CampID, "staff_profile_id", rec.StaffProfileID,
		"superseded_id", rec.ID, "successor_id", succ.ID, "actor", caller.ID)
	return succ, nil
}

// GetRecord returns the current record if the caller can see it.
func (e *Engine) GetRecord(ctx context.Context, caller Caller, campID CampID, staff StaffProfileID) (Record, error) {
	rec, err := e.store.FindRecord(ctx, campID, staff)
	if err != nil {
		return Record{}, err
	}
	if !caller.CanSee(rec) {
		return Record{}, recordNotFound(campID, staff)
	}
	return rec, nil
}

// =============================================================================
// ROLLUPS
// =============================================================================

// GetMyIncentiveSnapshot aggregates the caller's own records across every
// tenant they worked for.
func (e *Engine) GetMyIncentiveSnapshot(ctx context.Context, caller Caller) (IncentiveSnapshot, error) {
	self := Caller{ID: caller.ID, Role: RoleStaff}
	records, err := e.visibleRecords(ctx, self, RecordFilter{})
	if err != nil {
		return IncentiveSnapshot{}, err
	}
	return BuildSnapshot(records), nil
}

// GetTerritoryIncentiveOverview returns the per-staff scorecard of a tenant.
func (e *Engine) GetTerritoryIncentiveOverview(ctx context.Context, caller Caller, tenant TenantID) (TerritoryOverview, error) {
	switch caller.Role {
	case RoleHQ:
	case RoleLicensee:
		if caller.TenantID != tenant {
			return TerritoryOverview{}, &NotFoundError{Kind: "territory", Key: string(tenant)}
		}
	default:
		return TerritoryOverview{}, ErrForbidden
	}
	records, err := e.visibleRecords(ctx, caller, RecordFilter{TenantID: tenant})
	if err != nil {
		return TerritoryOverview{}, err
	}
	return BuildTerritoryOverview(tenant, records), nil
}

// GetNetworkOverview returns the per-tenant rollup. HQ only.
func (e *Engine) GetNetworkOverview(ctx context.Context, caller Caller) (NetworkOverview, error) {
	if caller.Role != RoleHQ {
		return NetworkOverview{}, ErrForbidden
	}
	records, err := e.visibleRecords(ctx, caller, RecordFilter{})
	if err != nil {
		return NetworkOverview{}, err
	}
	return BuildNetworkOverview(records), nil
}

// GetCampSummary returns a camp's roster as visible to the caller. Staff
// see only their own line; a camp with nothing visible is not found.
func (e *Engine) GetCampSummary(ctx context.Context, caller Caller, campID CampID) (CampSummary, error) {
	camp, err := e.store.GetCamp(ctx, campID)
	if err != nil {
		return CampSummary{}, err
	}
	records, err := e.visibleRecords(ctx, caller, RecordFilter{CampID: campID})
	if err != nil {
		return CampSummary{}, err
	}
	if !caller.CanManage(camp.TenantID) && len(records) == 0 {
		return CampSummary{}, &NotFoundError{Kind: "camp", Key: string(campID)}
	}
	snap := BuildSnapshot(records)
	return CampSummary{Camp: camp, Totals: snap.Summary, LineItems: snap.LineItems}, nil
}

// visibleRecords scopes the query to the caller and re-checks every row.
func (e *Engine) visibleRecords(ctx context.Context, caller Caller, f RecordFilter) ([]Record, error) {
	scoped, ok := caller.Scope(f)
	if !ok {
		return nil, nil
	}
	records, err := e.store.ListRecords(ctx, scoped)
	if err != nil {
		return nil, err
	}
	visible := records[:0]
	for _, r := range records {
		if caller.CanSee(r) {
			visible = append(visible, r)
		}
	}
	return visible, nil
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditTrail returns audit entries. Licensees see their own tenant only.
func (e *Engine) AuditTrail(ctx context.Context, caller Caller, f AuditFilter) ([]AuditEntry, error) {
	switch caller.Role {
	case RoleHQ:
	case RoleLicensee:
		f.TenantID = caller.TenantID
	default:
		return nil, ErrForbidden
	}
	return e.store.QueryAudit(ctx, f)
}

// audit appends an entry. Failures are logged and swallowed.
func (e *Engine) audit(ctx context.Context, entry AuditEntry) {
	entry.ID = e.newID()
	entry.At = e.now()
	if err := e.store.AppendAudit(ctx, entry); err != nil {
		e.log.ErrorContext(ctx, "audit append failed", "action", entry.Action, "error", err)
	}
}

// =============================================================================
// SCOPE HELPERS
// =============================================================================

func (e *Engine) manageableCamp(ctx context.Context, caller Caller, campID CampID) (Camp, error) {
	if caller.Role != RoleHQ && caller.Role != RoleLicensee {
		return Camp{}, ErrForbidden
	}
	camp, err := e.store.GetCamp(ctx, campID)
	if err != nil {
		return Camp{}, err
	}
	if !caller.CanManage(camp.TenantID) {
		return Camp{}, &NotFoundError{Kind: "camp", Key: string(campID)}
	}
	return camp, nil
}

func (e *Engine) managedRecord(ctx context.Context, caller Caller, campID CampID, staff StaffProfileID) (Record, error) {
	if caller.Role != RoleHQ && caller.Role != RoleLicensee {
		return Record{}, ErrForbidden
	}
	rec, err := e.store.FindRecord(ctx, campID, staff)
	if err != nil {
		return Record{}, err
	}
	if !caller.CanManage(rec.TenantID) {
		return Record{}, recordNotFound(campID, staff)
	}
	return rec, nil
}

func recordNotFound(campID CampID, staff StaffProfileID) error {
	return &NotFoundError{Kind: "record", Key: string(campID) + "/" + string(staff)}
}

func planPayload(p Plan) map[string]string {
	return map[string]string{
		"plan_id":   string(p.ID),
		"plan_code": string(p.Code),
		"version":   strconv.Itoa(p.Version),
	}
}
