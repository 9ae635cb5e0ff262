// Package store provides in-memory compensation.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/incentive-engine/compensation"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	plans   map[compensation.PlanCode]compensation.Plan
	records map[compensation.RecordID]compensation.Record
	current map[key]compensation.RecordID
	camps   map[compensation.CampID]compensation.Camp
	facts   map[compensation.CampID]compensation.SessionFacts
	audit   []compensation.AuditEntry
}

// key is the current-record identity. Tenant is implied by the camp.
type key struct {
	CampID         compensation.CampID
	StaffProfileID compensation.StaffProfileID
}

var _ compensation.Store = (*Memory)(nil)

func NewMemory() *Memory {
	m := &Memory{}
	m.resetLocked()
	return m
}

// Reset clears all data. Used by the demo scenario loader.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	return nil
}

func (m *Memory) resetLocked() {
	m.plans = make(map[compensation.PlanCode]compensation.Plan)
	m.records = make(map[compensation.RecordID]compensation.Record)
	m.current = make(map[key]compensation.RecordID)
	m.camps = make(map[compensation.CampID]compensation.Camp)
	m.facts = make(map[compensation.CampID]compensation.SessionFacts)
	m.audit = nil
}

// =============================================================================
// PLANS
// =============================================================================

func (m *Memory) CreatePlan(_ context.Context, p compensation.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.plans[p.Code]; ok {
		return compensation.ErrPlanExists
	}
	m.plans[p.Code] = clonePlan(p)
	return nil
}

func (m *Memory) UpdatePlan(_ context.Context, p compensation.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.plans[p.Code]; !ok {
		return &compensation.NotFoundError{Kind: "plan", Key: string(p.Code)}
	}
	m.plans[p.Code] = clonePlan(p)
	return nil
}

func (m *Memory) GetPlan(_ context.Context, code compensation.PlanCode) (compensation.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[code]
	if !ok {
		return compensation.Plan{}, &compensation.NotFoundError{Kind: "plan", Key: string(code)}
	}
	return clonePlan(p), nil
}

func (m *Memory) ListPlans(_ context.Context) ([]compensation.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]compensation.Plan, 0, len(m.plans))
	for _, p := range m.plans {
		out = append(out, clonePlan(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// clonePlan copies the tier slices so callers cannot alias stored state.
func clonePlan(p compensation.Plan) compensation.Plan {
	p.Rules.CSATTiers = append([]compensation.CSATTier(nil), p.Rules.CSATTiers...)
	p.Rules.BudgetTiers = append([]compensation.BudgetTier(nil), p.Rules.BudgetTiers...)
	return p
}

// =============================================================================
// RECORDS
// =============================================================================

func (m *Memory) InsertRecord(_ context.Context, r compensation.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(r)
}

func (m *Memory) insertLocked(r compensation.Record) error {
	k := key{CampID: r.CampID, StaffProfileID: r.StaffProfileID}
	if _, ok := m.current[k]; ok {
		return compensation.ErrRecordExists
	}
	m.records[r.ID] = cloneRecord(r)
	m.current[k] = r.ID
	return nil
}

func (m *Memory) GetRecord(_ context.Context, rk compensation.RecordKey) (compensation.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.currentLocked(rk.CampID, rk.StaffProfileID)
	if !ok || r.TenantID != rk.TenantID {
		return compensation.Record{}, notFound(rk.CampID, rk.StaffProfileID)
	}
	return cloneRecord(r), nil
}

func (m *Memory) FindRecord(_ context.Context, camp compensation.CampID, staff compensation.StaffProfileID) (compensation.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.currentLocked(camp, staff)
	if !ok {
		return compensation.Record{}, notFound(camp, staff)
	}
	return cloneRecord(r), nil
}

func (m *Memory) currentLocked(camp compensation.CampID, staff compensation.StaffProfileID) (compensation.Record, bool) {
	id, ok := m.current[key{CampID: camp, StaffProfileID: staff}]
	if !ok {
		return compensation.Record{}, false
	}
	r, ok := m.records[id]
	return r, ok
}

func (m *Memory) ListRecords(_ context.Context, f compensation.RecordFilter) ([]compensation.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []compensation.Record
	for _, r := range m.records {
		if f.Matches(r) {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CampID != out[j].CampID {
			return out[i].CampID < out[j].CampID
		}
		if out[i].StaffProfileID != out[j].StaffProfileID {
			return out[i].StaffProfileID < out[j].StaffProfileID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateComputed overwrites the computed bundle of a pending record in one
// step under the write lock. Facts older than the held ones are refused.
func (m *Memory) UpdateComputed(_ context.Context, r compensation.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.records[r.ID]
	if !ok {
		return notFound(r.CampID, r.StaffProfileID)
	}
	if stored.Status != compensation.StatusPending {
		return &compensation.ConflictError{Key: stored.Key(), Op: "recompute", Status: stored.Status, Err: compensation.ErrAlreadyFinalized}
	}
	if compensation.FactsOutdated(r.Facts, stored.Facts) {
		return &compensation.ConflictError{Key: stored.Key(), Op: "recompute", Status: stored.Status, Err: compensation.ErrStaleFacts}
	}
	stored.Breakdown = r.Breakdown
	stored.Facts = cloneFacts(r.Facts)
	stored.ComputedAt = r.ComputedAt
	m.records[r.ID] = stored
	return nil
}

// MarkFinalized is the conditional pending -> finalized write. On conflict
// the stored record is returned with the error.
func (m *Memory) MarkFinalized(_ context.Context, rk compensation.RecordKey, by compensation.UserID, at time.Time) (compensation.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.currentLocked(rk.CampID, rk.StaffProfileID)
	if !ok || stored.TenantID != rk.TenantID {
		return compensation.Record{}, notFound(rk.CampID, rk.StaffProfileID)
	}
	next, err := stored.Finalize(by, at)
	if err != nil {
		return cloneRecord(stored), err
	}
	m.records[next.ID] = next
	return cloneRecord(next), nil
}

func (m *Memory) Supersede(_ context.Context, old compensation.Record, successor compensation.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.records[old.ID]
	if !ok {
		return notFound(old.CampID, old.StaffProfileID)
	}
	if stored.IsSuperseded() {
		return &compensation.ConflictError{Key: stored.Key(), Op: "supersede", Status: stored.Status}
	}
	if !stored.IsFinalized() {
		return &compensation.ConflictError{Key: stored.Key(), Op: "supersede", Status: stored.Status, Err: compensation.ErrNotFinalized}
	}

	k := key{CampID: stored.CampID, StaffProfileID: stored.StaffProfileID}
	delete(m.current, k)
	if err := m.insertLocked(successor); err != nil {
		m.current[k] = stored.ID
		return err
	}
	at := successor.CreatedAt
	stored.SupersededByID = successor.ID
	stored.SupersededAt = &at
	m.records[stored.ID] = stored
	return nil
}

func (m *Memory) PendingCamps(_ context.Context) ([]compensation.CampID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[compensation.CampID]bool)
	var out []compensation.CampID
	for _, r := range m.records {
		if r.Status == compensation.StatusPending && !r.IsSuperseded() && !seen[r.CampID] {
			seen[r.CampID] = true
			out = append(out, r.CampID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func cloneRecord(r compensation.Record) compensation.Record {
	r.Facts = cloneFacts(r.Facts)
	r.Params.Rules.CSATTiers = append([]compensation.CSATTier(nil), r.Params.Rules.CSATTiers...)
	r.Params.Rules.BudgetTiers = append([]compensation.BudgetTier(nil), r.Params.Rules.BudgetTiers...)
	return r
}

func cloneFacts(f *compensation.SessionFacts) *compensation.SessionFacts {
	if f == nil {
		return nil
	}
	cp := *f
	return &cp
}

func notFound(camp compensation.CampID, staff compensation.StaffProfileID) error {
	return &compensation.NotFoundError{Kind: "record", Key: string(camp) + "/" + string(staff)}
}

// =============================================================================
// CAMPS & FACTS
// =============================================================================

// SaveCamp registers a camp session. The platform owns camps; this exists
// for seeding and tests.
func (m *Memory) SaveCamp(_ context.Context, c compensation.Camp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.camps[c.ID] = c
	return nil
}

func (m *Memory) GetCamp(_ context.Context, id compensation.CampID) (compensation.Camp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.camps[id]
	if !ok {
		return compensation.Camp{}, &compensation.NotFoundError{Kind: "camp", Key: string(id)}
	}
	return c, nil
}

func (m *Memory) SaveSessionFacts(_ context.Context, id compensation.CampID, f compensation.SessionFacts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[id] = f
	return nil
}

func (m *Memory) SessionFacts(_ context.Context, id compensation.CampID) (*compensation.SessionFacts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.facts[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, e compensation.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

// QueryAudit returns matching entries newest first.
func (m *Memory) QueryAudit(_ context.Context, f compensation.AuditFilter) ([]compensation.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []compensation.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if f.TenantID != "" && e.TenantID != f.TenantID {
			continue
		}
		if f.CampID != "" && e.CampID != f.CampID {
			continue
		}
		if len(f.Actions) > 0 && !containsAction(f.Actions, e.Action) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func containsAction(actions []compensation.AuditAction, a compensation.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}
