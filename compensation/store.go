/*
store.go - Persistence interfaces for plans, records, camps and audit

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  PlanStore:      Plan catalog keyed by plan code
  RecordStore:    Compensation records keyed by (tenant, camp, staff)
  CampDirectory:  Read access to camp sessions (owned by the platform)
  FactsProvider:  Read access to recorded session facts
  FactsRecorder:  Write access for facts reported by the platform
  AuditLog:       Append-only trail of who did what

NO-DELETE CONTRACT:
  RecordStore has no Delete method. Records are an auditable financial
  trail: corrections supersede, they never erase.

CONDITIONAL WRITES:
  UpdateComputed and MarkFinalized succeed only while the stored record is
  still pending. They return a ConflictError otherwise and leave the row
  untouched. This is what makes concurrent finalize calls safe: exactly
  one conditional write wins. UpdateComputed also refuses facts older than
  the ones the record holds (ErrStaleFacts), so a slow recompute pass cannot
  undo a newer one.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - compensation/store/memory.go: In-memory for testing and dev
*/
package compensation

import (
	"context"
	"time"
)

// =============================================================================
// PLAN STORE
// =============================================================================

type PlanStore interface {
	// CreatePlan persists a new plan. Returns a ConflictError-wrapping error
	// if the plan code is taken.
	CreatePlan(ctx context.Context, p Plan) error

	// UpdatePlan replaces the plan stored under p.Code. Returns NotFoundError
	// if it does not exist.
	UpdatePlan(ctx context.Context, p Plan) error

	// GetPlan returns the plan or a NotFoundError.
	GetPlan(ctx context.Context, code PlanCode) (Plan, error)

	// ListPlans returns all plans ordered by code.
	ListPlans(ctx context.Context) ([]Plan, error)
}

// =============================================================================
// RECORD STORE
// =============================================================================

// RecordFilter narrows a record query. Empty fields match everything.
type RecordFilter struct {
	TenantID          TenantID
	CampID            CampID
	StaffProfileID    StaffProfileID
	Status            Status
	IncludeSuperseded bool
}

// Matches reports whether r passes the filter.
func (f RecordFilter) Matches(r Record) bool {
	if f.TenantID != "" && r.TenantID != f.TenantID {
		return false
	}
	if f.CampID != "" && r.CampID != f.CampID {
		return false
	}
	if f.StaffProfileID != "" && r.StaffProfileID != f.StaffProfileID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.IncludeSuperseded && r.IsSuperseded() {
		return false
	}
	return true
}

type RecordStore interface {
	// InsertRecord stores a new record. Returns ErrRecordExists if a current
	// record already exists for the key.
	InsertRecord(ctx context.Context, r Record) error

	// GetRecord returns the current (non-superseded) record for the key.
	GetRecord(ctx context.Context, key RecordKey) (Record, error)

	// FindRecord returns the current record for a camp and staff member
	// regardless of tenant. The engine checks scope afterwards.
	FindRecord(ctx context.Context, camp CampID, staff StaffProfileID) (Record, error)

	// ListRecords returns records matching the filter ordered by camp, staff.
	ListRecords(ctx context.Context, f RecordFilter) ([]Record, error)

	// UpdateComputed atomically overwrites Breakdown, Facts and ComputedAt
	// of a pending record whose held facts are not newer than r.Facts.
	UpdateComputed(ctx context.Context, r Record) error

	// MarkFinalized atomically sets the finalization stamp of a pending record.
	MarkFinalized(ctx context.Context, key RecordKey, by UserID, at time.Time) (Record, error)

	// Supersede atomically links a finalized record to its successor and
	// inserts the successor.
	Supersede(ctx context.Context, old Record, successor Record) error

	// PendingCamps lists camps that have at least one pending record.
	PendingCamps(ctx context.Context) ([]CampID, error)
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// CampDirectory resolves camp sessions and their owning tenant.
type CampDirectory interface {
	GetCamp(ctx context.Context, id CampID) (Camp, error)
}

// FactsProvider returns the recorded facts for a camp session, or nil when
// nothing has been recorded yet.
type FactsProvider interface {
	SessionFacts(ctx context.Context, id CampID) (*SessionFacts, error)
}

// FactsRecorder stores session facts reported by the platform.
type FactsRecorder interface {
	SaveSessionFacts(ctx context.Context, id CampID, f SessionFacts) error
}

// =============================================================================
// AUDIT LOG - Append-only, separate from records
// =============================================================================

type AuditAction string

const (
	AuditPlanCreated      AuditAction = "plan_created"
	AuditPlanUpdated      AuditAction = "plan_updated"
	AuditPlanRetired      AuditAction = "plan_retired"
	AuditStaffAssigned    AuditAction = "staff_assigned"
	AuditRecordFinalized  AuditAction = "record_finalized"
	AuditRecordSuperseded AuditAction = "record_superseded"
)

type AuditEntry struct {
	ID             string
	At             time.Time
	ActorID        UserID
	Action         AuditAction
	TenantID       TenantID
	CampID         CampID
	StaffProfileID StaffProfileID
	Payload        map[string]string
}

type AuditFilter struct {
	TenantID TenantID
	CampID   CampID
	Actions  []AuditAction
	Limit    int
}

type AuditLog interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	QueryAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// Store bundles everything the engine persists or reads.
type Store interface {
	PlanStore
	RecordStore
	CampDirectory
	FactsProvider
	FactsRecorder
	AuditLog
}
