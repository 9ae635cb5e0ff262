/*
record.go - Session compensation record and its finalization state machine

STATES:
  pending ──Finalize──▶ finalized (terminal)

  pending:   Recompute may run any number of times. Each run overwrites the
             computed bundle (Breakdown, Facts, ComputedAt) and leaves the
             PlanParams snapshot alone.
  finalized: Immutable. Recompute and Finalize both return a ConflictError
             and the record is returned unchanged.

CORRECTIONS:
  There is no un-finalize. A correction is a new pending record that
  supersedes the finalized one (see Supersede in engine.go). The finalized
  record keeps its amounts and its audit stamp; only the supersession link
  is written onto it.

STORES:
  The transition functions here are pure. Stores apply the result with a
  conditional write (status must still be pending) so that two racing
  finalizers cannot both win.
*/
package compensation

import "time"

// Status is the finalization state of a record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFinalized Status = "finalized"
)

// Record is the compensation of one staff member for one camp session.
type Record struct {
	ID             RecordID
	TenantID       TenantID
	CampID         CampID
	StaffProfileID StaffProfileID

	Params PlanParams

	Breakdown  Breakdown
	Facts      *SessionFacts // facts last applied, nil until some are recorded
	ComputedAt time.Time

	Status            Status
	FinalizedAt       *time.Time
	FinalizedByUserID UserID

	SupersedesID   RecordID
	SupersededByID RecordID
	SupersededAt   *time.Time

	CreatedAt time.Time
}

// Key returns the record's identity.
func (r Record) Key() RecordKey {
	return RecordKey{TenantID: r.TenantID, CampID: r.CampID, StaffProfileID: r.StaffProfileID}
}

func (r Record) IsFinalized() bool  { return r.Status == StatusFinalized }
func (r Record) IsSuperseded() bool { return r.SupersededByID != "" }

// Recompute applies new facts to a pending record. A nil facts pointer
// computes with zero facts so the fixed stipend is still owed.
func (r Record) Recompute(facts *SessionFacts, at time.Time) (Record, error) {
	if r.Status != StatusPending {
		return r, &ConflictError{Key: r.Key(), Op: "recompute", Status: r.Status, Err: ErrAlreadyFinalized}
	}
	var input SessionFacts
	if facts != nil {
		input = *facts
		cp := *facts
		r.Facts = &cp
	} else {
		r.Facts = nil
	}
	r.Breakdown = Calculate(r.Params, input)
	r.ComputedAt = at
	return r, nil
}

// Finalize locks a pending record.
func (r Record) Finalize(by UserID, at time.Time) (Record, error) {
	if r.Status != StatusPending {
		return r, &ConflictError{Key: r.Key(), Op: "finalize", Status: r.Status, Err: ErrAlreadyFinalized}
	}
	r.Status = StatusFinalized
	r.FinalizedAt = &at
	r.FinalizedByUserID = by
	return r, nil
}

// NewRecord creates a pending record snapshotting the plan, computed from
// the given facts.
func NewRecord(id RecordID, camp Camp, staff StaffProfileID, plan Plan, facts *SessionFacts, at time.Time) Record {
	r := Record{
		ID:             id,
		TenantID:       camp.TenantID,
		CampID:         camp.ID,
		StaffProfileID: staff,
		Params:         plan.Params(),
		Status:         StatusPending,
		CreatedAt:      at,
	}
	r, _ = r.Recompute(facts, at)
	return r
}

// Successor creates the pending record that supersedes r. It keeps r's plan
// snapshot.
func (r Record) Successor(id RecordID, facts *SessionFacts, at time.Time) Record {
	next := Record{
		ID:             id,
		TenantID:       r.TenantID,
		CampID:         r.CampID,
		StaffProfileID: r.StaffProfileID,
		Params:         r.Params,
		Status:         StatusPending,
		SupersedesID:   r.ID,
		CreatedAt:      at,
	}
	next, _ = next.Recompute(facts, at)
	return next
}
