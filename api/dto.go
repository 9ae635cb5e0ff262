/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the compensation model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Operation result wrappers

TYPES:
  Plans:      PlanDTO (wraps factory.PlanJSON), CreatePlanRequest
  Records:    RecordDTO, BreakdownDTO, FactsDTO, FinalizeResponse
  Camps:      AssignStaffRequest, FactsRequest, RecomputeResponse,
              CampSummaryDTO
  Rollups:    SnapshotDTO, TerritoryOverviewDTO, NetworkOverviewDTO
  Audit:      AuditEntryDTO
  Scenarios:  ScenarioDTO, LoadScenarioRequest

MONEY:
  Amounts are integer minor units (cents). Decimal facts and averages are
  strings so "4.5" is never rendered as 4.499999.

VALIDATION:
  Request types carry go-playground/validator tags; handlers call
  h.decode which rejects malformed or invalid bodies with a 400. Domain
  rules (tier ranges, duplicate tiers) are still checked by the engine.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/plan.go: PlanJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/incentive-engine/compensation"
	"github.com/warp/incentive-engine/factory"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreatePlanRequest creates a plan, or replaces one on PUT.
type CreatePlanRequest struct {
	Config factory.PlanJSON `json:"config" validate:"required"`
}

// AssignStaffRequest puts a staff member on a camp under a plan.
type AssignStaffRequest struct {
	StaffProfileID string `json:"staff_profile_id" validate:"required,max=128"`
	PlanCode       string `json:"plan_code" validate:"required,max=64"`
}

// FactsRequest reports the results of a camp session. Budget adherence is
// given either as a ready variance or as planned and actual spend.
type FactsRequest struct {
	Enrollment        *int    `json:"enrollment" validate:"required,gte=0"`
	CSATAvg           *string `json:"csat_avg,omitempty" validate:"omitempty,numeric"`
	BudgetVariance    *string `json:"budget_variance,omitempty" validate:"omitempty,numeric"`
	BudgetPlanned     *int64  `json:"budget_planned,omitempty" validate:"required_with=BudgetActual,omitempty,gt=0"`
	BudgetActual      *int64  `json:"budget_actual,omitempty" validate:"required_with=BudgetPlanned,omitempty,gte=0"`
	GuestSpeakerCount int     `json:"guest_speaker_count" validate:"gte=0"`
}

// SupersedeRequest opens a correction of a finalized record.
type SupersedeRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// PlanDTO represents a catalog entry.
type PlanDTO struct {
	ID        string           `json:"id"`
	Version   int              `json:"version"`
	IsActive  bool             `json:"is_active"`
	CreatedAt string           `json:"created_at"`
	UpdatedAt string           `json:"updated_at"`
	Config    factory.PlanJSON `json:"config"`
}

// BreakdownDTO itemizes a record's amount.
type BreakdownDTO struct {
	FixedStipend      int64 `json:"fixed_stipend"`
	EnrollmentBonus   int64 `json:"enrollment_bonus"`
	CSATBonus         int64 `json:"csat_bonus"`
	BudgetBonus       int64 `json:"budget_bonus"`
	GuestSpeakerBonus int64 `json:"guest_speaker_bonus"`
	VariableBonus     int64 `json:"variable_bonus"`
	Total             int64 `json:"total"`
}

// FactsDTO represents the facts a record was computed from.
type FactsDTO struct {
	Enrollment        int     `json:"enrollment"`
	CSATAvg           *string `json:"csat_avg"`
	BudgetVariance    *string `json:"budget_variance"`
	GuestSpeakerCount int     `json:"guest_speaker_count"`
	UpdatedAt         string  `json:"updated_at,omitempty"`
}

// RecordDTO represents a session compensation record.
type RecordDTO struct {
	ID                string       `json:"id"`
	TenantID          string       `json:"tenant_id"`
	CampID            string       `json:"camp_id"`
	StaffProfileID    string       `json:"staff_profile_id"`
	PlanCode          string       `json:"plan_code"`
	PlanVersion       int          `json:"plan_version"`
	Breakdown         BreakdownDTO `json:"breakdown"`
	Facts             *FactsDTO    `json:"facts"`
	Status            string       `json:"status"`
	ComputedAt        string       `json:"computed_at"`
	FinalizedAt       *string      `json:"finalized_at,omitempty"`
	FinalizedByUserID string       `json:"finalized_by_user_id,omitempty"`
	SupersedesID      string       `json:"supersedes_id,omitempty"`
	SupersededByID    string       `json:"superseded_by_id,omitempty"`
	CreatedAt         string       `json:"created_at"`
}

// FinalizeResponse reports the outcome of a sign-off.
type FinalizeResponse struct {
	Outcome string    `json:"outcome"` // "finalized" or "already_finalized"
	Record  RecordDTO `json:"record"`
}

// RecomputeResponse reports a recompute pass.
type RecomputeResponse struct {
	CampID  string `json:"camp_id"`
	Updated int    `json:"updated"`
	Skipped int    `json:"skipped"`
}

// SummaryDTO holds the rollup figures shared by every view.
type SummaryDTO struct {
	TotalCompensation     int64   `json:"total_compensation"`
	PendingCompensation   int64   `json:"pending_compensation"`
	FinalizedCompensation int64   `json:"finalized_compensation"`
	TotalSessions         int     `json:"total_sessions"`
	AvgCSATScore          *string `json:"avg_csat_score"`
	AvgEnrollment         *string `json:"avg_enrollment"`
}

// LineItemDTO is one record inside a rollup.
type LineItemDTO struct {
	RecordID       string       `json:"record_id"`
	TenantID       string       `json:"tenant_id"`
	CampID         string       `json:"camp_id"`
	StaffProfileID string       `json:"staff_profile_id"`
	PlanCode       string       `json:"plan_code"`
	PlanVersion    int          `json:"plan_version"`
	Breakdown      BreakdownDTO `json:"breakdown"`
	Status         string       `json:"status"`
	FinalizedAt    *string      `json:"finalized_at,omitempty"`
}

// SnapshotDTO is a staff member's own incentive view.
type SnapshotDTO struct {
	SummaryDTO
	LineItems []LineItemDTO `json:"line_items"`
}

// StaffRollupDTO is one staff member's row in a territory overview.
type StaffRollupDTO struct {
	StaffProfileID string `json:"staff_profile_id"`
	SummaryDTO
}

// TerritoryOverviewDTO is a licensee's per-staff scorecard.
type TerritoryOverviewDTO struct {
	TenantID string           `json:"tenant_id"`
	PerStaff []StaffRollupDTO `json:"per_staff"`
	Totals   SummaryDTO       `json:"totals"`
}

// TenantRollupDTO is one territory's row in the network overview.
type TenantRollupDTO struct {
	TenantID string `json:"tenant_id"`
	SummaryDTO
}

// NetworkOverviewDTO is HQ's per-territory rollup.
type NetworkOverviewDTO struct {
	PerTenant []TenantRollupDTO `json:"per_tenant"`
	Totals    SummaryDTO        `json:"totals"`
}

// CampDTO represents a camp session.
type CampDTO struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	StartsOn string `json:"starts_on,omitempty"`
	EndsOn   string `json:"ends_on,omitempty"`
}

// CampSummaryDTO is a camp's roster.
type CampSummaryDTO struct {
	Camp      CampDTO       `json:"camp"`
	Totals    SummaryDTO    `json:"totals"`
	LineItems []LineItemDTO `json:"line_items"`
}

// AuditEntryDTO represents one audit log entry.
type AuditEntryDTO struct {
	ID             string            `json:"id"`
	At             string            `json:"at"`
	ActorID        string            `json:"actor_id"`
	Action         string            `json:"action"`
	TenantID       string            `json:"tenant_id,omitempty"`
	CampID         string            `json:"camp_id,omitempty"`
	StaffProfileID string            `json:"staff_profile_id,omitempty"`
	Payload        map[string]string `json:"payload,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"` // "rollup", "finalization" or "correction"
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// FieldErrorDTO names one invalid request field.
type FieldErrorDTO struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func (h *Handler) toPlanDTO(p compensation.Plan) PlanDTO {
	return PlanDTO{
		ID:        string(p.ID),
		Version:   p.Version,
		IsActive:  p.IsActive,
		CreatedAt: formatTime(p.CreatedAt),
		UpdatedAt: formatTime(p.UpdatedAt),
		Config:    h.PlanFactory.ToJSON(p),
	}
}

func toBreakdownDTO(b compensation.Breakdown) BreakdownDTO {
	return BreakdownDTO{
		FixedStipend:      int64(b.FixedStipend),
		EnrollmentBonus:   int64(b.EnrollmentBonus),
		CSATBonus:         int64(b.CSATBonus),
		BudgetBonus:       int64(b.BudgetBonus),
		GuestSpeakerBonus: int64(b.GuestSpeakerBonus),
		VariableBonus:     int64(b.VariableBonus()),
		Total:             int64(b.Total),
	}
}

func toFactsDTO(f *compensation.SessionFacts) *FactsDTO {
	if f == nil {
		return nil
	}
	return &FactsDTO{
		Enrollment:        f.Enrollment,
		CSATAvg:           decimalPtr(f.CSATAvg),
		BudgetVariance:    decimalPtr(f.BudgetVariance),
		GuestSpeakerCount: f.GuestSpeakerCount,
		UpdatedAt:         formatTime(f.UpdatedAt),
	}
}

func toRecordDTO(r compensation.Record) RecordDTO {
	return RecordDTO{
		ID:                string(r.ID),
		TenantID:          string(r.TenantID),
		CampID:            string(r.CampID),
		StaffProfileID:    string(r.StaffProfileID),
		PlanCode:          string(r.Params.PlanCode),
		PlanVersion:       r.Params.PlanVersion,
		Breakdown:         toBreakdownDTO(r.Breakdown),
		Facts:             toFactsDTO(r.Facts),
		Status:            string(r.Status),
		ComputedAt:        formatTime(r.ComputedAt),
		FinalizedAt:       timePtr(r.FinalizedAt),
		FinalizedByUserID: string(r.FinalizedByUserID),
		SupersedesID:      string(r.SupersedesID),
		SupersededByID:    string(r.SupersededByID),
		CreatedAt:         formatTime(r.CreatedAt),
	}
}

func toSummaryDTO(s compensation.Summary) SummaryDTO {
	return SummaryDTO{
		TotalCompensation:     int64(s.TotalCompensation),
		PendingCompensation:   int64(s.PendingCompensation),
		FinalizedCompensation: int64(s.FinalizedCompensation),
		TotalSessions:         s.TotalSessions,
		AvgCSATScore:          decimalPtr(s.AvgCSATScore),
		AvgEnrollment:         decimalPtr(s.AvgEnrollment),
	}
}

func toLineItemDTOs(items []compensation.LineItem) []LineItemDTO {
	dtos := make([]LineItemDTO, 0, len(items))
	for _, li := range items {
		dtos = append(dtos, LineItemDTO{
			RecordID:       string(li.RecordID),
			TenantID:       string(li.TenantID),
			CampID:         string(li.CampID),
			StaffProfileID: string(li.StaffProfileID),
			PlanCode:       string(li.PlanCode),
			PlanVersion:    li.PlanVersion,
			Breakdown:      toBreakdownDTO(li.Breakdown),
			Status:         string(li.Status),
			FinalizedAt:    timePtr(li.FinalizedAt),
		})
	}
	return dtos
}

func toCampDTO(c compensation.Camp) CampDTO {
	return CampDTO{
		ID:       string(c.ID),
		TenantID: string(c.TenantID),
		Name:     c.Name,
		StartsOn: formatDate(c.StartsOn),
		EndsOn:   formatDate(c.EndsOn),
	}
}

func toAuditEntryDTO(e compensation.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:             e.ID,
		At:             formatTime(e.At),
		ActorID:        string(e.ActorID),
		Action:         string(e.Action),
		TenantID:       string(e.TenantID),
		CampID:         string(e.CampID),
		StaffProfileID: string(e.StaffProfileID),
		Payload:        e.Payload,
	}
}

// toSessionFacts converts a validated request. Variance is rounded to four
// places when derived from planned and actual spend.
func (req FactsRequest) toSessionFacts() (compensation.SessionFacts, error) {
	f := compensation.SessionFacts{
		Enrollment:        *req.Enrollment,
		GuestSpeakerCount: req.GuestSpeakerCount,
	}
	if req.BudgetVariance != nil && req.BudgetPlanned != nil {
		return f, &compensation.ValidationError{Field: "budget_variance", Reason: "give either a variance or planned and actual spend"}
	}
	if req.CSATAvg != nil {
		d, err := decimal.NewFromString(*req.CSATAvg)
		if err != nil {
			return f, &compensation.ValidationError{Field: "csat_avg", Reason: "must be a decimal number"}
		}
		f.CSATAvg = compensation.NewNullDecimal(d)
	}
	switch {
	case req.BudgetVariance != nil:
		d, err := decimal.NewFromString(*req.BudgetVariance)
		if err != nil {
			return f, &compensation.ValidationError{Field: "budget_variance", Reason: "must be a decimal number"}
		}
		f.BudgetVariance = compensation.NewNullDecimal(d)
	case req.BudgetPlanned != nil && req.BudgetActual != nil:
		planned := decimal.NewFromInt(*req.BudgetPlanned)
		actual := decimal.NewFromInt(*req.BudgetActual)
		f.BudgetVariance = compensation.NewNullDecimal(actual.Sub(planned).DivRound(planned, 4))
	}
	return f, nil
}

func decimalPtr(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}
