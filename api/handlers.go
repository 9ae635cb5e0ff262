/*
handlers.go - HTTP API handlers for the incentive compensation engine

PURPOSE:
  Exposes compensation.Engine via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to the engine. Every
  handler under /api reads the caller placed on the context by
  Authenticate; nothing here decides visibility on its own.

ENDPOINTS:
  Plans:
    GET    /api/plans                         List plans
    POST   /api/plans                         Create plan (HQ)
    GET    /api/plans/{code}                  Get plan
    PUT    /api/plans/{code}                  Update plan, bumps version (HQ)
    POST   /api/plans/{code}/retire           Retire plan (HQ)

  Camps:
    POST   /api/camps/{campID}/assignments    Assign staff under a plan
    PUT    /api/camps/{campID}/facts          Record session facts, recompute
    POST   /api/camps/{campID}/recompute      Recompute pending records
    GET    /api/camps/{campID}/summary        Camp roster and totals

  Records:
    GET    /api/camps/{campID}/records/{staffID}            Current record
    POST   /api/camps/{campID}/records/{staffID}/finalize   Sign off
    POST   /api/camps/{campID}/records/{staffID}/supersede  Open correction

  Rollups:
    GET    /api/me/incentives                     Own snapshot
    GET    /api/territories/{tenantID}/incentives Territory scorecard
    GET    /api/network/incentives                Network overview (HQ)

  Audit:
    GET    /api/audit                         Audit trail

ERROR HANDLING:
  Engine errors are mapped by writeEngineError:
  - 400: ValidationError, inactive plan, malformed body
  - 401: missing or invalid token (middleware)
  - 403: role may not perform the operation
  - 404: missing, or outside the caller's scope
  - 409: ConflictError (finalized record, duplicate assignment)
  - 429: rate limited (middleware)
  - 500: anything else, logged with the request id

  A second finalize is not an error: it answers 200 with
  outcome=already_finalized and the stored record.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/warp/incentive-engine/auth"
	"github.com/warp/incentive-engine/compensation"
	"github.com/warp/incentive-engine/factory"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// ScenarioStore is the seeding surface the demo scenarios need beyond the
// engine. Both stores implement it.
type ScenarioStore interface {
	Reset(ctx context.Context) error
	SaveCamp(ctx context.Context, c compensation.Camp) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine      *compensation.Engine
	Scenarios   ScenarioStore
	PlanFactory *factory.PlanFactory
	Tokens      *auth.Manager // optional; lets scenario loads hand out demo tokens
	Logger      *slog.Logger

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over the engine.
func NewHandler(engine *compensation.Engine, scenarios ScenarioStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Engine:      engine,
		Scenarios:   scenarios,
		PlanFactory: factory.NewPlanFactory(),
		Logger:      logger,
		validate:    newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// PLAN ENDPOINTS
// =============================================================================

// ListPlans returns the catalog.
// GET /api/plans
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Engine.ListPlans(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dtos := make([]PlanDTO, 0, len(plans))
	for _, p := range plans {
		dtos = append(dtos, h.toPlanDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePlan adds a plan to the catalog.
// POST /api/plans
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if !h.decode(w, r, &req) {
		return
	}

	plan, err := h.PlanFactory.FromJSON(req.Config)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	created, err := h.Engine.CreatePlan(r.Context(), callerOf(r), plan)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toPlanDTO(created))
}

// GetPlan returns a single plan.
// GET /api/plans/{code}
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	code := compensation.PlanCode(chi.URLParam(r, "code"))

	plan, err := h.Engine.GetPlan(r.Context(), code)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toPlanDTO(plan))
}

// UpdatePlan replaces a plan's parameters. Existing records keep theirs.
// PUT /api/plans/{code}
func (h *Handler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var req CreatePlanRequest
	if req.Config.Code == "" {
		req.Config.Code = code
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.Config.Code != code {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Plan code cannot be changed",
			Code:    "validation_failed",
			Details: FieldErrorDTO{Field: "config.code", Reason: "must match the URL"},
		})
		return
	}

	plan, err := h.PlanFactory.FromJSON(req.Config)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	updated, err := h.Engine.UpdatePlan(r.Context(), callerOf(r), plan)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toPlanDTO(updated))
}

// RetirePlan closes a plan to new assignments.
// POST /api/plans/{code}/retire
func (h *Handler) RetirePlan(w http.ResponseWriter, r *http.Request) {
	code := compensation.PlanCode(chi.URLParam(r, "code"))

	plan, err := h.Engine.RetirePlan(r.Context(), callerOf(r), code)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toPlanDTO(plan))
}

// =============================================================================
// CAMP ENDPOINTS
// =============================================================================

// AssignStaff creates a pending record for a staff member on a camp.
// POST /api/camps/{campID}/assignments
func (h *Handler) AssignStaff(w http.ResponseWriter, r *http.Request) {
	campID := compensation.CampID(chi.URLParam(r, "campID"))

	var req AssignStaffRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.Engine.AssignStaff(r.Context(), callerOf(r), campID,
		compensation.StaffProfileID(req.StaffProfileID), compensation.PlanCode(req.PlanCode))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordDTO(rec))
}

// RecordFacts stores a camp's session facts and recomputes pending records.
// PUT /api/camps/{campID}/facts
func (h *Handler) RecordFacts(w http.ResponseWriter, r *http.Request) {
	campID := compensation.CampID(chi.URLParam(r, "campID"))

	var req FactsRequest
	if !h.decode(w, r, &req) {
		return
	}
	facts, err := req.toSessionFacts()
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	res, err := h.Engine.RecordSessionFacts(r.Context(), callerOf(r), campID, facts)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecomputeResponse(res))
}

// RecomputeCamp re-runs the calculator over a camp's pending records.
// POST /api/camps/{campID}/recompute
func (h *Handler) RecomputeCamp(w http.ResponseWriter, r *http.Request) {
	campID := compensation.CampID(chi.URLParam(r, "campID"))

	res, err := h.Engine.RecomputeCamp(r.Context(), callerOf(r), campID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecomputeResponse(res))
}

// GetCampSummary returns the camp roster visible to the caller.
// GET /api/camps/{campID}/summary
func (h *Handler) GetCampSummary(w http.ResponseWriter, r *http.Request) {
	campID := compensation.CampID(chi.URLParam(r, "campID"))

	summary, err := h.Engine.GetCampSummary(r.Context(), callerOf(r), campID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CampSummaryDTO{
		Camp:      toCampDTO(summary.Camp),
		Totals:    toSummaryDTO(summary.Totals),
		LineItems: toLineItemDTOs(summary.LineItems),
	})
}

// =============================================================================
// RECORD ENDPOINTS
// =============================================================================

// GetRecord returns a staff member's current record for a camp.
// GET /api/camps/{campID}/records/{staffID}
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	campID, staff := recordParams(r)

	rec, err := h.Engine.GetRecord(r.Context(), callerOf(r), campID, staff)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// FinalizeRecord signs off a record. Losing a race, or finalizing twice, is
// reported as outcome=already_finalized with the stored record.
// POST /api/camps/{campID}/records/{staffID}/finalize
func (h *Handler) FinalizeRecord(w http.ResponseWriter, r *http.Request) {
	campID, staff := recordParams(r)

	res, err := h.Engine.FinalizeSession(r.Context(), callerOf(r), campID, staff)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FinalizeResponse{
		Outcome: string(res.Outcome),
		Record:  toRecordDTO(res.Record),
	})
}

// SupersedeRecord replaces a finalized record with a new pending one.
// POST /api/camps/{campID}/records/{staffID}/supersede
func (h *Handler) SupersedeRecord(w http.ResponseWriter, r *http.Request) {
	campID, staff := recordParams(r)

	var req SupersedeRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.Engine.Supersede(r.Context(), callerOf(r), campID, staff, req.Reason)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordDTO(rec))
}

// =============================================================================
// ROLLUP ENDPOINTS
// =============================================================================

// GetMyIncentives returns the caller's own snapshot.
// GET /api/me/incentives
func (h *Handler) GetMyIncentives(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Engine.GetMyIncentiveSnapshot(r.Context(), callerOf(r))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SnapshotDTO{
		SummaryDTO: toSummaryDTO(snap.Summary),
		LineItems:  toLineItemDTOs(snap.LineItems),
	})
}

// GetTerritoryIncentives returns the per-staff scorecard of a tenant.
// GET /api/territories/{tenantID}/incentives
func (h *Handler) GetTerritoryIncentives(w http.ResponseWriter, r *http.Request) {
	tenant := compensation.TenantID(chi.URLParam(r, "tenantID"))

	o, err := h.Engine.GetTerritoryIncentiveOverview(r.Context(), callerOf(r), tenant)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dto := TerritoryOverviewDTO{
		TenantID: string(o.TenantID),
		PerStaff: make([]StaffRollupDTO, 0, len(o.PerStaff)),
		Totals:   toSummaryDTO(o.Totals),
	}
	for _, s := range o.PerStaff {
		dto.PerStaff = append(dto.PerStaff, StaffRollupDTO{
			StaffProfileID: string(s.StaffProfileID),
			SummaryDTO:     toSummaryDTO(s.Summary),
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetNetworkIncentives returns HQ's per-tenant rollup.
// GET /api/network/incentives
func (h *Handler) GetNetworkIncentives(w http.ResponseWriter, r *http.Request) {
	o, err := h.Engine.GetNetworkOverview(r.Context(), callerOf(r))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dto := NetworkOverviewDTO{
		PerTenant: make([]TenantRollupDTO, 0, len(o.PerTenant)),
		Totals:    toSummaryDTO(o.Totals),
	}
	for _, t := range o.PerTenant {
		dto.PerTenant = append(dto.PerTenant, TenantRollupDTO{
			TenantID:   string(t.TenantID),
			SummaryDTO: toSummaryDTO(t.Summary),
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// AUDIT ENDPOINTS
// =============================================================================

// ListAudit returns audit entries, newest first.
// GET /api/audit?tenant_id=&camp_id=&action=&limit=
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := compensation.AuditFilter{
		TenantID: compensation.TenantID(q.Get("tenant_id")),
		CampID:   compensation.CampID(q.Get("camp_id")),
		Limit:    defaultAuditLimit,
	}
	for _, a := range q["action"] {
		f.Actions = append(f.Actions, compensation.AuditAction(a))
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxAuditLimit {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid limit",
				Code:    "validation_failed",
				Details: FieldErrorDTO{Field: "limit", Reason: fmt.Sprintf("must be between 1 and %d", maxAuditLimit)},
			})
			return
		}
		f.Limit = n
	}

	entries, err := h.Engine.AuditTrail(r.Context(), callerOf(r), f)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dtos := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toAuditEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Healthz reports liveness.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine errors onto HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *compensation.ValidationError
		ce *compensation.ConflictError
		nf *compensation.NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Code:    "validation_failed",
			Details: FieldErrorDTO{Field: ve.Field, Reason: ve.Reason},
		})
	case errors.Is(err, compensation.ErrPlanInactive):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "plan_inactive"})
	case errors.Is(err, compensation.ErrForbidden):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "Forbidden", Code: "forbidden"})
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: nf.Error(), Code: "not_found"})
	case compensation.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Not found", Code: "not_found"})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   ce.Error(),
			Code:    "conflict",
			Details: map[string]string{"op": ce.Op, "status": string(ce.Status)},
		})
	case compensation.IsConflict(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "conflict"})
	default:
		h.Logger.ErrorContext(r.Context(), "request failed",
			"error", err, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

// decode reads a JSON body into dst and validates it. On failure it writes
// a 400 and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return false
		}
		fields := make([]FieldErrorDTO, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldErrorDTO{Field: fieldPath(fe), Reason: fieldReason(fe)})
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Code:    "validation_failed",
			Details: fields,
		})
		return false
	}
	return true
}

// fieldPath drops the struct name from the namespace:
// "CreatePlanRequest.config.code" becomes "config.code".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "required_with":
		return "required together with " + fe.Param()
	case "numeric":
		return "must be a decimal number"
	case "gte":
		return "must be at least " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}
	return "failed " + fe.Tag()
}

// callerOf returns the authenticated caller. Routes under /api sit behind
// Authenticate, so a missing caller yields an empty one that every scope
// check rejects.
func callerOf(r *http.Request) compensation.Caller {
	c, _ := auth.CallerFrom(r.Context())
	return c
}

func recordParams(r *http.Request) (compensation.CampID, compensation.StaffProfileID) {
	return compensation.CampID(chi.URLParam(r, "campID")),
		compensation.StaffProfileID(chi.URLParam(r, "staffID"))
}

func toRecomputeResponse(res compensation.RecomputeResult) RecomputeResponse {
	return RecomputeResponse{CampID: string(res.CampID), Updated: res.Updated, Skipped: res.Skipped}
}
