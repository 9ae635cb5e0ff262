/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Provides pre-built scenarios that populate the store with realistic
	data for demos. Each scenario creates the preset plans, registers camps,
	assigns staff, records session facts and signs some records off, all
	through the engine so the audit log reads like real traffic.

AVAILABLE SCENARIOS:
	summer-camp:      One territory, one camp, everything still pending
	two-territories:  Two licensees, mixed pending and finalized records
	sign-off:         Finalization, including a second sign-off attempt
	correction:       A finalized record superseded after a facts fix

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Create preset plans via factory (HQ)
 3. Register camps
 4. Assign staff and record facts (licensee)
 5. Optionally finalize and supersede (licensee)

USAGE VIA API:
	POST /api/scenarios/load
	{"scenario_id": "two-territories"}

	HQ only. When the server has a token manager, the response carries a
	bearer token for every demo persona.

NOTE:
	Scenarios reset the store. Only enable in development/demo environments
	(DEV_SCENARIOS).

SEE ALSO:
  - handlers.go: Shared helpers
  - presets/plans.go: Plan JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/incentive-engine/compensation"
	"github.com/warp/incentive-engine/presets"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "summer-camp",
		Name:        "Summer Camp",
		Description: "One territory, one camp with three staff; facts recorded, nothing signed off",
		Category:    "rollup",
	},
	{
		ID:          "two-territories",
		Name:        "Two Territories",
		Description: "North and South licensees with two camps each, some records finalized",
		Category:    "rollup",
	},
	{
		ID:          "sign-off",
		Name:        "Sign-off",
		Description: "Licensee finalizes a camp; a second sign-off reports already finalized",
		Category:    "finalization",
	},
	{
		ID:          "correction",
		Name:        "Correction",
		Description: "Enrollment was misreported after sign-off; the record is superseded and recomputed",
		Category:    "correction",
	},
}

// Demo personas. Staff ids double as staff profile ids.
var (
	hqOps     = compensation.Caller{ID: "hq-ops", Role: compensation.RoleHQ}
	licNorth  = compensation.Caller{ID: "lic-north", Role: compensation.RoleLicensee, TenantID: "tenant-north"}
	licSouth  = compensation.Caller{ID: "lic-south", Role: compensation.RoleLicensee, TenantID: "tenant-south"}
	coachAna  = compensation.Caller{ID: "coach-ana", Role: compensation.RoleStaff}
	coachBen  = compensation.Caller{ID: "coach-ben", Role: compensation.RoleStaff}
	leadCara  = compensation.Caller{ID: "lead-cara", Role: compensation.RoleStaff}
	directDev = compensation.Caller{ID: "director-dev", Role: compensation.RoleStaff}

	personas = []compensation.Caller{hqOps, licNorth, licSouth, coachAna, coachBen, leadCara, directDev}
)

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if callerOf(r).Role != compensation.RoleHQ {
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "Forbidden", Code: "forbidden"})
		return
	}

	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "summer-camp":
		load = h.loadSummerCampScenario
	case "two-territories":
		load = h.loadTwoTerritoriesScenario
	case "sign-off":
		load = h.loadSignOffScenario
	case "correction":
		load = h.loadCorrectionScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	h.currentScenario = ""
	if err := h.Scenarios.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.Logger.InfoContext(ctx, "scenario loaded", "scenario", req.ScenarioID)

	resp := map[string]any{"status": "loaded", "scenario": req.ScenarioID}
	if h.Tokens != nil {
		tokens := make(map[string]string, len(personas))
		for _, p := range personas {
			tok, err := h.Tokens.Generate(p)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "Failed to issue demo tokens", err)
				return
			}
			tokens[string(p.ID)] = tok
		}
		resp["tokens"] = tokens
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadSummerCampScenario(ctx context.Context) error {
	camp := demoCamp("north-coding-jul", "tenant-north", "Coding Camp (July)", 7)
	if err := h.seedBase(ctx, camp); err != nil {
		return err
	}

	// 42 campers, CSAT 4.62, 8.1% under budget, two guest speakers
	return h.runSteps(ctx,
		h.assignStep(licNorth, camp.ID, coachAna.StaffProfileID(), "coach-standard"),
		h.assignStep(licNorth, camp.ID, coachBen.StaffProfileID(), "coach-standard"),
		h.assignStep(licNorth, camp.ID, leadCara.StaffProfileID(), "lead-coach"),
		h.factsStep(licNorth, camp.ID, demoFacts(42, "4.62", "-0.081", 2)),
	)
}

func (h *Handler) loadTwoTerritoriesScenario(ctx context.Context) error {
	northJul := demoCamp("north-coding-jul", "tenant-north", "Coding Camp (July)", 7)
	northAug := demoCamp("north-robotics-aug", "tenant-north", "Robotics Camp (August)", 8)
	southJul := demoCamp("south-art-jul", "tenant-south", "Art Camp (July)", 7)
	southAug := demoCamp("south-science-aug", "tenant-south", "Science Camp (August)", 8)
	if err := h.seedBase(ctx, northJul, northAug, southJul, southAug); err != nil {
		return err
	}

	// coach-ana works in both territories, so the personal snapshot spans them
	return h.runSteps(ctx,
		h.assignStep(licNorth, northJul.ID, coachAna.StaffProfileID(), "coach-standard"),
		h.assignStep(licNorth, northJul.ID, leadCara.StaffProfileID(), "lead-coach"),
		h.factsStep(licNorth, northJul.ID, demoFacts(38, "4.3", "0.02", 1)),
		h.finalizeStep(licNorth, northJul.ID, coachAna.StaffProfileID()),
		h.finalizeStep(licNorth, northJul.ID, leadCara.StaffProfileID()),

		h.assignStep(licNorth, northAug.ID, coachBen.StaffProfileID(), "coach-standard"),
		h.assignStep(licNorth, northAug.ID, directDev.StaffProfileID(), "camp-director"),
		h.factsStep(licNorth, northAug.ID, demoFacts(64, "4.8", "-0.12", 3)),

		h.assignStep(licSouth, southJul.ID, coachAna.StaffProfileID(), "coach-standard"),
		h.assignStep(licSouth, southJul.ID, "volunteer-eli", "volunteer"),
		h.factsStep(licSouth, southJul.ID, compensation.SessionFacts{Enrollment: 24}),
		h.finalizeStep(licSouth, southJul.ID, "volunteer-eli"),

		h.assignStep(licSouth, southAug.ID, coachBen.StaffProfileID(), "coach-standard"),
	)
}

func (h *Handler) loadSignOffScenario(ctx context.Context) error {
	camp := demoCamp("north-coding-jul", "tenant-north", "Coding Camp (July)", 7)
	if err := h.seedBase(ctx, camp); err != nil {
		return err
	}

	return h.runSteps(ctx,
		h.assignStep(licNorth, camp.ID, coachAna.StaffProfileID(), "coach-standard"),
		h.assignStep(licNorth, camp.ID, coachBen.StaffProfileID(), "coach-standard"),
		h.assignStep(licNorth, camp.ID, leadCara.StaffProfileID(), "lead-coach"),
		h.factsStep(licNorth, camp.ID, demoFacts(45, "4.51", "-0.05", 4)),
		h.finalizeStep(licNorth, camp.ID, coachAna.StaffProfileID()),
		h.finalizeStep(licNorth, camp.ID, coachBen.StaffProfileID()),
		// Second sign-off by HQ: already finalized, stamp unchanged
		h.finalizeStep(hqOps, camp.ID, coachAna.StaffProfileID()),
	)
}

func (h *Handler) loadCorrectionScenario(ctx context.Context) error {
	camp := demoCamp("north-coding-jul", "tenant-north", "Coding Camp (July)", 7)
	if err := h.seedBase(ctx, camp); err != nil {
		return err
	}

	return h.runSteps(ctx,
		h.assignStep(licNorth, camp.ID, coachAna.StaffProfileID(), "coach-standard"),
		h.factsStep(licNorth, camp.ID, demoFacts(32, "4.4", "0", 1)),
		h.finalizeStep(licNorth, camp.ID, coachAna.StaffProfileID()),
		// Enrollment was 40, not 32. Record the fix, then open a correction.
		h.factsStep(licNorth, camp.ID, demoFacts(40, "4.4", "0", 1)),
		func(ctx context.Context) error {
			_, err := h.Engine.Supersede(ctx, licNorth, camp.ID, coachAna.StaffProfileID(), "enrollment misreported")
			return err
		},
	)
}

// =============================================================================
// HELPERS
// =============================================================================

type step func(ctx context.Context) error

func (h *Handler) runSteps(ctx context.Context, steps ...step) error {
	for i, s := range steps {
		if err := s(ctx); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

// seedBase creates every preset plan and registers the camps.
func (h *Handler) seedBase(ctx context.Context, camps ...compensation.Camp) error {
	for _, p := range presets.All() {
		plan, err := h.PlanFactory.ParsePlan(p.JSON)
		if err != nil {
			return fmt.Errorf("preset %s: %w", p.Code, err)
		}
		if _, err := h.Engine.CreatePlan(ctx, hqOps, plan); err != nil {
			return fmt.Errorf("create plan %s: %w", p.Code, err)
		}
	}
	for _, c := range camps {
		if err := h.Scenarios.SaveCamp(ctx, c); err != nil {
			return fmt.Errorf("save camp %s: %w", c.ID, err)
		}
	}
	return nil
}

func (h *Handler) assignStep(by compensation.Caller, camp compensation.CampID, staff compensation.StaffProfileID, code compensation.PlanCode) step {
	return func(ctx context.Context) error {
		_, err := h.Engine.AssignStaff(ctx, by, camp, staff, code)
		return err
	}
}

func (h *Handler) factsStep(by compensation.Caller, camp compensation.CampID, f compensation.SessionFacts) step {
	return func(ctx context.Context) error {
		_, err := h.Engine.RecordSessionFacts(ctx, by, camp, f)
		return err
	}
}

func (h *Handler) finalizeStep(by compensation.Caller, camp compensation.CampID, staff compensation.StaffProfileID) step {
	return func(ctx context.Context) error {
		_, err := h.Engine.FinalizeSession(ctx, by, camp, staff)
		return err
	}
}

func demoCamp(id compensation.CampID, tenant compensation.TenantID, name string, month time.Month) compensation.Camp {
	start := time.Date(2025, month, 7, 0, 0, 0, 0, time.UTC)
	return compensation.Camp{
		ID:       id,
		TenantID: tenant,
		Name:     name,
		StartsOn: start,
		EndsOn:   start.AddDate(0, 0, 11),
	}
}

func demoFacts(enrollment int, csat, variance string, guests int) compensation.SessionFacts {
	return compensation.SessionFacts{
		Enrollment:        enrollment,
		CSATAvg:           compensation.NewNullDecimal(compensation.MustParseDecimal(csat)),
		BudgetVariance:    compensation.NewNullDecimal(compensation.MustParseDecimal(variance)),
		GuestSpeakerCount: guests,
	}
}
