/*
Package sqlite provides a SQLite-backed implementation of compensation.Store.

PURPOSE:
  Persists the plan catalog, compensation records, camp sessions, session
  facts and the audit log. In production the same patterns apply to
  PostgreSQL with minor dialect differences.

KEY TABLES:
  plans:                 Plan catalog, tier tables as JSON
  camps:                 Camp sessions and their owning tenant
  session_facts:         Latest recorded facts per camp
  compensation_records:  One row per (camp, staff) record, superseded rows kept
  audit_log:             Append-only trail of catalog and finalization events

CONDITIONAL WRITES:
  Recompute and finalize are single UPDATE statements guarded by
  status = 'pending'. Zero affected rows means the record moved on; the
  store then reads the current row and returns a ConflictError. A trigger
  refuses any change to the amounts of a finalized row as a second line.

CURRENT RECORD:
  idx_records_current is a partial unique index over (camp_id,
  staff_profile_id) for rows with no superseded_by_id. Supersede flags the
  old row first and inserts the successor in the same transaction.

NULLABLE FACTS:
  csat_avg and budget_variance are NULL when not collected. They are stored
  as decimal text so no precision is lost.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  st, err := sqlite.New("./data/incentives.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()
  engine := compensation.NewEngine(compensation.Deps{Store: st})

SEE ALSO:
  - compensation/store.go: Interface definitions
  - compensation/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/incentive-engine/compensation"
)

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements compensation.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ compensation.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Plan catalog
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		pre_camp_stipend INTEGER NOT NULL,
		on_site_stipend INTEGER NOT NULL,
		enrollment_threshold INTEGER NOT NULL,
		enrollment_bonus_per_camper INTEGER NOT NULL,
		rules_json TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Camp sessions (owned by the platform, mirrored here)
	CREATE TABLE IF NOT EXISTS camps (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		starts_on TEXT,
		ends_on TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_camps_tenant
		ON camps(tenant_id);

	-- Latest facts per camp
	CREATE TABLE IF NOT EXISTS session_facts (
		camp_id TEXT PRIMARY KEY REFERENCES camps(id),
		enrollment INTEGER NOT NULL,
		csat_avg TEXT,
		budget_variance TEXT,
		guest_speaker_count INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	-- Compensation records
	CREATE TABLE IF NOT EXISTS compensation_records (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		camp_id TEXT NOT NULL,
		staff_profile_id TEXT NOT NULL,

		plan_id TEXT NOT NULL,
		plan_code TEXT NOT NULL,
		plan_version INTEGER NOT NULL,
		pre_camp_stipend INTEGER NOT NULL,
		on_site_stipend INTEGER NOT NULL,
		enrollment_threshold INTEGER NOT NULL,
		enrollment_bonus_per_camper INTEGER NOT NULL,
		rules_json TEXT NOT NULL,

		fixed_stipend INTEGER NOT NULL,
		enrollment_bonus INTEGER NOT NULL,
		csat_bonus INTEGER NOT NULL,
		budget_bonus INTEGER NOT NULL,
		guest_speaker_bonus INTEGER NOT NULL,
		total INTEGER NOT NULL,

		has_facts BOOLEAN NOT NULL DEFAULT FALSE,
		facts_enrollment INTEGER NOT NULL DEFAULT 0,
		facts_csat_avg TEXT,
		facts_budget_variance TEXT,
		facts_guest_speaker_count INTEGER NOT NULL DEFAULT 0,
		facts_updated_at TEXT,
		computed_at TEXT NOT NULL,

		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'finalized')),
		finalized_at TEXT,
		finalized_by TEXT,

		supersedes_id TEXT,
		superseded_by_id TEXT,
		superseded_at TEXT,

		created_at TEXT NOT NULL
	);

	-- CRITICAL: exactly one current record per staff member per camp
	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_current
		ON compensation_records(camp_id, staff_profile_id)
		WHERE superseded_by_id IS NULL;

	CREATE INDEX IF NOT EXISTS idx_records_tenant
		ON compensation_records(tenant_id, camp_id);
	CREATE INDEX IF NOT EXISTS idx_records_staff
		ON compensation_records(staff_profile_id);
	CREATE INDEX IF NOT EXISTS idx_records_pending
		ON compensation_records(camp_id) WHERE status = 'pending';

	-- Finalized amounts are frozen
	CREATE TRIGGER IF NOT EXISTS trg_records_finalized_frozen
	BEFORE UPDATE OF fixed_stipend, enrollment_bonus, csat_bonus, budget_bonus,
		guest_speaker_bonus, total, status, finalized_at, finalized_by
	ON compensation_records
	WHEN OLD.status = 'finalized'
	BEGIN
		SELECT RAISE(ABORT, 'finalized compensation record is immutable');
	END;

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		at TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		tenant_id TEXT NOT NULL DEFAULT '',
		camp_id TEXT NOT NULL DEFAULT '',
		staff_profile_id TEXT NOT NULL DEFAULT '',
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_tenant
		ON audit_log(tenant_id, seq DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer and querier are satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// PLAN STORE
// =============================================================================

// rulesRow is the stored shape of compensation.BonusRules.
type rulesRow struct {
	CSATTiers                 []csatTierRow      `json:"csat_tiers"`
	BudgetTiers               []budgetTierRow    `json:"budget_tiers"`
	GuestSpeakerBonusPerEvent compensation.Money `json:"guest_speaker_bonus_per_event"`
	GuestSpeakerMaxEvents     int                `json:"guest_speaker_max_events"`
}

type csatTierRow struct {
	MinScore decimal.Decimal    `json:"min_score"`
	Bonus    compensation.Money `json:"bonus"`
}

type budgetTierRow struct {
	MaxVariance decimal.Decimal    `json:"max_variance"`
	Bonus       compensation.Money `json:"bonus"`
}

func encodeRules(r compensation.BonusRules) (string, error) {
	row := rulesRow{
		GuestSpeakerBonusPerEvent: r.GuestSpeakerBonusPerEvent,
		GuestSpeakerMaxEvents:     r.GuestSpeakerMaxEvents,
	}
	for _, t := range r.CSATTiers {
		row.CSATTiers = append(row.CSATTiers, csatTierRow{MinScore: t.MinScore, Bonus: t.Bonus})
	}
	for _, t := range r.BudgetTiers {
		row.BudgetTiers = append(row.BudgetTiers, budgetTierRow{MaxVariance: t.MaxVariance, Bonus: t.Bonus})
	}

	b, err := json.Marshal(row)
	if err != nil {
		return "", fmt.Errorf("failed to encode rules: %w", err)
	}
	return string(b), nil
}

func decodeRules(s string) (compensation.BonusRules, error) {
	var row rulesRow
	if err := json.Unmarshal([]byte(s), &row); err != nil {
		return compensation.BonusRules{}, fmt.Errorf("failed to decode rules: %w", err)
	}
	out := compensation.BonusRules{
		GuestSpeakerBonusPerEvent: row.GuestSpeakerBonusPerEvent,
		GuestSpeakerMaxEvents:     row.GuestSpeakerMaxEvents,
	}
	for _, t := range row.CSATTiers {
		out.CSATTiers = append(out.CSATTiers, compensation.CSATTier{MinScore: t.MinScore, Bonus: t.Bonus})
	}
	for _, t := range row.BudgetTiers {
		out.BudgetTiers = append(out.BudgetTiers, compensation.BudgetTier{MaxVariance: t.MaxVariance, Bonus: t.Bonus})
	}
	return out, nil
}

// CreatePlan inserts a new plan.
func (s *Store) CreatePlan(ctx context.Context, p compensation.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules, err := encodeRules(p.Rules)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (id, code, name, version, pre_camp_stipend, on_site_stipend,
			enrollment_threshold, enrollment_bonus_per_camper, rules_json, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.Code, p.Name, p.Version, p.PreCampStipendAmount, p.OnSiteStipendAmount,
		p.EnrollmentThreshold, p.EnrollmentBonusPerCamper, rules, p.IsActive,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return compensation.ErrPlanExists
		}
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

// UpdatePlan replaces the plan stored under p.Code.
func (s *Store) UpdatePlan(ctx context.Context, p compensation.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules, err := encodeRules(p.Rules)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE plans SET
			name = ?, version = ?, pre_camp_stipend = ?, on_site_stipend = ?,
			enrollment_threshold = ?, enrollment_bonus_per_camper = ?, rules_json = ?,
			is_active = ?, updated_at = ?
		WHERE code = ?
	`,
		p.Name, p.Version, p.PreCampStipendAmount, p.OnSiteStipendAmount,
		p.EnrollmentThreshold, p.EnrollmentBonusPerCamper, rules,
		p.IsActive, formatTime(p.UpdatedAt), p.Code,
	)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &compensation.NotFoundError{Kind: "plan", Key: string(p.Code)}
	}
	return nil
}

const planColumns = `id, code, name, version, pre_camp_stipend, on_site_stipend,
	enrollment_threshold, enrollment_bonus_per_camper, rules_json, is_active, created_at, updated_at`

// GetPlan retrieves a plan by code.
func (s *Store) GetPlan(ctx context.Context, code compensation.PlanCode) (compensation.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+planColumns+" FROM plans WHERE code = ?", code)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return compensation.Plan{}, &compensation.NotFoundError{Kind: "plan", Key: string(code)}
	}
	return p, err
}

// ListPlans retrieves all plans ordered by code.
func (s *Store) ListPlans(ctx context.Context) ([]compensation.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+planColumns+" FROM plans ORDER BY code")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []compensation.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(sc scanner) (compensation.Plan, error) {
	var (
		p                    compensation.Plan
		rules                string
		createdAt, updatedAt string
	)
	err := sc.Scan(&p.ID, &p.Code, &p.Name, &p.Version, &p.PreCampStipendAmount, &p.OnSiteStipendAmount,
		&p.EnrollmentThreshold, &p.EnrollmentBonusPerCamper, &rules, &p.IsActive, &createdAt, &updatedAt)
	if err != nil {
		return compensation.Plan{}, err
	}
	if p.Rules, err = decodeRules(rules); err != nil {
		return compensation.Plan{}, err
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// =============================================================================
// RECORD STORE
// =============================================================================

const recordColumns = `id, tenant_id, camp_id, staff_profile_id,
	plan_id, plan_code, plan_version, pre_camp_stipend, on_site_stipend,
	enrollment_threshold, enrollment_bonus_per_camper, rules_json,
	fixed_stipend, enrollment_bonus, csat_bonus, budget_bonus, guest_speaker_bonus, total,
	has_facts, facts_enrollment, facts_csat_avg, facts_budget_variance,
	facts_guest_speaker_count, facts_updated_at, computed_at,
	status, finalized_at, finalized_by, supersedes_id, superseded_by_id, superseded_at, created_at`

// InsertRecord adds a new record.
func (s *Store) InsertRecord(ctx context.Context, r compensation.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertRecord(ctx, s.db, r)
}

func (s *Store) insertRecord(ctx context.Context, db execer, r compensation.Record) error {
	rules, err := encodeRules(r.Params.Rules)
	if err != nil {
		return err
	}
	f := factsColumns(r.Facts)

	_, err = db.ExecContext(ctx, `
		INSERT INTO compensation_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.TenantID, r.CampID, r.StaffProfileID,
		r.Params.PlanID, r.Params.PlanCode, r.Params.PlanVersion, r.Params.PreCampStipend, r.Params.OnSiteStipend,
		r.Params.EnrollmentThreshold, r.Params.EnrollmentBonusPerCamper, rules,
		r.Breakdown.FixedStipend, r.Breakdown.EnrollmentBonus, r.Breakdown.CSATBonus,
		r.Breakdown.BudgetBonus, r.Breakdown.GuestSpeakerBonus, r.Breakdown.Total,
		f.has, f.enrollment, f.csat, f.budget, f.guests, f.updatedAt, formatTime(r.ComputedAt),
		r.Status, nullTime(r.FinalizedAt), nullString(string(r.FinalizedByUserID)),
		nullString(string(r.SupersedesID)), nullString(string(r.SupersededByID)), nullTime(r.SupersededAt),
		formatTime(r.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return compensation.ErrRecordExists
		}
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// GetRecord returns the current record for the key.
func (s *Store) GetRecord(ctx context.Context, key compensation.RecordKey) (compensation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRecord(ctx, key.CampID, key.StaffProfileID, key.TenantID)
}

// FindRecord returns the current record for a camp and staff member.
func (s *Store) FindRecord(ctx context.Context, camp compensation.CampID, staff compensation.StaffProfileID) (compensation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRecord(ctx, camp, staff, "")
}

func (s *Store) currentRecord(ctx context.Context, camp compensation.CampID, staff compensation.StaffProfileID, tenant compensation.TenantID) (compensation.Record, error) {
	query := "SELECT " + recordColumns + ` FROM compensation_records
		WHERE camp_id = ? AND staff_profile_id = ? AND superseded_by_id IS NULL`
	args := []any{camp, staff}
	if tenant != "" {
		query += " AND tenant_id = ?"
		args = append(args, tenant)
	}

	r, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return compensation.Record{}, recordNotFound(camp, staff)
	}
	return r, err
}

// ListRecords returns records matching the filter.
func (s *Store) ListRecords(ctx context.Context, f compensation.RecordFilter) ([]compensation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.CampID != "" {
		where = append(where, "camp_id = ?")
		args = append(args, f.CampID)
	}
	if f.StaffProfileID != "" {
		where = append(where, "staff_profile_id = ?")
		args = append(args, f.StaffProfileID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if !f.IncludeSuperseded {
		where = append(where, "superseded_by_id IS NULL")
	}

	query := "SELECT " + recordColumns + " FROM compensation_records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY camp_id, staff_profile_id, created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []compensation.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// UpdateComputed overwrites the computed bundle while the record is pending
// and the incoming facts are at least as recent as the stored ones.
func (s *Store) UpdateComputed(ctx context.Context, r compensation.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := factsColumns(r.Facts)
	res, err := s.db.ExecContext(ctx, `
		UPDATE compensation_records SET
			fixed_stipend = ?, enrollment_bonus = ?, csat_bonus = ?, budget_bonus = ?,
			guest_speaker_bonus = ?, total = ?,
			has_facts = ?, facts_enrollment = ?, facts_csat_avg = ?, facts_budget_variance = ?,
			facts_guest_speaker_count = ?, facts_updated_at = ?, computed_at = ?
		WHERE id = ? AND status = 'pending'
			AND (facts_updated_at IS NULL OR facts_updated_at <= ?)
	`,
		r.Breakdown.FixedStipend, r.Breakdown.EnrollmentBonus, r.Breakdown.CSATBonus, r.Breakdown.BudgetBonus,
		r.Breakdown.GuestSpeakerBonus, r.Breakdown.Total,
		f.has, f.enrollment, f.csat, f.budget, f.guests, f.updatedAt, formatTime(r.ComputedAt),
		r.ID, f.updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	current, err := s.recordByID(ctx, s.db, r.ID)
	if err != nil {
		return err
	}
	cause := compensation.ErrAlreadyFinalized
	if !current.IsFinalized() {
		cause = compensation.ErrStaleFacts
	}
	return &compensation.ConflictError{Key: current.Key(), Op: "recompute", Status: current.Status, Err: cause}
}

// MarkFinalized flips a pending record to finalized. The losing side of a
// race gets the stored record and a ConflictError.
func (s *Store) MarkFinalized(ctx context.Context, key compensation.RecordKey, by compensation.UserID, at time.Time) (compensation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE compensation_records SET status = 'finalized', finalized_at = ?, finalized_by = ?
		WHERE tenant_id = ? AND camp_id = ? AND staff_profile_id = ?
			AND superseded_by_id IS NULL AND status = 'pending'
	`, formatTime(at), by, key.TenantID, key.CampID, key.StaffProfileID)
	if err != nil {
		return compensation.Record{}, fmt.Errorf("failed to finalize record: %w", err)
	}
	n, _ := res.RowsAffected()

	current, err := s.currentRecord(ctx, key.CampID, key.StaffProfileID, key.TenantID)
	if err != nil {
		return compensation.Record{}, err
	}
	if n == 0 {
		return current, &compensation.ConflictError{Key: key, Op: "finalize", Status: current.Status, Err: compensation.ErrAlreadyFinalized}
	}
	return current, nil
}

// Supersede links a finalized record to its successor and inserts the
// successor in one transaction.
func (s *Store) Supersede(ctx context.Context, old compensation.Record, successor compensation.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE compensation_records SET superseded_by_id = ?, superseded_at = ?
		WHERE id = ? AND status = 'finalized' AND superseded_by_id IS NULL
	`, successor.ID, formatTime(successor.CreatedAt), old.ID)
	if err != nil {
		return fmt.Errorf("failed to supersede record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, err := s.recordByID(ctx, tx, old.ID)
		if err != nil {
			return err
		}
		if !current.IsFinalized() {
			return &compensation.ConflictError{Key: current.Key(), Op: "supersede", Status: current.Status, Err: compensation.ErrNotFinalized}
		}
		return &compensation.ConflictError{Key: current.Key(), Op: "supersede", Status: current.Status}
	}

	if err := s.insertRecord(ctx, tx, successor); err != nil {
		return err
	}
	return tx.Commit()
}

// PendingCamps lists camps with at least one pending current record.
func (s *Store) PendingCamps(ctx context.Context) ([]compensation.CampID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT camp_id FROM compensation_records
		WHERE status = 'pending' AND superseded_by_id IS NULL
		ORDER BY camp_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var camps []compensation.CampID
	for rows.Next() {
		var id compensation.CampID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		camps = append(camps, id)
	}
	return camps, rows.Err()
}

func (s *Store) recordByID(ctx context.Context, db querier, id compensation.RecordID) (compensation.Record, error) {
	r, err := scanRecord(db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM compensation_records WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return compensation.Record{}, &compensation.NotFoundError{Kind: "record", Key: string(id)}
	}
	return r, err
}

func scanRecord(sc scanner) (compensation.Record, error) {
	var (
		r                                 compensation.Record
		rules                             string
		hasFacts                          bool
		enrollment, guests                int
		csat, budget, factsAt             sql.NullString
		computedAt, createdAt             string
		finalizedAt, finalizedBy          sql.NullString
		supersedes, supersededBy, superAt sql.NullString
	)
	err := sc.Scan(
		&r.ID, &r.TenantID, &r.CampID, &r.StaffProfileID,
		&r.Params.PlanID, &r.Params.PlanCode, &r.Params.PlanVersion, &r.Params.PreCampStipend, &r.Params.OnSiteStipend,
		&r.Params.EnrollmentThreshold, &r.Params.EnrollmentBonusPerCamper, &rules,
		&r.Breakdown.FixedStipend, &r.Breakdown.EnrollmentBonus, &r.Breakdown.CSATBonus,
		&r.Breakdown.BudgetBonus, &r.Breakdown.GuestSpeakerBonus, &r.Breakdown.Total,
		&hasFacts, &enrollment, &csat, &budget, &guests, &factsAt, &computedAt,
		&r.Status, &finalizedAt, &finalizedBy, &supersedes, &supersededBy, &superAt, &createdAt,
	)
	if err != nil {
		return compensation.Record{}, err
	}
	if r.Params.Rules, err = decodeRules(rules); err != nil {
		return compensation.Record{}, err
	}

	if hasFacts {
		f := &compensation.SessionFacts{Enrollment: enrollment, GuestSpeakerCount: guests}
		if f.CSATAvg, err = parseNullDecimal(csat); err != nil {
			return compensation.Record{}, fmt.Errorf("record %s csat_avg: %w", r.ID, err)
		}
		if f.BudgetVariance, err = parseNullDecimal(budget); err != nil {
			return compensation.Record{}, fmt.Errorf("record %s budget_variance: %w", r.ID, err)
		}
		if factsAt.Valid {
			f.UpdatedAt = parseTime(factsAt.String)
		}
		r.Facts = f
	}

	r.ComputedAt = parseTime(computedAt)
	r.CreatedAt = parseTime(createdAt)
	r.FinalizedAt = parseNullTime(finalizedAt)
	r.FinalizedByUserID = compensation.UserID(finalizedBy.String)
	r.SupersedesID = compensation.RecordID(supersedes.String)
	r.SupersededByID = compensation.RecordID(supersededBy.String)
	r.SupersededAt = parseNullTime(superAt)
	return r, nil
}

type factsCols struct {
	has        bool
	enrollment int
	csat       sql.NullString
	budget     sql.NullString
	guests     int
	updatedAt  sql.NullString
}

func factsColumns(f *compensation.SessionFacts) factsCols {
	if f == nil {
		return factsCols{}
	}
	c := factsCols{
		has:        true,
		enrollment: f.Enrollment,
		csat:       nullDecimal(f.CSATAvg),
		budget:     nullDecimal(f.BudgetVariance),
		guests:     f.GuestSpeakerCount,
	}
	if !f.UpdatedAt.IsZero() {
		c.updatedAt = sql.NullString{String: formatTime(f.UpdatedAt), Valid: true}
	}
	return c
}

func recordNotFound(camp compensation.CampID, staff compensation.StaffProfileID) error {
	return &compensation.NotFoundError{Kind: "record", Key: string(camp) + "/" + string(staff)}
}

// =============================================================================
// CAMPS & FACTS
// =============================================================================

// SaveCamp upserts a camp session.
func (s *Store) SaveCamp(ctx context.Context, c compensation.Camp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO camps (id, tenant_id, name, starts_on, ends_on)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			name = excluded.name,
			starts_on = excluded.starts_on,
			ends_on = excluded.ends_on
	`, c.ID, c.TenantID, c.Name, nullDate(c.StartsOn), nullDate(c.EndsOn))
	return err
}

// GetCamp retrieves a camp session by ID.
func (s *Store) GetCamp(ctx context.Context, id compensation.CampID) (compensation.Camp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		c              compensation.Camp
		startsOn, ends sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, tenant_id, name, starts_on, ends_on FROM camps WHERE id = ?", id,
	).Scan(&c.ID, &c.TenantID, &c.Name, &startsOn, &ends)
	if errors.Is(err, sql.ErrNoRows) {
		return compensation.Camp{}, &compensation.NotFoundError{Kind: "camp", Key: string(id)}
	}
	if err != nil {
		return compensation.Camp{}, err
	}
	if startsOn.Valid {
		c.StartsOn, _ = time.Parse(time.DateOnly, startsOn.String)
	}
	if ends.Valid {
		c.EndsOn, _ = time.Parse(time.DateOnly, ends.String)
	}
	return c, nil
}

// SaveSessionFacts upserts the facts of a camp.
func (s *Store) SaveSessionFacts(ctx context.Context, id compensation.CampID, f compensation.SessionFacts) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_facts (camp_id, enrollment, csat_avg, budget_variance, guest_speaker_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(camp_id) DO UPDATE SET
			enrollment = excluded.enrollment,
			csat_avg = excluded.csat_avg,
			budget_variance = excluded.budget_variance,
			guest_speaker_count = excluded.guest_speaker_count,
			updated_at = excluded.updated_at
	`, id, f.Enrollment, nullDecimal(f.CSATAvg), nullDecimal(f.BudgetVariance), f.GuestSpeakerCount, formatTime(f.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save session facts: %w", err)
	}
	return nil
}

// SessionFacts returns the facts of a camp, or nil when none are recorded.
func (s *Store) SessionFacts(ctx context.Context, id compensation.CampID) (*compensation.SessionFacts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		f            compensation.SessionFacts
		csat, budget sql.NullString
		updatedAt    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT enrollment, csat_avg, budget_variance, guest_speaker_count, updated_at
		FROM session_facts WHERE camp_id = ?
	`, id).Scan(&f.Enrollment, &csat, &budget, &f.GuestSpeakerCount, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if f.CSATAvg, err = parseNullDecimal(csat); err != nil {
		return nil, fmt.Errorf("session facts %s csat_avg: %w", id, err)
	}
	if f.BudgetVariance, err = parseNullDecimal(budget); err != nil {
		return nil, fmt.Errorf("session facts %s budget_variance: %w", id, err)
	}
	f.UpdatedAt = parseTime(updatedAt)
	return &f, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AppendAudit adds an entry to the audit log.
func (s *Store) AppendAudit(ctx context.Context, e compensation.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, actor_id, action, tenant_id, camp_id, staff_profile_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, formatTime(e.At), e.ActorID, e.Action, e.TenantID, e.CampID, e.StaffProfileID, string(payload))
	return err
}

// QueryAudit returns matching entries newest first.
func (s *Store) QueryAudit(ctx context.Context, f compensation.AuditFilter) ([]compensation.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.CampID != "" {
		where = append(where, "camp_id = ?")
		args = append(args, f.CampID)
	}
	if len(f.Actions) > 0 {
		marks := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			marks[i] = "?"
			args = append(args, a)
		}
		where = append(where, "action IN ("+strings.Join(marks, ", ")+")")
	}

	query := "SELECT id, at, actor_id, action, tenant_id, camp_id, staff_profile_id, payload_json FROM audit_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []compensation.AuditEntry
	for rows.Next() {
		var (
			e       compensation.AuditEntry
			at      string
			payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &e.ActorID, &e.Action, &e.TenantID, &e.CampID, &e.StaffProfileID, &payload); err != nil {
			return nil, err
		}
		e.At = parseTime(at)
		if payload.Valid && payload.String != "" && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode audit payload: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data. Used by the demo scenario loader.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"audit_log", "compensation_records", "session_facts", "camps", "plans"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.DateOnly), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("malformed decimal %q: %w", s.String, err)
	}
	return compensation.NewNullDecimal(d), nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
