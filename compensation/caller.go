package compensation

// =============================================================================
// CALLER - Explicit identity passed into every scoped operation
// =============================================================================

// Role is the caller's role within the platform.
type Role string

const (
	// RoleStaff covers coaches and directors. They see only their own rows.
	RoleStaff Role = "staff"
	// RoleLicensee is a territory owner. They see every row of their tenant.
	RoleLicensee Role = "licensee"
	// RoleHQ is headquarters. Unrestricted.
	RoleHQ Role = "hq"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStaff, RoleLicensee, RoleHQ:
		return true
	}
	return false
}

// Caller is supplied by the identity layer. The engine trusts it and never
// reads identity from anywhere else.
type Caller struct {
	ID       UserID
	Role     Role
	TenantID TenantID
}

// StaffProfileID is the profile a staff caller is paid under.
func (c Caller) StaffProfileID() StaffProfileID { return StaffProfileID(c.ID) }

// CanSee reports whether the record is visible to the caller.
func (c Caller) CanSee(r Record) bool {
	switch c.Role {
	case RoleHQ:
		return true
	case RoleLicensee:
		return c.TenantID != "" && r.TenantID == c.TenantID
	case RoleStaff:
		return c.ID != "" && r.StaffProfileID == c.StaffProfileID()
	}
	return false
}

// CanManage reports whether the caller may assign, finalize or correct
// records of the given tenant.
func (c Caller) CanManage(tenant TenantID) bool {
	switch c.Role {
	case RoleHQ:
		return true
	case RoleLicensee:
		return c.TenantID != "" && c.TenantID == tenant
	}
	return false
}

// Scope narrows a filter to what the caller may see. The returned bool is
// false when the role is unknown and nothing is visible.
func (c Caller) Scope(f RecordFilter) (RecordFilter, bool) {
	switch c.Role {
	case RoleHQ:
		return f, true
	case RoleLicensee:
		if c.TenantID == "" || (f.TenantID != "" && f.TenantID != c.TenantID) {
			return f, false
		}
		f.TenantID = c.TenantID
		return f, true
	case RoleStaff:
		id := c.StaffProfileID()
		if id == "" || (f.StaffProfileID != "" && f.StaffProfileID != id) {
			return f, false
		}
		f.StaffProfileID = id
		return f, true
	}
	return f, false
}
