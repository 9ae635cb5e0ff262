package compensation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/incentive-engine/compensation"
)

func TestCaller_CanSee(t *testing.T) {
	rec := compensation.Record{TenantID: "tenant-a", CampID: "camp-1", StaffProfileID: "coach-1"}

	tests := []struct {
		name   string
		caller compensation.Caller
		want   bool
	}{
		{"hq", compensation.Caller{ID: "hq-1", Role: compensation.RoleHQ}, true},
		{"own licensee", compensation.Caller{ID: "lic-a", Role: compensation.RoleLicensee, TenantID: "tenant-a"}, true},
		{"other licensee", compensation.Caller{ID: "lic-b", Role: compensation.RoleLicensee, TenantID: "tenant-b"}, false},
		{"licensee without tenant", compensation.Caller{ID: "lic-x", Role: compensation.RoleLicensee}, false},
		{"self", compensation.Caller{ID: "coach-1", Role: compensation.RoleStaff}, true},
		{"other staff", compensation.Caller{ID: "coach-2", Role: compensation.RoleStaff, TenantID: "tenant-a"}, false},
		{"unknown role", compensation.Caller{ID: "coach-1", Role: "admin"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caller.CanSee(rec))
		})
	}
}

func TestCaller_Scope(t *testing.T) {
	lic := compensation.Caller{ID: "lic-a", Role: compensation.RoleLicensee, TenantID: "tenant-a"}

	f, ok := lic.Scope(compensation.RecordFilter{CampID: "camp-1"})
	assert.True(t, ok)
	assert.Equal(t, compensation.TenantID("tenant-a"), f.TenantID)
	assert.Equal(t, compensation.CampID("camp-1"), f.CampID)

	_, ok = lic.Scope(compensation.RecordFilter{TenantID: "tenant-b"})
	assert.False(t, ok, "licensee cannot widen to another tenant")

	staff := compensation.Caller{ID: "coach-1", Role: compensation.RoleStaff}
	f, ok = staff.Scope(compensation.RecordFilter{TenantID: "tenant-b"})
	assert.True(t, ok)
	assert.Equal(t, compensation.StaffProfileID("coach-1"), f.StaffProfileID)

	_, ok = staff.Scope(compensation.RecordFilter{StaffProfileID: "coach-2"})
	assert.False(t, ok)

	_, ok = compensation.Caller{Role: "nobody"}.Scope(compensation.RecordFilter{})
	assert.False(t, ok)
}

func TestCaller_CanManage(t *testing.T) {
	assert.True(t, compensation.Caller{Role: compensation.RoleHQ}.CanManage("tenant-z"))
	assert.True(t, compensation.Caller{Role: compensation.RoleLicensee, TenantID: "tenant-a"}.CanManage("tenant-a"))
	assert.False(t, compensation.Caller{Role: compensation.RoleLicensee, TenantID: "tenant-a"}.CanManage("tenant-b"))
	assert.False(t, compensation.Caller{ID: "coach-1", Role: compensation.RoleStaff, TenantID: "tenant-a"}.CanManage("tenant-a"))
}
