// Package rbac はロールベースアクセス制御を提供する。
// ロールと権限の対応はグローバル状態ではなく明示的なConfig構造体として
// 起動時に構築し、ハンドラーへ注入する。
package rbac

// 権限名。
const (
	PermViewAll            = "view_all"
	PermManageAll          = "manage_all"
	PermDeleteAll          = "delete_all"
	PermExportAll          = "export_all"
	PermManageUsers        = "manage_users"
	PermManageStaff        = "manage_staff"
	PermManageDepartments  = "manage_departments"
	PermManagePrograms     = "manage_programs"
	PermManageClients      = "manage_clients"
	PermManageEnrollments  = "manage_enrollments"
	PermManageRestrictions = "manage_restrictions"
	PermViewAuditLog       = "view_audit_log"
	PermManageRecipients   = "manage_email_subscriptions"
	PermViewReports        = "view_reports"
	PermManageReports      = "manage_reports"
	PermViewDepartment     = "view_department"
	PermManageDepartment   = "manage_department"
	PermExportDepartment   = "export_department"
	PermViewClients        = "view_clients"
	PermEditClients        = "edit_clients"
	PermViewPrograms       = "view_programs"
	PermViewEnrollments    = "view_enrollments"
	PermViewRestrictions   = "view_restrictions"
	PermExportReports      = "export_reports"
	PermViewDashboard      = "view_dashboard"
	PermViewOwnProfile     = "view_own_profile"
	PermImportClients      = "import_clients"
	PermApproveChanges     = "approve_changes"
)

// ロール名。
const (
	RoleSuperAdmin = "SuperAdmin"
	RoleAdmin      = "Admin"
	RoleManager    = "Manager"
	RoleLeader     = "Leader"
	RoleStaff      = "Staff"
	RoleAnalyst    = "Analyst"
	RoleUser       = "User"
)

// Config はロール→権限セットとロール階層レベルの対応を保持する。
// イミュータブルとして扱い、起動時に1回構築して各ハンドラーへ渡す。
type Config struct {
	permissions map[string]map[string]struct{}
	hierarchy   map[string]int
}

// NewConfig はロール定義からConfigを構築する。
func NewConfig(rolePermissions map[string][]string, hierarchy map[string]int) *Config {
	perms := make(map[string]map[string]struct{}, len(rolePermissions))
	for role, list := range rolePermissions {
		set := make(map[string]struct{}, len(list))
		for _, p := range list {
			set[p] = struct{}{}
		}
		perms[role] = set
	}
	h := make(map[string]int, len(hierarchy))
	for role, level := range hierarchy {
		h[role] = level
	}
	return &Config{permissions: perms, hierarchy: h}
}

// DefaultConfig は既定のロール定義を返す。
func DefaultConfig() *Config {
	adminPerms := []string{
		PermViewAll, PermManageAll, PermDeleteAll, PermExportAll,
		PermManageUsers, PermManageStaff, PermManageDepartments,
		PermManagePrograms, PermManageClients, PermManageEnrollments,
		PermManageRestrictions, PermViewAuditLog, PermManageRecipients,
		PermViewReports, PermManageReports, PermImportClients, PermApproveChanges,
	}
	return NewConfig(map[string][]string{
		RoleSuperAdmin: adminPerms,
		RoleAdmin:      adminPerms,
		RoleManager: {
			PermViewDepartment, PermManageDepartment, PermExportDepartment,
			PermManageStaff, PermManagePrograms, PermManageClients,
			PermManageEnrollments, PermManageRestrictions, PermViewReports,
			PermImportClients, PermApproveChanges,
		},
		RoleLeader: {
			PermViewDepartment, PermManageDepartment, PermExportDepartment,
			PermManagePrograms, PermManageClients, PermManageEnrollments,
			PermManageRestrictions, PermViewReports,
		},
		RoleStaff: {
			PermViewClients, PermEditClients, PermViewPrograms,
			PermViewEnrollments, PermViewRestrictions, PermViewReports,
		},
		RoleAnalyst: {
			PermViewReports, PermExportReports, PermViewDashboard,
		},
		RoleUser: {
			PermViewOwnProfile,
		},
	}, map[string]int{
		RoleSuperAdmin: 100,
		RoleAdmin:      90,
		RoleManager:    80,
		RoleLeader:     70,
		RoleStaff:      60,
		RoleAnalyst:    50,
		RoleUser:       10,
	})
}

// HasPermission はロール集合のいずれかが指定権限を持つかを返す。
func (c *Config) HasPermission(roles []string, permission string) bool {
	for _, role := range roles {
		if set, ok := c.permissions[role]; ok {
			if _, ok := set[permission]; ok {
				return true
			}
		}
	}
	return false
}

// HasRole はロール集合に指定ロールが含まれるかを返す。
func (c *Config) HasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole はロール集合が指定ロールのいずれかを含むかを返す。
func (c *Config) HasAnyRole(roles []string, wanted ...string) bool {
	for _, w := range wanted {
		if c.HasRole(roles, w) {
			return true
		}
	}
	return false
}

// HasMinimumRole はロール集合の最高階層レベルがmin_role以上かを返す。
func (c *Config) HasMinimumRole(roles []string, minRole string) bool {
	minLevel, ok := c.hierarchy[minRole]
	if !ok {
		return false
	}
	level := 0
	for _, r := range roles {
		if l, ok := c.hierarchy[r]; ok && l > level {
			level = l
		}
	}
	return level >= minLevel
}

// Permissions はロール集合が持つ全権限を返す。
func (c *Config) Permissions(roles []string) []string {
	set := make(map[string]struct{})
	for _, role := range roles {
		for p := range c.permissions[role] {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}
