package rbac

// ScopeKind はデータ可視範囲の種別を表す。
type ScopeKind string

const (
	// ScopeAll は全データを参照できる。
	ScopeAll ScopeKind = "all"
	// ScopeDepartment は所属部門のデータのみ参照できる。
	ScopeDepartment ScopeKind = "department"
	// ScopeSelf は自分が担当するデータのみ参照できる。
	ScopeSelf ScopeKind = "self"
	// ScopeNone は参照不可。
	ScopeNone ScopeKind = "none"
)

// Scope はリポジトリのリスト系メソッドに渡すクエリ可視範囲。
// ロールに応じた動的なクエリフィルタリングの代わりに、
// 明示的なスコープ値を計算してリポジトリへ渡す。
type Scope struct {
	Kind          ScopeKind
	DepartmentIDs []string // Kind=ScopeDepartmentの場合の対象部門
	StaffID       string   // Kind=ScopeSelfの場合の職員ID
}

// ScopeAllData は全件参照スコープを返す。
func ScopeAllData() Scope {
	return Scope{Kind: ScopeAll}
}

// ScopeFor はロール集合と職員情報からデータ可視範囲を計算する。
// SuperAdmin/Admin → 全件、Manager/Leader → 所属部門、
// Staff/Analyst → 自分の担当分、それ以外 → 参照不可。
func (c *Config) ScopeFor(roles []string, staffID string, departmentIDs []string) Scope {
	if c.HasAnyRole(roles, RoleSuperAdmin, RoleAdmin) {
		return Scope{Kind: ScopeAll}
	}
	if c.HasAnyRole(roles, RoleManager, RoleLeader) {
		return Scope{Kind: ScopeDepartment, DepartmentIDs: departmentIDs}
	}
	if c.HasAnyRole(roles, RoleStaff, RoleAnalyst) {
		return Scope{Kind: ScopeSelf, StaffID: staffID}
	}
	return Scope{Kind: ScopeNone}
}
