package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/ccd/internal/model"
)

// PostgresStaffRepo はPostgreSQLを使用した職員リポジトリ。
// 職員本体に加えてロールと割当の操作も提供する。
type PostgresStaffRepo struct {
	db *sql.DB
}

// NewPostgresStaffRepo はPostgresStaffRepoを生成する。
func NewPostgresStaffRepo(db *sql.DB) *PostgresStaffRepo {
	return &PostgresStaffRepo{db: db}
}

const staffColumns = `id, user_id, first_name, last_name, email, active, created_at, updated_at`

func scanStaff(row interface{ Scan(...any) error }) (*model.Staff, error) {
	s := &model.Staff{}
	var userID sql.NullString
	err := row.Scan(&s.ID, &userID, &s.FirstName, &s.LastName, &s.Email,
		&s.Active, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.UserID = userID.String
	return s, nil
}

// FindByID は指定IDの職員を取得する。見つからない場合はnilを返す。
func (r *PostgresStaffRepo) FindByID(ctx context.Context, id string) (*model.Staff, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+staffColumns+` FROM staff WHERE id = $1`, id)

	staff, err := scanStaff(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find staff by ID: %w", err)
	}
	return staff, nil
}

// FindByUserID はログインユーザーIDに紐づく職員を取得する。見つからない場合はnilを返す。
func (r *PostgresStaffRepo) FindByUserID(ctx context.Context, userID string) (*model.Staff, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+staffColumns+` FROM staff WHERE user_id = $1`, userID)

	staff, err := scanStaff(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find staff by user ID: %w", err)
	}
	return staff, nil
}

// FindWithRoles は職員をロール名と所属部門ID付きで取得する。
// 部門IDはprogram_staff経由で割り当てられたプログラムの部門から導出する。
// 見つからない場合はnilを返す。
func (r *PostgresStaffRepo) FindWithRoles(ctx context.Context, staffID string) (*model.StaffWithRoles, error) {
	staff, err := r.FindByID(ctx, staffID)
	if err != nil {
		return nil, err
	}
	if staff == nil {
		return nil, nil
	}

	result := &model.StaffWithRoles{Staff: *staff}

	roleRows, err := r.db.QueryContext(ctx,
		`SELECT r.name FROM staff_roles sr
		 JOIN roles r ON r.id = sr.role_id
		 WHERE sr.staff_id = $1
		 ORDER BY r.name`,
		staffID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list staff roles: %w", err)
	}
	defer roleRows.Close()

	for roleRows.Next() {
		var name string
		if err := roleRows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan role name: %w", err)
		}
		result.RoleNames = append(result.RoleNames, name)
	}
	if err := roleRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate staff roles: %w", err)
	}

	deptRows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT p.department_id FROM program_staff ps
		 JOIN programs p ON p.id = ps.program_id
		 WHERE ps.staff_id = $1`,
		staffID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list staff departments: %w", err)
	}
	defer deptRows.Close()

	for deptRows.Next() {
		var deptID string
		if err := deptRows.Scan(&deptID); err != nil {
			return nil, fmt.Errorf("failed to scan department ID: %w", err)
		}
		result.DepartmentIDs = append(result.DepartmentIDs, deptID)
	}
	if err := deptRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate staff departments: %w", err)
	}

	return result, nil
}

// List は全職員を返す。
func (r *PostgresStaffRepo) List(ctx context.Context) ([]*model.Staff, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+staffColumns+` FROM staff ORDER BY last_name, first_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list staff: %w", err)
	}
	defer rows.Close()

	var staffList []*model.Staff
	for rows.Next() {
		staff, err := scanStaff(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan staff: %w", err)
		}
		staffList = append(staffList, staff)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate staff: %w", err)
	}
	return staffList, nil
}

// Create は職員を作成する。
func (r *PostgresStaffRepo) Create(ctx context.Context, staff *model.Staff) error {
	var userID any
	if staff.UserID != "" {
		userID = staff.UserID
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO staff (id, user_id, first_name, last_name, email, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		staff.ID, userID, staff.FirstName, staff.LastName, staff.Email,
		staff.Active, staff.CreatedAt, staff.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert staff: %w", err)
	}
	return nil
}

// Update は職員を更新する。
func (r *PostgresStaffRepo) Update(ctx context.Context, staff *model.Staff) error {
	var userID any
	if staff.UserID != "" {
		userID = staff.UserID
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE staff SET user_id = $2, first_name = $3, last_name = $4, email = $5,
			active = $6, updated_at = $7
		 WHERE id = $1`,
		staff.ID, userID, staff.FirstName, staff.LastName, staff.Email,
		staff.Active, staff.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update staff: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("staff not found: %s", staff.ID)
	}
	return nil
}

// DeleteByID は指定IDの職員を削除する。
func (r *PostgresStaffRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM staff WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete staff: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("staff not found: %s", id)
	}
	return nil
}

// ListRoles は全ロールを返す。
func (r *PostgresStaffRepo) ListRoles(ctx context.Context) ([]*model.Role, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, description, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*model.Role
	for rows.Next() {
		role := &model.Role{}
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}
	return roles, nil
}

// FindRoleByName はロール名でロールを検索する。見つからない場合はnilを返す。
func (r *PostgresStaffRepo) FindRoleByName(ctx context.Context, name string) (*model.Role, error) {
	role := &model.Role{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at, updated_at FROM roles WHERE name = $1`,
		name,
	).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find role by name: %w", err)
	}
	return role, nil
}

// AssignRole は職員にロールを割り当てる。既に割当済みの場合は何もしない。
func (r *PostgresStaffRepo) AssignRole(ctx context.Context, staffID, roleID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO staff_roles (staff_id, role_id) VALUES ($1, $2)
		 ON CONFLICT (staff_id, role_id) DO NOTHING`,
		staffID, roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// RemoveRole は職員からロールを外す。
func (r *PostgresStaffRepo) RemoveRole(ctx context.Context, staffID, roleID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM staff_roles WHERE staff_id = $1 AND role_id = $2`,
		staffID, roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}

// compile-time interface check
var _ StaffRepository = (*PostgresStaffRepo)(nil)
