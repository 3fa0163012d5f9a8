package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/ccd/internal/model"
)

// PostgresProgramRepo はPostgreSQLを使用したプログラムリポジトリ。
type PostgresProgramRepo struct {
	db *sql.DB
}

// NewPostgresProgramRepo はPostgresProgramRepoを生成する。
func NewPostgresProgramRepo(db *sql.DB) *PostgresProgramRepo {
	return &PostgresProgramRepo{db: db}
}

const programColumns = `id, name, department_id, location, capacity_current, capacity_effective_date, created_at, updated_at`

func scanProgram(row interface{ Scan(...any) error }) (*model.Program, error) {
	p := &model.Program{}
	err := row.Scan(&p.ID, &p.Name, &p.DepartmentID, &p.Location,
		&p.CapacityCurrent, &p.CapacityEffectiveDate, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FindByID は指定IDのプログラムを取得する。見つからない場合はnilを返す。
func (r *PostgresProgramRepo) FindByID(ctx context.Context, id string) (*model.Program, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+programColumns+` FROM programs WHERE id = $1`, id)

	program, err := scanProgram(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find program by ID: %w", err)
	}
	return program, nil
}

// FindByName はプログラム名で検索する。CSV取り込みの自動在籍登録に使用する。
// 大文字小文字を無視して比較し、見つからない場合はnilを返す。
func (r *PostgresProgramRepo) FindByName(ctx context.Context, name string) (*model.Program, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+programColumns+` FROM programs WHERE lower(name) = lower($1) LIMIT 1`, name)

	program, err := scanProgram(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find program by name: %w", err)
	}
	return program, nil
}

// List は全プログラムを返す。departmentIDを指定すると部門で絞り込む。
func (r *PostgresProgramRepo) List(ctx context.Context, departmentID string) ([]*model.Program, error) {
	query := `SELECT ` + programColumns + ` FROM programs`
	var args []any
	if departmentID != "" {
		query += ` WHERE department_id = $1`
		args = append(args, departmentID)
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list programs: %w", err)
	}
	defer rows.Close()

	var programs []*model.Program
	for rows.Next() {
		program, err := scanProgram(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan program: %w", err)
		}
		programs = append(programs, program)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate programs: %w", err)
	}
	return programs, nil
}

// Create はプログラムを作成する。
func (r *PostgresProgramRepo) Create(ctx context.Context, program *model.Program) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO programs (id, name, department_id, location, capacity_current, capacity_effective_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		program.ID, program.Name, program.DepartmentID, program.Location,
		program.CapacityCurrent, program.CapacityEffectiveDate, program.CreatedAt, program.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert program: %w", err)
	}
	return nil
}

// Update はプログラムを更新する。
func (r *PostgresProgramRepo) Update(ctx context.Context, program *model.Program) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE programs SET name = $2, department_id = $3, location = $4,
			capacity_current = $5, capacity_effective_date = $6, updated_at = $7
		 WHERE id = $1`,
		program.ID, program.Name, program.DepartmentID, program.Location,
		program.CapacityCurrent, program.CapacityEffectiveDate, program.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update program: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("program not found: %s", program.ID)
	}
	return nil
}

// DeleteByID は指定IDのプログラムを削除する。
func (r *PostgresProgramRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM programs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete program: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("program not found: %s", id)
	}
	return nil
}

// AssignStaff はプログラムに職員を割り当てる。既に割当済みの場合は何もしない。
func (r *PostgresProgramRepo) AssignStaff(ctx context.Context, programID, staffID string, isManager bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO program_staff (program_id, staff_id, is_manager)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (program_id, staff_id) DO UPDATE SET is_manager = EXCLUDED.is_manager`,
		programID, staffID, isManager,
	)
	if err != nil {
		return fmt.Errorf("failed to assign staff to program: %w", err)
	}
	return nil
}

// RemoveStaff はプログラムから職員の割当を解除する。
func (r *PostgresProgramRepo) RemoveStaff(ctx context.Context, programID, staffID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM program_staff WHERE program_id = $1 AND staff_id = $2`,
		programID, staffID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove staff from program: %w", err)
	}
	return nil
}

// ListStaff はプログラムに割り当てられた職員IDの一覧を返す。
func (r *PostgresProgramRepo) ListStaff(ctx context.Context, programID string) ([]*model.ProgramStaff, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, program_id, staff_id, is_manager, created_at
		 FROM program_staff WHERE program_id = $1`,
		programID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list program staff: %w", err)
	}
	defer rows.Close()

	var assignments []*model.ProgramStaff
	for rows.Next() {
		ps := &model.ProgramStaff{}
		if err := rows.Scan(&ps.ID, &ps.ProgramID, &ps.StaffID, &ps.IsManager, &ps.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan program staff: %w", err)
		}
		assignments = append(assignments, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate program staff: %w", err)
	}
	return assignments, nil
}

// compile-time interface check
var _ ProgramRepository = (*PostgresProgramRepo)(nil)
