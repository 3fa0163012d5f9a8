package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/ccd/internal/model"
)

// PostgresDepartmentRepo はPostgreSQLを使用した部門リポジトリ。
type PostgresDepartmentRepo struct {
	db *sql.DB
}

// NewPostgresDepartmentRepo はPostgresDepartmentRepoを生成する。
func NewPostgresDepartmentRepo(db *sql.DB) *PostgresDepartmentRepo {
	return &PostgresDepartmentRepo{db: db}
}

// FindByID は指定IDの部門を取得する。見つからない場合はnilを返す。
func (r *PostgresDepartmentRepo) FindByID(ctx context.Context, id string) (*model.Department, error) {
	dept := &model.Department{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, owner, created_at, updated_at FROM departments WHERE id = $1`,
		id,
	).Scan(&dept.ID, &dept.Name, &dept.Owner, &dept.CreatedAt, &dept.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find department by ID: %w", err)
	}
	return dept, nil
}

// List は全部門を名前順で返す。
func (r *PostgresDepartmentRepo) List(ctx context.Context) ([]*model.Department, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, owner, created_at, updated_at FROM departments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	defer rows.Close()

	var depts []*model.Department
	for rows.Next() {
		dept := &model.Department{}
		if err := rows.Scan(&dept.ID, &dept.Name, &dept.Owner, &dept.CreatedAt, &dept.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		depts = append(depts, dept)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate departments: %w", err)
	}
	return depts, nil
}

// Create は部門を作成する。
func (r *PostgresDepartmentRepo) Create(ctx context.Context, dept *model.Department) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO departments (id, name, owner, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		dept.ID, dept.Name, dept.Owner, dept.CreatedAt, dept.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert department: %w", err)
	}
	return nil
}

// Update は部門を更新する。
func (r *PostgresDepartmentRepo) Update(ctx context.Context, dept *model.Department) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE departments SET name = $2, owner = $3, updated_at = $4 WHERE id = $1`,
		dept.ID, dept.Name, dept.Owner, dept.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update department: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("department not found: %s", dept.ID)
	}
	return nil
}

// DeleteByID は指定IDの部門を削除する。
func (r *PostgresDepartmentRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM departments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete department: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("department not found: %s", id)
	}
	return nil
}

// compile-time interface check
var _ DepartmentRepository = (*PostgresDepartmentRepo)(nil)
