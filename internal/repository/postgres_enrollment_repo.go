package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/ccd/internal/model"
)

// PostgresEnrollmentRepo はPostgreSQLを使用した在籍リポジトリ。
type PostgresEnrollmentRepo struct {
	db *sql.DB
}

// NewPostgresEnrollmentRepo はPostgresEnrollmentRepoを生成する。
func NewPostgresEnrollmentRepo(db *sql.DB) *PostgresEnrollmentRepo {
	return &PostgresEnrollmentRepo{db: db}
}

const enrollmentColumns = `id, client_id, program_id, start_date, end_date, created_at, updated_at`

func scanEnrollment(row interface{ Scan(...any) error }) (*model.Enrollment, error) {
	e := &model.Enrollment{}
	err := row.Scan(&e.ID, &e.ClientID, &e.ProgramID, &e.StartDate, &e.EndDate, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// FindByID は指定IDの在籍を取得する。見つからない場合はnilを返す。
func (r *PostgresEnrollmentRepo) FindByID(ctx context.Context, id string) (*model.Enrollment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, id)

	enrollment, err := scanEnrollment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find enrollment by ID: %w", err)
	}
	return enrollment, nil
}

// ListByClient はクライアントの在籍履歴を開始日降順で返す。
func (r *PostgresEnrollmentRepo) ListByClient(ctx context.Context, clientID string) ([]*model.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments
		 WHERE client_id = $1 ORDER BY start_date DESC`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments by client: %w", err)
	}
	defer rows.Close()

	return collectEnrollments(rows)
}

// ListByProgram はプログラムの在籍一覧を返す。openOnlyがtrueの場合は終了日未設定のみ。
func (r *PostgresEnrollmentRepo) ListByProgram(ctx context.Context, programID string, openOnly bool) ([]*model.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE program_id = $1`
	if openOnly {
		query += ` AND end_date IS NULL`
	}
	query += ` ORDER BY start_date DESC`

	rows, err := r.db.QueryContext(ctx, query, programID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments by program: %w", err)
	}
	defer rows.Close()

	return collectEnrollments(rows)
}

// FindOpen はクライアントとプログラムのオープンな在籍を検索する。見つからない場合はnilを返す。
func (r *PostgresEnrollmentRepo) FindOpen(ctx context.Context, clientID, programID string) (*model.Enrollment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments
		 WHERE client_id = $1 AND program_id = $2 AND end_date IS NULL
		 ORDER BY start_date DESC LIMIT 1`,
		clientID, programID,
	)

	enrollment, err := scanEnrollment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open enrollment: %w", err)
	}
	return enrollment, nil
}

// Create は在籍を作成する。
func (r *PostgresEnrollmentRepo) Create(ctx context.Context, enrollment *model.Enrollment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO enrollments (id, client_id, program_id, start_date, end_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		enrollment.ID, enrollment.ClientID, enrollment.ProgramID,
		enrollment.StartDate, enrollment.EndDate, enrollment.CreatedAt, enrollment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert enrollment: %w", err)
	}
	return nil
}

// Update は在籍を更新する。
func (r *PostgresEnrollmentRepo) Update(ctx context.Context, enrollment *model.Enrollment) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE enrollments SET start_date = $2, end_date = $3, updated_at = $4 WHERE id = $1`,
		enrollment.ID, enrollment.StartDate, enrollment.EndDate, enrollment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update enrollment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("enrollment not found: %s", enrollment.ID)
	}
	return nil
}

// DeleteByID は指定IDの在籍を削除する。
func (r *PostgresEnrollmentRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete enrollment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("enrollment not found: %s", id)
	}
	return nil
}

// CreateIntake は受入記録を作成する。
func (r *PostgresEnrollmentRepo) CreateIntake(ctx context.Context, intake *model.Intake) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO intakes (id, client_id, program_id, intake_date, source_system, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		intake.ID, intake.ClientID, intake.ProgramID, intake.IntakeDate,
		intake.SourceSystem, intake.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert intake: %w", err)
	}
	return nil
}

// CreateDischarge は退所記録を作成する。
func (r *PostgresEnrollmentRepo) CreateDischarge(ctx context.Context, discharge *model.Discharge) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO discharges (id, client_id, program_id, discharge_date, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		discharge.ID, discharge.ClientID, discharge.ProgramID, discharge.DischargeDate,
		discharge.Reason, discharge.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert discharge: %w", err)
	}
	return nil
}

func collectEnrollments(rows *sql.Rows) ([]*model.Enrollment, error) {
	var enrollments []*model.Enrollment
	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		enrollments = append(enrollments, enrollment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate enrollments: %w", err)
	}
	return enrollments, nil
}

// compile-time interface check
var _ EnrollmentRepository = (*PostgresEnrollmentRepo)(nil)
