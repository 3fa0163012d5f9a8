package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/ccd/internal/model"
)

// PostgresPendingChangeRepo はPostgreSQLを使用した承認待ち変更リポジトリ。
type PostgresPendingChangeRepo struct {
	db *sql.DB
}

// NewPostgresPendingChangeRepo はPostgresPendingChangeRepoを生成する。
func NewPostgresPendingChangeRepo(db *sql.DB) *PostgresPendingChangeRepo {
	return &PostgresPendingChangeRepo{db: db}
}

const pendingChangeColumns = `id, entity, entity_id, diff, requested_by, status, reviewed_by, reviewed_at, rationale, created_at, updated_at`

func scanPendingChange(row interface{ Scan(...any) error }) (*model.PendingChange, error) {
	change := &model.PendingChange{}
	var diffJSON []byte
	var reviewedBy sql.NullString
	err := row.Scan(&change.ID, &change.Entity, &change.EntityID, &diffJSON,
		&change.RequestedBy, &change.Status, &reviewedBy, &change.ReviewedAt,
		&change.Rationale, &change.CreatedAt, &change.UpdatedAt)
	if err != nil {
		return nil, err
	}
	change.ReviewedBy = reviewedBy.String
	if err := json.Unmarshal(diffJSON, &change.Diff); err != nil {
		return nil, fmt.Errorf("failed to unmarshal change diff: %w", err)
	}
	return change, nil
}

// FindByID は指定IDの承認待ち変更を取得する。見つからない場合はnilを返す。
func (r *PostgresPendingChangeRepo) FindByID(ctx context.Context, id string) (*model.PendingChange, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+pendingChangeColumns+` FROM pending_changes WHERE id = $1`, id)

	change, err := scanPendingChange(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending change by ID: %w", err)
	}
	return change, nil
}

// ListByStatus は指定ステータスの変更一覧を作成日時昇順で返す。
func (r *PostgresPendingChangeRepo) ListByStatus(ctx context.Context, status model.PendingChangeStatus) ([]*model.PendingChange, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pendingChangeColumns+` FROM pending_changes
		 WHERE status = $1 ORDER BY created_at`,
		status,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending changes: %w", err)
	}
	defer rows.Close()

	var changes []*model.PendingChange
	for rows.Next() {
		change, err := scanPendingChange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending change: %w", err)
		}
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending changes: %w", err)
	}
	return changes, nil
}

// Create は承認待ち変更を作成する。
func (r *PostgresPendingChangeRepo) Create(ctx context.Context, change *model.PendingChange) error {
	diff := change.Diff
	if diff == nil {
		diff = map[string]any{}
	}
	diffJSON, err := json.Marshal(diff)
	if err != nil {
		return fmt.Errorf("failed to marshal change diff: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO pending_changes (id, entity, entity_id, diff, requested_by, status, rationale, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		change.ID, change.Entity, change.EntityID, diffJSON, change.RequestedBy,
		change.Status, change.Rationale, change.CreatedAt, change.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pending change: %w", err)
	}
	return nil
}

// UpdateStatus は変更のステータス・レビュー者・理由を更新する。
func (r *PostgresPendingChangeRepo) UpdateStatus(ctx context.Context, change *model.PendingChange) error {
	var reviewedBy any
	if change.ReviewedBy != "" {
		reviewedBy = change.ReviewedBy
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE pending_changes SET status = $2, reviewed_by = $3, reviewed_at = $4,
			rationale = $5, updated_at = $6
		 WHERE id = $1`,
		change.ID, change.Status, reviewedBy, change.ReviewedAt,
		change.Rationale, change.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update pending change: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("pending change not found: %s", change.ID)
	}
	return nil
}

// compile-time interface check
var _ PendingChangeRepository = (*PostgresPendingChangeRepo)(nil)
