package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/ccd/internal/model"
)

// PostgresUploadLogRepo はPostgreSQLを使用した取り込みログリポジトリ。
type PostgresUploadLogRepo struct {
	db *sql.DB
}

// NewPostgresUploadLogRepo はPostgresUploadLogRepoを生成する。
func NewPostgresUploadLogRepo(db *sql.DB) *PostgresUploadLogRepo {
	return &PostgresUploadLogRepo{db: db}
}

// Create は取り込みログを記録する。
func (r *PostgresUploadLogRepo) Create(ctx context.Context, log *model.UploadLog) error {
	rowErrors := log.RowErrors
	if rowErrors == nil {
		rowErrors = []model.RowError{}
	}
	errorsJSON, err := json.Marshal(rowErrors)
	if err != nil {
		return fmt.Errorf("failed to marshal row errors: %w", err)
	}

	var uploadedBy any
	if log.UploadedBy != "" {
		uploadedBy = log.UploadedBy
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO upload_logs (id, source_system, filename, uploaded_by, total_rows,
			created_count, updated_count, flagged_count, rejected_rows, status, row_errors, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		log.ID, log.SourceSystem, log.Filename, uploadedBy, log.TotalRows,
		log.CreatedCount, log.UpdatedCount, log.FlaggedCount, log.RejectedRows,
		log.Status, errorsJSON, log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert upload log: %w", err)
	}
	return nil
}

// List は取り込みログを作成日時降順で返す。
func (r *PostgresUploadLogRepo) List(ctx context.Context, limit int) ([]*model.UploadLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, source_system, filename, uploaded_by, total_rows,
			created_count, updated_count, flagged_count, rejected_rows, status, row_errors, created_at
		 FROM upload_logs ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list upload logs: %w", err)
	}
	defer rows.Close()

	var logs []*model.UploadLog
	for rows.Next() {
		entry := &model.UploadLog{}
		var uploadedBy sql.NullString
		var errorsJSON []byte
		if err := rows.Scan(&entry.ID, &entry.SourceSystem, &entry.Filename, &uploadedBy,
			&entry.TotalRows, &entry.CreatedCount, &entry.UpdatedCount, &entry.FlaggedCount,
			&entry.RejectedRows, &entry.Status, &errorsJSON, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan upload log: %w", err)
		}
		entry.UploadedBy = uploadedBy.String
		if err := json.Unmarshal(errorsJSON, &entry.RowErrors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal row errors: %w", err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate upload logs: %w", err)
	}
	return logs, nil
}

// compile-time interface check
var _ UploadLogRepository = (*PostgresUploadLogRepo)(nil)
