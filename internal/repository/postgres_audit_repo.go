package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/ccd/internal/model"
)

// PostgresAuditLogRepo はPostgreSQLを使用した監査ログリポジトリ。
type PostgresAuditLogRepo struct {
	db *sql.DB
}

// NewPostgresAuditLogRepo はPostgresAuditLogRepoを生成する。
func NewPostgresAuditLogRepo(db *sql.DB) *PostgresAuditLogRepo {
	return &PostgresAuditLogRepo{db: db}
}

// Create は監査ログを記録する。
// ChangedByが空の場合はシステム処理としてNULLを格納する。
func (r *PostgresAuditLogRepo) Create(ctx context.Context, log *model.AuditLog) error {
	diff := log.Diff
	if diff == nil {
		diff = map[string]any{}
	}
	diffJSON, err := json.Marshal(diff)
	if err != nil {
		return fmt.Errorf("failed to marshal audit diff: %w", err)
	}

	var changedBy any
	if log.ChangedBy != "" {
		changedBy = log.ChangedBy
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, entity, entity_id, action, changed_by, diff, changed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		log.ID, log.Entity, log.EntityID, log.Action, changedBy, diffJSON, log.ChangedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// List は検索条件に一致する監査ログを変更日時降順で返す。
func (r *PostgresAuditLogRepo) List(ctx context.Context, filter AuditFilter) ([]*model.AuditLog, error) {
	var conds []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Entity != "" {
		conds = append(conds, "entity = "+arg(filter.Entity))
	}
	if filter.EntityID != "" {
		conds = append(conds, "entity_id = "+arg(filter.EntityID))
	}
	if filter.Action != "" {
		conds = append(conds, "action = "+arg(string(filter.Action)))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf(
		`SELECT id, entity, entity_id, action, changed_by, diff, changed_at
		 FROM audit_logs %s
		 ORDER BY changed_at DESC
		 LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*model.AuditLog
	for rows.Next() {
		entry := &model.AuditLog{}
		var changedBy sql.NullString
		var diffJSON []byte
		if err := rows.Scan(&entry.ID, &entry.Entity, &entry.EntityID, &entry.Action,
			&changedBy, &diffJSON, &entry.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		entry.ChangedBy = changedBy.String
		if err := json.Unmarshal(diffJSON, &entry.Diff); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit diff: %w", err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit logs: %w", err)
	}
	return logs, nil
}

// DeleteOlderThan は指定時刻より古い監査ログを削除し、削除件数を返す。
func (r *PostgresAuditLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM audit_logs WHERE changed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit logs: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// compile-time interface check
var _ AuditLogRepository = (*PostgresAuditLogRepo)(nil)
