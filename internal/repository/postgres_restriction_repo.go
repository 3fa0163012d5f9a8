package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/ccd/internal/model"
)

// PostgresRestrictionRepo はPostgreSQLを使用したサービス制限リポジトリ。
type PostgresRestrictionRepo struct {
	db *sql.DB
}

// NewPostgresRestrictionRepo はPostgresRestrictionRepoを生成する。
func NewPostgresRestrictionRepo(db *sql.DB) *PostgresRestrictionRepo {
	return &PostgresRestrictionRepo{db: db}
}

const restrictionColumns = `id, client_id, scope, program_id, start_date, end_date, reason, created_at, updated_at`

func scanRestriction(row interface{ Scan(...any) error }) (*model.ServiceRestriction, error) {
	res := &model.ServiceRestriction{}
	var programID sql.NullString
	err := row.Scan(&res.ID, &res.ClientID, &res.Scope, &programID,
		&res.StartDate, &res.EndDate, &res.Reason, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	res.ProgramID = programID.String
	return res, nil
}

// FindByID は指定IDの制限を取得する。見つからない場合はnilを返す。
func (r *PostgresRestrictionRepo) FindByID(ctx context.Context, id string) (*model.ServiceRestriction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+restrictionColumns+` FROM service_restrictions WHERE id = $1`, id)

	restriction, err := scanRestriction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find restriction by ID: %w", err)
	}
	return restriction, nil
}

// ListByClient はクライアントの制限一覧を返す。
func (r *PostgresRestrictionRepo) ListByClient(ctx context.Context, clientID string) ([]*model.ServiceRestriction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+restrictionColumns+` FROM service_restrictions
		 WHERE client_id = $1 ORDER BY start_date DESC`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list restrictions by client: %w", err)
	}
	defer rows.Close()

	return collectRestrictions(rows)
}

// ListActive は指定時点で有効な制限一覧を返す。
func (r *PostgresRestrictionRepo) ListActive(ctx context.Context, at time.Time) ([]*model.ServiceRestriction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+restrictionColumns+` FROM service_restrictions
		 WHERE start_date <= $1 AND (end_date IS NULL OR end_date >= $1)
		 ORDER BY start_date DESC`,
		at,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active restrictions: %w", err)
	}
	defer rows.Close()

	return collectRestrictions(rows)
}

// ListExpiringBetween は終了日が[from, to]の範囲にある制限を返す。
func (r *PostgresRestrictionRepo) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]*model.ServiceRestriction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+restrictionColumns+` FROM service_restrictions
		 WHERE end_date IS NOT NULL AND end_date BETWEEN $1 AND $2
		 ORDER BY end_date`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring restrictions: %w", err)
	}
	defer rows.Close()

	return collectRestrictions(rows)
}

// ListCreatedSince は指定時刻以降に作成された制限を返す。
func (r *PostgresRestrictionRepo) ListCreatedSince(ctx context.Context, since time.Time) ([]*model.ServiceRestriction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+restrictionColumns+` FROM service_restrictions
		 WHERE created_at >= $1 ORDER BY created_at`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list restrictions created since: %w", err)
	}
	defer rows.Close()

	return collectRestrictions(rows)
}

// Create は制限を作成する。
func (r *PostgresRestrictionRepo) Create(ctx context.Context, restriction *model.ServiceRestriction) error {
	var programID any
	if restriction.ProgramID != "" {
		programID = restriction.ProgramID
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO service_restrictions (id, client_id, scope, program_id, start_date, end_date, reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		restriction.ID, restriction.ClientID, restriction.Scope, programID,
		restriction.StartDate, restriction.EndDate, restriction.Reason,
		restriction.CreatedAt, restriction.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert restriction: %w", err)
	}
	return nil
}

// Update は制限を更新する。
func (r *PostgresRestrictionRepo) Update(ctx context.Context, restriction *model.ServiceRestriction) error {
	var programID any
	if restriction.ProgramID != "" {
		programID = restriction.ProgramID
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE service_restrictions SET scope = $2, program_id = $3, start_date = $4,
			end_date = $5, reason = $6, updated_at = $7
		 WHERE id = $1`,
		restriction.ID, restriction.Scope, programID, restriction.StartDate,
		restriction.EndDate, restriction.Reason, restriction.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update restriction: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("restriction not found: %s", restriction.ID)
	}
	return nil
}

// DeleteByID は指定IDの制限を削除する。
func (r *PostgresRestrictionRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM service_restrictions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete restriction: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("restriction not found: %s", id)
	}
	return nil
}

// ListSubscribers は制限通知を購読している職員を返す。
func (r *PostgresRestrictionRepo) ListSubscribers(ctx context.Context, kind SubscriberKind) ([]*model.RestrictionSubscription, error) {
	flagColumn := "notify_new"
	if kind == SubscriberExpiring {
		flagColumn = "notify_expiring"
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, staff_id, notify_new, notify_expiring, created_at
		 FROM restriction_subscriptions WHERE `+flagColumn+` = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("failed to list restriction subscribers: %w", err)
	}
	defer rows.Close()

	var subs []*model.RestrictionSubscription
	for rows.Next() {
		sub := &model.RestrictionSubscription{}
		if err := rows.Scan(&sub.ID, &sub.StaffID, &sub.NotifyNew, &sub.NotifyExpiring, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan restriction subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate restriction subscriptions: %w", err)
	}
	return subs, nil
}

// CreateNotification は職員向け通知を作成する。
func (r *PostgresRestrictionRepo) CreateNotification(ctx context.Context, notification *model.Notification) error {
	metadata := notification.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal notification metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, staff_id, title, message, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		notification.ID, notification.StaffID, notification.Title, notification.Message,
		metadataJSON, notification.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func collectRestrictions(rows *sql.Rows) ([]*model.ServiceRestriction, error) {
	var restrictions []*model.ServiceRestriction
	for rows.Next() {
		restriction, err := scanRestriction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan restriction: %w", err)
		}
		restrictions = append(restrictions, restriction)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate restrictions: %w", err)
	}
	return restrictions, nil
}

// compile-time interface check
var _ RestrictionRepository = (*PostgresRestrictionRepo)(nil)
