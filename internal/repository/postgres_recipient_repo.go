package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/ccd/internal/model"
)

// PostgresEmailRecipientRepo はPostgreSQLを使用したレポート配信先リポジトリ。
type PostgresEmailRecipientRepo struct {
	db *sql.DB
}

// NewPostgresEmailRecipientRepo はPostgresEmailRecipientRepoを生成する。
func NewPostgresEmailRecipientRepo(db *sql.DB) *PostgresEmailRecipientRepo {
	return &PostgresEmailRecipientRepo{db: db}
}

const recipientColumns = `id, email, name, frequency, active, created_at, updated_at`

func scanRecipient(row interface{ Scan(...any) error }) (*model.EmailRecipient, error) {
	rec := &model.EmailRecipient{}
	err := row.Scan(&rec.ID, &rec.Email, &rec.Name, &rec.Frequency, &rec.Active,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// FindByID は指定IDの配信先を取得する。見つからない場合はnilを返す。
func (r *PostgresEmailRecipientRepo) FindByID(ctx context.Context, id string) (*model.EmailRecipient, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM email_recipients WHERE id = $1`, id)

	recipient, err := scanRecipient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find email recipient by ID: %w", err)
	}
	return recipient, nil
}

// List は全配信先を返す。
func (r *PostgresEmailRecipientRepo) List(ctx context.Context) ([]*model.EmailRecipient, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recipientColumns+` FROM email_recipients ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("failed to list email recipients: %w", err)
	}
	defer rows.Close()

	return collectRecipients(rows)
}

// ListActiveByFrequency は指定頻度のactiveな配信先を返す。
func (r *PostgresEmailRecipientRepo) ListActiveByFrequency(ctx context.Context, frequency model.ReportFrequency) ([]*model.EmailRecipient, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recipientColumns+` FROM email_recipients
		 WHERE frequency = $1 AND active = TRUE ORDER BY email`,
		frequency,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list email recipients by frequency: %w", err)
	}
	defer rows.Close()

	return collectRecipients(rows)
}

// Create は配信先を作成する。
func (r *PostgresEmailRecipientRepo) Create(ctx context.Context, recipient *model.EmailRecipient) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO email_recipients (id, email, name, frequency, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		recipient.ID, recipient.Email, recipient.Name, recipient.Frequency,
		recipient.Active, recipient.CreatedAt, recipient.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert email recipient: %w", err)
	}
	return nil
}

// Update は配信先を更新する。
func (r *PostgresEmailRecipientRepo) Update(ctx context.Context, recipient *model.EmailRecipient) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE email_recipients SET email = $2, name = $3, frequency = $4, active = $5, updated_at = $6
		 WHERE id = $1`,
		recipient.ID, recipient.Email, recipient.Name, recipient.Frequency,
		recipient.Active, recipient.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update email recipient: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("email recipient not found: %s", recipient.ID)
	}
	return nil
}

// DeleteByID は指定IDの配信先を削除する。
func (r *PostgresEmailRecipientRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM email_recipients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete email recipient: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("email recipient not found: %s", id)
	}
	return nil
}

func collectRecipients(rows *sql.Rows) ([]*model.EmailRecipient, error) {
	var recipients []*model.EmailRecipient
	for rows.Next() {
		recipient, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email recipient: %w", err)
		}
		recipients = append(recipients, recipient)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate email recipients: %w", err)
	}
	return recipients, nil
}

// compile-time interface check
var _ EmailRecipientRepository = (*PostgresEmailRecipientRepo)(nil)
