package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/ccd/internal/model"
)

// PostgresDuplicateFlagRepo はPostgreSQLを使用した重複フラグリポジトリ。
type PostgresDuplicateFlagRepo struct {
	db *sql.DB
}

// NewPostgresDuplicateFlagRepo はPostgresDuplicateFlagRepoを生成する。
func NewPostgresDuplicateFlagRepo(db *sql.DB) *PostgresDuplicateFlagRepo {
	return &PostgresDuplicateFlagRepo{db: db}
}

const duplicateFlagColumns = `id, matched_client_id, score, match_type, source_system, incoming_payload, status, created_at, updated_at`

func scanDuplicateFlag(row interface{ Scan(...any) error }) (*model.DuplicateFlag, error) {
	flag := &model.DuplicateFlag{}
	var payloadJSON []byte
	err := row.Scan(&flag.ID, &flag.MatchedClientID, &flag.Score, &flag.MatchType,
		&flag.SourceSystem, &payloadJSON, &flag.Status, &flag.CreatedAt, &flag.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payloadJSON, &flag.IncomingPayload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal incoming payload: %w", err)
	}
	return flag, nil
}

// FindByID は指定IDの重複フラグを取得する。見つからない場合はnilを返す。
func (r *PostgresDuplicateFlagRepo) FindByID(ctx context.Context, id string) (*model.DuplicateFlag, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+duplicateFlagColumns+` FROM duplicate_flags WHERE id = $1`, id)

	flag, err := scanDuplicateFlag(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicate flag by ID: %w", err)
	}
	return flag, nil
}

// ListByStatus は指定ステータスの重複フラグを作成日時昇順で返す。
func (r *PostgresDuplicateFlagRepo) ListByStatus(ctx context.Context, status model.DuplicateFlagStatus) ([]*model.DuplicateFlag, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+duplicateFlagColumns+` FROM duplicate_flags
		 WHERE status = $1 ORDER BY created_at`,
		status,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate flags: %w", err)
	}
	defer rows.Close()

	var flags []*model.DuplicateFlag
	for rows.Next() {
		flag, err := scanDuplicateFlag(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan duplicate flag: %w", err)
		}
		flags = append(flags, flag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate duplicate flags: %w", err)
	}
	return flags, nil
}

// Create は重複フラグを作成する。
func (r *PostgresDuplicateFlagRepo) Create(ctx context.Context, flag *model.DuplicateFlag) error {
	payload := flag.IncomingPayload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal incoming payload: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO duplicate_flags (id, matched_client_id, score, match_type, source_system, incoming_payload, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		flag.ID, flag.MatchedClientID, flag.Score, flag.MatchType, flag.SourceSystem,
		payloadJSON, flag.Status, flag.CreatedAt, flag.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert duplicate flag: %w", err)
	}
	return nil
}

// UpdateStatus は重複フラグのステータスを更新する。
func (r *PostgresDuplicateFlagRepo) UpdateStatus(ctx context.Context, id string, status model.DuplicateFlagStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE duplicate_flags SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("failed to update duplicate flag status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("duplicate flag not found: %s", id)
	}
	return nil
}

// compile-time interface check
var _ DuplicateFlagRepository = (*PostgresDuplicateFlagRepo)(nil)
