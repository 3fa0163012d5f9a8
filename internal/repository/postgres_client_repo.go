package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/ccd/internal/model"
	"github.com/hitoshi/ccd/internal/rbac"
)

// PostgresClientRepo はPostgreSQLを使用したクライアントリポジトリ。
type PostgresClientRepo struct {
	db *sql.DB
}

// NewPostgresClientRepo はPostgresClientRepoを生成する。
func NewPostgresClientRepo(db *sql.DB) *PostgresClientRepo {
	return &PostgresClientRepo{db: db}
}

const clientColumns = `id, first_name, last_name, preferred_name, alias, dob, gender,
	languages, phone, email, address, comments, uid_external, source_system, active,
	created_at, updated_at`

func scanClient(row interface{ Scan(...any) error }) (*model.Client, error) {
	c := &model.Client{}
	err := row.Scan(
		&c.ID, &c.FirstName, &c.LastName, &c.PreferredName, &c.Alias, &c.DOB, &c.Gender,
		pq.Array(&c.Languages), &c.Phone, &c.Email, &c.Address, &c.Comments,
		&c.UIDExternal, &c.SourceSystem, &c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FindByID は指定IDのクライアントを取得する。見つからない場合はnilを返す。
func (r *PostgresClientRepo) FindByID(ctx context.Context, id string) (*model.Client, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1`, id)

	client, err := scanClient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find client by ID: %w", err)
	}
	return client, nil
}

// FindByExternalID は外部IDとソースシステムでクライアントを検索する。
// 外部IDは小文字化・前後空白除去した上で比較する。複数件一致しうるため全件返す。
func (r *PostgresClientRepo) FindByExternalID(ctx context.Context, uidExternal, sourceSystem string) ([]*model.Client, error) {
	normalized := strings.ToLower(strings.TrimSpace(uidExternal))
	if normalized == "" {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients
		 WHERE lower(uid_external) = $1 AND source_system = $2`,
		normalized, sourceSystem)
	if err != nil {
		return nil, fmt.Errorf("failed to find clients by external ID: %w", err)
	}
	defer rows.Close()

	return collectClients(rows)
}

// ListMatchCandidates は重複判定の候補プールを返す。
// ソースシステムを問わず、activeな全クライアントが対象。
func (r *PostgresClientRepo) ListMatchCandidates(ctx context.Context) ([]*model.Client, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE active = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("failed to list match candidates: %w", err)
	}
	defer rows.Close()

	return collectClients(rows)
}

// ListCreatedBetween は作成日時が[from, to)のクライアントを作成日時昇順で返す。
func (r *PostgresClientRepo) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*model.Client, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients
		 WHERE created_at >= $1 AND created_at < $2
		 ORDER BY created_at`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients created between: %w", err)
	}
	defer rows.Close()

	return collectClients(rows)
}

// List は権限スコープと検索条件を適用したクライアント一覧を返す。
func (r *PostgresClientRepo) List(ctx context.Context, scope rbac.Scope, filter ClientFilter) ([]*model.Client, error) {
	where, args := buildClientWhere(scope, filter)
	if where == "" {
		// scope=none は常に空
		return nil, nil
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(
		`SELECT `+clientColumns+` FROM clients c %s
		 ORDER BY c.last_name, c.first_name, c.id
		 LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	return collectClients(rows)
}

// Count はListと同じ条件での総件数を返す。
func (r *PostgresClientRepo) Count(ctx context.Context, scope rbac.Scope, filter ClientFilter) (int, error) {
	where, args := buildClientWhere(scope, filter)
	if where == "" {
		return 0, nil
	}

	var count int
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT count(*) FROM clients c %s`, where), args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count clients: %w", err)
	}
	return count, nil
}

// buildClientWhere はスコープと検索条件からWHERE句とプレースホルダ引数を構築する。
// scope=noneの場合は空文字列を返し、呼び出し側で空結果として扱う。
func buildClientWhere(scope rbac.Scope, filter ClientFilter) (string, []any) {
	var conds []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch scope.Kind {
	case rbac.ScopeAll:
		// 絞り込みなし
	case rbac.ScopeDepartment:
		if len(scope.DepartmentIDs) == 0 {
			return "", nil
		}
		conds = append(conds, fmt.Sprintf(
			`c.id IN (SELECT e.client_id FROM enrollments e
				JOIN programs p ON p.id = e.program_id
				WHERE p.department_id = ANY(%s))`, arg(pq.Array(scope.DepartmentIDs))))
	case rbac.ScopeSelf:
		conds = append(conds, fmt.Sprintf(
			`c.id IN (SELECT e.client_id FROM enrollments e
				JOIN program_staff ps ON ps.program_id = e.program_id
				WHERE ps.staff_id = %s)`, arg(scope.StaffID)))
	default:
		return "", nil
	}

	if filter.Search != "" {
		pattern := "%" + strings.ToLower(filter.Search) + "%"
		p := arg(pattern)
		conds = append(conds, fmt.Sprintf(
			`(lower(c.first_name) LIKE %[1]s OR lower(c.last_name) LIKE %[1]s
			  OR lower(c.preferred_name) LIKE %[1]s OR lower(c.alias) LIKE %[1]s
			  OR lower(c.uid_external) LIKE %[1]s)`, p))
	}
	if filter.SourceSystem != "" {
		conds = append(conds, fmt.Sprintf("c.source_system = %s", arg(filter.SourceSystem)))
	}
	if filter.ActiveOnly {
		conds = append(conds, "c.active = TRUE")
	}

	if len(conds) == 0 {
		return "WHERE TRUE", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// Create はクライアントを作成する。
func (r *PostgresClientRepo) Create(ctx context.Context, client *model.Client) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO clients (id, first_name, last_name, preferred_name, alias, dob, gender,
			languages, phone, email, address, comments, uid_external, source_system, active,
			created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		client.ID, client.FirstName, client.LastName, client.PreferredName, client.Alias,
		client.DOB, client.Gender, pq.Array(client.Languages), client.Phone, client.Email,
		client.Address, client.Comments, client.UIDExternal, client.SourceSystem,
		client.Active, client.CreatedAt, client.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert client: %w", err)
	}
	return nil
}

// Update はクライアント情報を更新する。
func (r *PostgresClientRepo) Update(ctx context.Context, client *model.Client) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE clients SET
			first_name = $2, last_name = $3, preferred_name = $4, alias = $5, dob = $6,
			gender = $7, languages = $8, phone = $9, email = $10, address = $11,
			comments = $12, uid_external = $13, source_system = $14, active = $15,
			updated_at = $16
		 WHERE id = $1`,
		client.ID, client.FirstName, client.LastName, client.PreferredName, client.Alias,
		client.DOB, client.Gender, pq.Array(client.Languages), client.Phone, client.Email,
		client.Address, client.Comments, client.UIDExternal, client.SourceSystem,
		client.Active, client.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("client not found: %s", client.ID)
	}
	return nil
}

// DeleteByID は指定IDのクライアントを削除する。
// 関連するenrollments、service_restrictions等はCASCADE削除される。
func (r *PostgresClientRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("client not found: %s", id)
	}
	return nil
}

func collectClients(rows *sql.Rows) ([]*model.Client, error) {
	var clients []*model.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate clients: %w", err)
	}
	return clients, nil
}

// compile-time interface check
var _ ClientRepository = (*PostgresClientRepo)(nil)
