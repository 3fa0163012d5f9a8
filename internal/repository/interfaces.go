// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/ccd/internal/model"
	"github.com/hitoshi/ccd/internal/rbac"
)

// ClientFilter はクライアント一覧の検索条件。
type ClientFilter struct {
	// Search は氏名・別名・外部IDに対する部分一致検索。
	Search string
	// SourceSystem を指定すると該当ソースのみに絞り込む。
	SourceSystem string
	// ActiveOnly がtrueの場合はactiveなクライアントのみ返す。
	ActiveOnly bool
	Limit      int
	Offset     int
}

// ClientRepository はクライアントデータの永続化インターフェース。
type ClientRepository interface {
	// FindByID は指定IDのクライアントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Client, error)

	// FindByExternalID は外部IDとソースシステムでクライアントを検索する。
	// 外部IDは小文字化・前後空白除去した上で比較する。複数件一致しうるため全件返す。
	FindByExternalID(ctx context.Context, uidExternal, sourceSystem string) ([]*model.Client, error)

	// ListMatchCandidates は重複判定の候補プールを返す。
	// ソースシステムを問わず、activeな全クライアントが対象。
	ListMatchCandidates(ctx context.Context) ([]*model.Client, error)

	// ListCreatedBetween は作成日時が[from, to)のクライアントを作成日時昇順で返す。
	// 定期レポートの集計に使用する。
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*model.Client, error)

	// List は権限スコープと検索条件を適用したクライアント一覧を返す。
	List(ctx context.Context, scope rbac.Scope, filter ClientFilter) ([]*model.Client, error)

	// Count はListと同じ条件での総件数を返す。
	Count(ctx context.Context, scope rbac.Scope, filter ClientFilter) (int, error)

	// Create はクライアントを作成する。
	Create(ctx context.Context, client *model.Client) error

	// Update はクライアント情報を更新する。
	Update(ctx context.Context, client *model.Client) error

	// DeleteByID は指定IDのクライアントを削除する。
	// 関連するenrollments、service_restrictions等はCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// UserRepository はログインユーザーの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// DepartmentRepository は部門データの永続化インターフェース。
type DepartmentRepository interface {
	// FindByID は指定IDの部門を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Department, error)
	// List は全部門を名前順で返す。
	List(ctx context.Context) ([]*model.Department, error)
	// Create は部門を作成する。
	Create(ctx context.Context, dept *model.Department) error
	// Update は部門を更新する。
	Update(ctx context.Context, dept *model.Department) error
	// DeleteByID は指定IDの部門を削除する。
	DeleteByID(ctx context.Context, id string) error
}

// ProgramRepository はプログラムデータの永続化インターフェース。
type ProgramRepository interface {
	// FindByID は指定IDのプログラムを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Program, error)
	// FindByName はプログラム名で検索する。CSV取り込みの自動在籍登録に使用する。
	// 大文字小文字を無視して比較し、見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.Program, error)
	// List は全プログラムを返す。departmentIDを指定すると部門で絞り込む。
	List(ctx context.Context, departmentID string) ([]*model.Program, error)
	// Create はプログラムを作成する。
	Create(ctx context.Context, program *model.Program) error
	// Update はプログラムを更新する。
	Update(ctx context.Context, program *model.Program) error
	// DeleteByID は指定IDのプログラムを削除する。
	DeleteByID(ctx context.Context, id string) error

	// AssignStaff はプログラムに職員を割り当てる。既に割当済みの場合は何もしない。
	AssignStaff(ctx context.Context, programID, staffID string, isManager bool) error
	// RemoveStaff はプログラムから職員の割当を解除する。
	RemoveStaff(ctx context.Context, programID, staffID string) error
	// ListStaff はプログラムに割り当てられた職員IDの一覧を返す。
	ListStaff(ctx context.Context, programID string) ([]*model.ProgramStaff, error)
}

// StaffRepository は職員データの永続化インターフェース。
type StaffRepository interface {
	// FindByID は指定IDの職員を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Staff, error)
	// FindByUserID はログインユーザーIDに紐づく職員を取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Staff, error)

	// FindWithRoles は職員をロール名と所属部門ID付きで取得する。
	// 部門IDはprogram_staff経由で割り当てられたプログラムの部門から導出する。
	// 見つからない場合はnilを返す。
	FindWithRoles(ctx context.Context, staffID string) (*model.StaffWithRoles, error)

	// List は全職員を返す。
	List(ctx context.Context) ([]*model.Staff, error)
	// Create は職員を作成する。
	Create(ctx context.Context, staff *model.Staff) error
	// Update は職員を更新する。
	Update(ctx context.Context, staff *model.Staff) error
	// DeleteByID は指定IDの職員を削除する。
	DeleteByID(ctx context.Context, id string) error

	// ListRoles は全ロールを返す。
	ListRoles(ctx context.Context) ([]*model.Role, error)
	// FindRoleByName はロール名でロールを検索する。見つからない場合はnilを返す。
	FindRoleByName(ctx context.Context, name string) (*model.Role, error)
	// AssignRole は職員にロールを割り当てる。既に割当済みの場合は何もしない。
	AssignRole(ctx context.Context, staffID, roleID string) error
	// RemoveRole は職員からロールを外す。
	RemoveRole(ctx context.Context, staffID, roleID string) error
}

// EnrollmentRepository は在籍・受入・退所データの永続化インターフェース。
type EnrollmentRepository interface {
	// FindByID は指定IDの在籍を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Enrollment, error)
	// ListByClient はクライアントの在籍履歴を開始日降順で返す。
	ListByClient(ctx context.Context, clientID string) ([]*model.Enrollment, error)
	// ListByProgram はプログラムの在籍一覧を返す。openOnlyがtrueの場合は終了日未設定のみ。
	ListByProgram(ctx context.Context, programID string, openOnly bool) ([]*model.Enrollment, error)
	// FindOpen はクライアントとプログラムのオープンな在籍を検索する。見つからない場合はnilを返す。
	FindOpen(ctx context.Context, clientID, programID string) (*model.Enrollment, error)
	// Create は在籍を作成する。
	Create(ctx context.Context, enrollment *model.Enrollment) error
	// Update は在籍を更新する。
	Update(ctx context.Context, enrollment *model.Enrollment) error
	// DeleteByID は指定IDの在籍を削除する。
	DeleteByID(ctx context.Context, id string) error

	// CreateIntake は受入記録を作成する。
	CreateIntake(ctx context.Context, intake *model.Intake) error
	// CreateDischarge は退所記録を作成する。
	CreateDischarge(ctx context.Context, discharge *model.Discharge) error
}

// RestrictionRepository はサービス制限データの永続化インターフェース。
type RestrictionRepository interface {
	// FindByID は指定IDの制限を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ServiceRestriction, error)
	// ListByClient はクライアントの制限一覧を返す。
	ListByClient(ctx context.Context, clientID string) ([]*model.ServiceRestriction, error)
	// ListActive は指定時点で有効な制限一覧を返す。
	ListActive(ctx context.Context, at time.Time) ([]*model.ServiceRestriction, error)
	// ListExpiringBetween は終了日が[from, to]の範囲にある制限を返す。
	ListExpiringBetween(ctx context.Context, from, to time.Time) ([]*model.ServiceRestriction, error)
	// ListCreatedSince は指定時刻以降に作成された制限を返す。
	ListCreatedSince(ctx context.Context, since time.Time) ([]*model.ServiceRestriction, error)
	// Create は制限を作成する。
	Create(ctx context.Context, restriction *model.ServiceRestriction) error
	// Update は制限を更新する。
	Update(ctx context.Context, restriction *model.ServiceRestriction) error
	// DeleteByID は指定IDの制限を削除する。
	DeleteByID(ctx context.Context, id string) error

	// ListSubscribers は制限通知を購読している職員を返す。
	// notifyNew/notifyExpiringのどちらのフラグで絞るかをkindで指定する。
	ListSubscribers(ctx context.Context, kind SubscriberKind) ([]*model.RestrictionSubscription, error)
	// CreateNotification は職員向け通知を作成する。
	CreateNotification(ctx context.Context, notification *model.Notification) error
}

// SubscriberKind は制限通知購読の絞り込み種別。
type SubscriberKind string

const (
	// SubscriberNew は新規制限の通知購読者。
	SubscriberNew SubscriberKind = "new"
	// SubscriberExpiring は期限切れ間近の通知購読者。
	SubscriberExpiring SubscriberKind = "expiring"
)

// AuditFilter は監査ログ一覧の検索条件。
type AuditFilter struct {
	Entity   string
	EntityID string
	Action   model.AuditAction
	Limit    int
	Offset   int
}

// AuditLogRepository は監査ログの永続化インターフェース。
type AuditLogRepository interface {
	// Create は監査ログを記録する。
	Create(ctx context.Context, log *model.AuditLog) error
	// List は検索条件に一致する監査ログを変更日時降順で返す。
	List(ctx context.Context, filter AuditFilter) ([]*model.AuditLog, error)
	// DeleteOlderThan は指定時刻より古い監査ログを削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PendingChangeRepository は承認待ち変更の永続化インターフェース。
type PendingChangeRepository interface {
	// FindByID は指定IDの承認待ち変更を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.PendingChange, error)
	// ListByStatus は指定ステータスの変更一覧を作成日時昇順で返す。
	ListByStatus(ctx context.Context, status model.PendingChangeStatus) ([]*model.PendingChange, error)
	// Create は承認待ち変更を作成する。
	Create(ctx context.Context, change *model.PendingChange) error
	// UpdateStatus は変更のステータス・レビュー者・理由を更新する。
	UpdateStatus(ctx context.Context, change *model.PendingChange) error
}

// DuplicateFlagRepository は重複フラグの永続化インターフェース。
type DuplicateFlagRepository interface {
	// FindByID は指定IDの重複フラグを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.DuplicateFlag, error)
	// ListByStatus は指定ステータスの重複フラグを作成日時昇順で返す。
	ListByStatus(ctx context.Context, status model.DuplicateFlagStatus) ([]*model.DuplicateFlag, error)
	// Create は重複フラグを作成する。
	Create(ctx context.Context, flag *model.DuplicateFlag) error
	// UpdateStatus は重複フラグのステータスを更新する。
	UpdateStatus(ctx context.Context, id string, status model.DuplicateFlagStatus) error
}

// UploadLogRepository は取り込み実行ログの永続化インターフェース。
type UploadLogRepository interface {
	// Create は取り込みログを記録する。
	Create(ctx context.Context, log *model.UploadLog) error
	// List は取り込みログを作成日時降順で返す。
	List(ctx context.Context, limit int) ([]*model.UploadLog, error)
}

// EmailRecipientRepository はレポート配信先の永続化インターフェース。
type EmailRecipientRepository interface {
	// FindByID は指定IDの配信先を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.EmailRecipient, error)
	// List は全配信先を返す。
	List(ctx context.Context) ([]*model.EmailRecipient, error)
	// ListActiveByFrequency は指定頻度のactiveな配信先を返す。
	ListActiveByFrequency(ctx context.Context, frequency model.ReportFrequency) ([]*model.EmailRecipient, error)
	// Create は配信先を作成する。
	Create(ctx context.Context, recipient *model.EmailRecipient) error
	// Update は配信先を更新する。
	Update(ctx context.Context, recipient *model.EmailRecipient) error
	// DeleteByID は指定IDの配信先を削除する。
	DeleteByID(ctx context.Context, id string) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
