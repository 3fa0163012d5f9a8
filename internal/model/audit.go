// Package model はドメインモデルを定義する。
package model

import "time"

// AuditAction は監査ログの操作種別を表す。
type AuditAction string

const (
	// AuditActionCreate はエンティティの新規作成。
	AuditActionCreate AuditAction = "create"
	// AuditActionUpdate はエンティティの更新。
	AuditActionUpdate AuditAction = "update"
	// AuditActionDelete はエンティティの削除。
	AuditActionDelete AuditAction = "delete"
	// AuditActionImport はCSV取り込みによる作成・更新。
	AuditActionImport AuditAction = "import"
	// AuditActionLogin はログインイベント。
	AuditActionLogin AuditAction = "login"
)

// AuditLog はエンティティ変更の監査記録を表す。
// Diffは変更前後のフィールド値を{"field": {"old": x, "new": y}}形式で保持する。
type AuditLog struct {
	ID        string
	Entity    string
	EntityID  string
	Action    AuditAction
	ChangedBy string // 変更を行った職員ID。システム処理の場合は空
	Diff      map[string]any
	ChangedAt time.Time
}

// PendingChangeStatus は承認ワークフローの状態を表す。
type PendingChangeStatus string

const (
	// PendingChangePending はレビュー待ちの変更。
	PendingChangePending PendingChangeStatus = "pending"
	// PendingChangeApproved は承認され適用済みの変更。
	PendingChangeApproved PendingChangeStatus = "approved"
	// PendingChangeDeclined は却下された変更。
	PendingChangeDeclined PendingChangeStatus = "declined"
)

// PendingChange は承認待ちのエンティティ変更を表す。
// Diffは適用予定のフィールド変更を保持し、承認時にエンティティへ適用される。
type PendingChange struct {
	ID          string
	Entity      string
	EntityID    string
	Diff        map[string]any
	RequestedBy string
	Status      PendingChangeStatus
	ReviewedBy  string
	ReviewedAt  *time.Time
	Rationale   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UploadStatus は取り込み実行の状態を表す。
type UploadStatus string

const (
	// UploadStatusCompleted は正常完了した取り込み。
	UploadStatusCompleted UploadStatus = "completed"
	// UploadStatusCompletedWithErrors は行エラーを伴って完了した取り込み。
	UploadStatusCompletedWithErrors UploadStatus = "completed_with_errors"
	// UploadStatusFailed はファイルレベルで失敗した取り込み。
	UploadStatusFailed UploadStatus = "failed"
)

// UploadLog は1回の取り込み実行（ingestion run）のサマリーを表す。
type UploadLog struct {
	ID           string
	SourceSystem string
	Filename     string
	UploadedBy   string
	TotalRows    int
	CreatedCount int
	UpdatedCount int
	FlaggedCount int
	RejectedRows int
	Status       UploadStatus
	RowErrors    []RowError
	CreatedAt    time.Time
}

// RowError は取り込み行単位のエラーを表す。
type RowError struct {
	RowNumber int    `json:"row_number"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// ReportFrequency はメールレポートの配信頻度を表す。
type ReportFrequency string

const (
	// FrequencyDaily は日次配信。
	FrequencyDaily ReportFrequency = "daily"
	// FrequencyWeekly は週次配信。
	FrequencyWeekly ReportFrequency = "weekly"
	// FrequencyMonthly は月次配信。
	FrequencyMonthly ReportFrequency = "monthly"
)

// Days は頻度に対応する集計日数を返す。
func (f ReportFrequency) Days() int {
	switch f {
	case FrequencyWeekly:
		return 7
	case FrequencyMonthly:
		return 30
	default:
		return 1
	}
}

// EmailRecipient はクライアントレポートの配信先を表す。
type EmailRecipient struct {
	ID        string
	Email     string
	Name      string
	Frequency ReportFrequency
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
