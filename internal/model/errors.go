// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, business_logic, file, permission, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード。
// UPLOAD_0xx系は取り込み処理のエラーコード体系。
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeEmailTaken         = "EMAIL_TAKEN"
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"

	ErrCodeFileFormat      = "UPLOAD_001" // サポート外のファイル形式
	ErrCodeFileEmpty       = "UPLOAD_002" // 空ファイル
	ErrCodeMissingColumns  = "UPLOAD_020" // 必須カラム欠落
	ErrCodeInvalidRow      = "UPLOAD_021" // 行データ不正
	ErrCodeInvalidDate     = "UPLOAD_022" // 日付形式不正
	ErrCodeDuplicateClient = "UPLOAD_082" // 重複クライアント検出
	ErrCodeSourceConflict  = "UPLOAD_083" // 外部IDが別ソースに紐付き済み
	ErrCodeUploadFailed    = "UPLOAD_100" // 予期しない取り込みエラー
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(permission string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作には権限が必要です: %s", permission),
		Category: "permission",
		Action:   "権限が必要な場合は管理者に連絡してください。",
	}
}

// NewInvalidCredentialsError は認証情報不正エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", detail),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewNotFoundError はエンティティ未検出エラーを生成する。
func NewNotFoundError(entity, id string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%sが見つかりません: %s", entity, id),
		Category: "business_logic",
		Action:   "IDを確認してください。",
	}
}

// NewFileFormatError はサポート外ファイル形式エラーを生成する。
func NewFileFormatError() *APIError {
	return &APIError{
		Code:     ErrCodeFileFormat,
		Message:  "サポートされていないファイル形式です。CSVファイルのみ受け付けます。",
		Category: "file",
		Action:   "CSVファイルをアップロードしてください。",
	}
}

// NewFileEmptyError は空ファイルエラーを生成する。
func NewFileEmptyError() *APIError {
	return &APIError{
		Code:     ErrCodeFileEmpty,
		Message:  "ファイルが空か、データ行がありません。",
		Category: "file",
		Action:   "データ行を含むファイルをアップロードしてください。",
	}
}

// NewMissingColumnsError は必須カラム欠落エラーを生成する。
func NewMissingColumnsError(columns []string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingColumns,
		Message:  fmt.Sprintf("必須カラムがありません: %v", columns),
		Category: "file",
		Action:   "ファイルに必須カラム（first_name, last_name）が含まれることを確認してください。",
	}
}

// NewInvalidDateError は日付形式エラーを生成する。
func NewInvalidDateError(value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDate,
		Message:  fmt.Sprintf("日付形式が不正です: %s", value),
		Category: "validation",
		Action:   "日付はYYYY-MM-DD形式で指定してください。",
	}
}

// NewSourceConflictError は外部IDのソース競合エラーを生成する。
func NewSourceConflictError(uid string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceConflict,
		Message:  fmt.Sprintf("外部ID %s は別のソースシステムに紐付いています。", uid),
		Category: "business_logic",
		Action:   "ソースシステムの指定を確認してください。",
	}
}
