// Package model はドメインモデルを定義する。
package model

import "time"

// RestrictionScope はサービス制限の適用範囲を表す。
type RestrictionScope string

const (
	// RestrictionScopeOrg は組織全体への制限。ProgramIDはnilでなければならない。
	RestrictionScopeOrg RestrictionScope = "org"
	// RestrictionScopeProgram は特定プログラムへの制限。ProgramIDが必須。
	RestrictionScopeProgram RestrictionScope = "program"
)

// ServiceRestriction はクライアントへのサービス制限を表す。
// scope=orgの場合ProgramIDは空、scope=programの場合ProgramIDは必須。
// この組み合わせはDBのCHECK制約でも保証される。
type ServiceRestriction struct {
	ID        string
	ClientID  string
	Scope     RestrictionScope
	ProgramID string // scope=programの場合のみ設定
	StartDate time.Time
	EndDate   *time.Time
	Reason    string // サニタイズ済み
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active は指定日時点で制限が有効かを返す。
func (r *ServiceRestriction) Active(at time.Time) bool {
	if at.Before(r.StartDate) {
		return false
	}
	if r.EndDate != nil && at.After(*r.EndDate) {
		return false
	}
	return true
}

// RestrictionSubscription は制限イベント通知の購読設定を表す。
type RestrictionSubscription struct {
	ID             string
	StaffID        string
	NotifyNew      bool
	NotifyExpiring bool
	CreatedAt      time.Time
}

// Notification は職員向けのアプリ内通知を表す。
type Notification struct {
	ID        string
	StaffID   string
	Title     string
	Message   string
	Metadata  map[string]any
	ReadAt    *time.Time
	CreatedAt time.Time
}
