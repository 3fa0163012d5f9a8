// Package model はドメインモデルを定義する。
package model

import "time"

// User はログイン可能なサービス利用者を表す。
type User struct {
	ID           string
	Email        string
	Username     string
	FirstName    string
	LastName     string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired は指定時刻においてセッションが期限切れかどうかを返す。
func (s *Session) Expired(at time.Time) bool {
	return !s.ExpiresAt.After(at)
}

// Staff は職員プロフィールを表す。Userと1対1で紐付く。
type Staff struct {
	ID        string
	UserID    string
	FirstName string
	LastName  string
	Email     string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Role はロール定義を表す。権限セットはrbacパッケージの設定で解決される。
type Role struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StaffRole は職員とロールの紐付けを表す。
type StaffRole struct {
	ID        string
	StaffID   string
	RoleID    string
	CreatedAt time.Time
}

// StaffWithRoles は職員とロール名一覧を結合したモデル。
// staff_roles、rolesテーブルとJOINして取得される。
type StaffWithRoles struct {
	Staff
	RoleNames     []string
	DepartmentIDs []string
}
