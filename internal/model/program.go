// Package model はドメインモデルを定義する。
package model

import "time"

// Department は部門を表す。
type Department struct {
	ID        string
	Name      string
	Owner     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Program は支援プログラムを表す。
type Program struct {
	ID                    string
	Name                  string
	DepartmentID          string
	Location              string
	CapacityCurrent       int
	CapacityEffectiveDate *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ProgramStaff はプログラムへの職員割り当てを表す。
type ProgramStaff struct {
	ID        string
	ProgramID string
	StaffID   string
	IsManager bool
	CreatedAt time.Time
}

// Enrollment はクライアントのプログラム在籍を表す。
// EndDateがnilの場合は在籍中。EndDate >= StartDateの制約はDBのCHECK制約でも保証される。
type Enrollment struct {
	ID        string
	ClientID  string
	ProgramID string
	StartDate time.Time
	EndDate   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Intake はプログラムへの受け入れ記録を表す。
type Intake struct {
	ID           string
	ClientID     string
	ProgramID    string
	IntakeDate   time.Time
	SourceSystem string
	CreatedAt    time.Time
}

// Discharge はプログラムからの退所記録を表す。
type Discharge struct {
	ID            string
	ClientID      string
	ProgramID     string
	DischargeDate time.Time
	Reason        string
	CreatedAt     time.Time
}
