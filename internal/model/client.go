// Package model はドメインモデルを定義する。
package model

import "time"

// Client は支援対象のクライアントを表す。
// UIDExternalは上流ソースシステム（SMIS、EMHware等）の識別子で、
// アップロード間のレコード照合に使用される。
type Client struct {
	ID            string
	FirstName     string
	LastName      string
	PreferredName string
	Alias         string
	DOB           *time.Time
	Gender        string
	Languages     []string
	Phone         string
	Email         string
	Address       string
	Comments      string // サニタイズ済み
	UIDExternal   string
	SourceSystem  string
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FullName は表示用の氏名（"first last"）を返す。
func (c *Client) FullName() string {
	if c.FirstName == "" {
		return c.LastName
	}
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// DuplicateFlagStatus は重複フラグの処理状態を表す。
type DuplicateFlagStatus string

const (
	// DuplicateFlagOpen は未処理の重複フラグ。
	DuplicateFlagOpen DuplicateFlagStatus = "open"
	// DuplicateFlagDismissed は誤検出として却下されたフラグ。
	DuplicateFlagDismissed DuplicateFlagStatus = "dismissed"
	// DuplicateFlagMerged は既存クライアントへマージ済みのフラグ。
	DuplicateFlagMerged DuplicateFlagStatus = "merged"
)

// DuplicateFlag は取り込み時に検出された重複候補を表す。
// 自動マージは行わず、手動レビューのキューとして永続化される。
type DuplicateFlag struct {
	ID              string
	MatchedClientID string  // 類似と判定された既存クライアント
	Score           float64 // 類似度スコア [0,1]
	MatchType       string  // "similarity" または "nickname"
	SourceSystem    string
	IncomingPayload map[string]any // 取り込み行の生データ（マージ時に使用）
	Status          DuplicateFlagStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
