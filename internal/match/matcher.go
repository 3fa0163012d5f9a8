package match

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/ccd/internal/model"
)

// DefaultThreshold は重複と判定する類似度の既定の閾値。
const DefaultThreshold = 0.7

// tieEpsilon は最大スコアの同値判定に使う許容誤差。
// 最良候補がこの差を超えて他を上回らない場合は「明確な単一最良なし」とみなす。
const tieEpsilon = 1e-9

// IncomingRecord は取り込み中の1行を表す一時データ。
// 1回のingestion runの間だけ存在し、永続化されない。
type IncomingRecord struct {
	UIDExternal  string
	FirstName    string
	LastName     string
	DOB          *time.Time
	Phone        string
	Email        string
	SourceSystem string
	ProgramName  string
	Raw          map[string]string // 元のCSV行。重複フラグに保存される
}

// Name は取り込み行の姓名を返す。
func (r IncomingRecord) Name() NamePair {
	return NamePair{First: r.FirstName, Last: r.LastName}
}

// ResultKind はMatchResultの種別を表す。
type ResultKind string

const (
	// KindUpdated は既存クライアントの更新。外部ID一致による。
	KindUpdated ResultKind = "updated"
	// KindCreated は新規クライアントの作成。
	KindCreated ResultKind = "created"
	// KindFlaggedDuplicate は重複候補としてのフラグ。自動マージは行わない。
	KindFlaggedDuplicate ResultKind = "flagged_duplicate"
	// KindRejected は手動レビュー行きの行。
	KindRejected ResultKind = "rejected"
)

// Rejectedの理由。
const (
	// ReasonAmbiguous は閾値以上の候補が複数同率で存在し、単一の最良を選べない場合。
	ReasonAmbiguous = "ambiguous"
	// ReasonMissingRequiredFields は必須の名前フィールドが欠落している場合。
	ReasonMissingRequiredFields = "missing_required_fields"
)

// MatchResult は取り込み行1件に対する照合結果を表す。
// 1行につき必ず1件生成される。FlaggedDuplicateがCreated/Updatedと
// 同時に発生することはない。
type MatchResult struct {
	Kind       ResultKind
	ExistingID string  // Updated / FlaggedDuplicate の場合の既存クライアントID
	NewID      string  // Created の場合に採番される新規ID
	Score      float64 // FlaggedDuplicate の場合の類似度
	MatchType  string  // "similarity" または "nickname"
	Reason     string  // Rejected の場合の理由
}

// Config はMatcherの動作設定。
type Config struct {
	// Threshold は重複と判定する類似度の閾値。0以下の場合はDefaultThresholdを使用。
	Threshold float64
	// DOBBonus は生年月日が完全一致した場合に加算されるスコア。上限1.0でクリップされる。
	DOBBonus float64
}

// Matcher は取り込み行を既存クライアント群と照合する。
// 1回のingestion runで読み取り専用のスナップショットに対して順次実行される。
// ロックは保持せず、I/Oも行わない。
type Matcher struct {
	threshold float64
	dobBonus  float64
	nicknames *Nicknames
}

// NewMatcher はMatcherを生成する。nicknamesがnilの場合はニックネーム照合を行わない。
func NewMatcher(cfg Config, nicknames *Nicknames) *Matcher {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{
		threshold: threshold,
		dobBonus:  cfg.DOBBonus,
		nicknames: nicknames,
	}
}

// Threshold は設定されている類似度閾値を返す。
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Match は取り込み行1件を候補群と照合し、結果を1件返す。
//
// 判定順序:
//  1. 外部IDが同一ソースの既存クライアントとちょうど1件一致 → Updated
//  2. 名前フィールドが空で照合不能 → Rejected(missing_required_fields)
//  3. 名前類似度の最良スコアが閾値以上かつ単一最良 → FlaggedDuplicate
//  4. 閾値以上の候補が複数同率 → Rejected(ambiguous)
//  5. どの候補も閾値未満 → Created
func (m *Matcher) Match(rec IncomingRecord, candidates []*model.Client) MatchResult {
	// 1. 外部ID完全一致（大文字小文字を無視、前後空白を除去、同一ソースのみ）
	if existing := m.findByExternalID(rec, candidates); existing != nil {
		return MatchResult{Kind: KindUpdated, ExistingID: existing.ID}
	}

	// 2. 名前がなければ類似度を計算できない
	recName := rec.Name()
	if recName.Empty() {
		return MatchResult{Kind: KindRejected, Reason: ReasonMissingRequiredFields}
	}

	best, bestScore, bestType, tied := m.scoreCandidates(rec, recName, candidates)

	if bestScore >= m.threshold {
		if tied {
			// 同率最良が複数: 推測せず手動レビューへ回す
			return MatchResult{Kind: KindRejected, Reason: ReasonAmbiguous}
		}
		return MatchResult{
			Kind:       KindFlaggedDuplicate,
			ExistingID: best.ID,
			Score:      bestScore,
			MatchType:  bestType,
		}
	}

	return MatchResult{Kind: KindCreated, NewID: uuid.New().String()}
}

// findByExternalID は外部IDが同一ソースでちょうど1件一致する既存クライアントを返す。
// 一致が0件または2件以上の場合はnilを返し、名前類似度の照合へフォールバックする。
func (m *Matcher) findByExternalID(rec IncomingRecord, candidates []*model.Client) *model.Client {
	uid := strings.ToLower(strings.TrimSpace(rec.UIDExternal))
	if uid == "" {
		return nil
	}
	source := strings.TrimSpace(rec.SourceSystem)

	var found *model.Client
	for _, c := range candidates {
		if strings.ToLower(strings.TrimSpace(c.UIDExternal)) != uid {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(c.SourceSystem), source) {
			continue
		}
		if found != nil {
			// 同一ソースで複数一致: 一意でないため外部ID照合は成立しない
			return nil
		}
		found = c
	}
	return found
}

// scoreCandidates は全候補をスコアリングし、最良候補とその同率有無を返す。
// 名前が空の候補はスキップする（類似度を計算できないため）。
func (m *Matcher) scoreCandidates(rec IncomingRecord, recName NamePair, candidates []*model.Client) (best *model.Client, bestScore float64, bestType string, tied bool) {
	recFull := recName.Full()

	for _, c := range candidates {
		candName := NamePair{First: c.FirstName, Last: c.LastName}
		if candName.Empty() {
			continue
		}

		score := Score(recName, candName)
		matchType := "similarity"

		// ニックネーム照合。確信度が高ければそちらを採用する
		if m.nicknames != nil {
			if ok, conf := m.nicknames.Match(recFull, candName.Full()); ok && conf > score {
				score = conf
				matchType = "nickname"
			}
		}

		// 生年月日の完全一致ボーナス。欠損はシグナルが減るだけで失敗にはならない
		if m.dobBonus > 0 && rec.DOB != nil && c.DOB != nil && sameDate(*rec.DOB, *c.DOB) {
			score += m.dobBonus
			if score > 1.0 {
				score = 1.0
			}
		}

		switch {
		case score > bestScore+tieEpsilon:
			best, bestScore, bestType = c, score, matchType
			tied = false
		case score >= bestScore-tieEpsilon && best != nil && score >= m.threshold:
			tied = true
		}
	}

	return best, bestScore, bestType, tied
}

// sameDate は時刻部分を無視して同じ日付かを返す。
func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
