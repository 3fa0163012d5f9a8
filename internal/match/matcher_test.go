package match

import (
	"testing"
	"time"

	"github.com/hitoshi/ccd/internal/model"
)

func testClient(id, first, last, uid, source string) *model.Client {
	return &model.Client{
		ID:           id,
		FirstName:    first,
		LastName:     last,
		UIDExternal:  uid,
		SourceSystem: source,
		Active:       true,
	}
}

// 外部IDが一致する場合、名前の類似度に関わらずUpdatedになることを検証
func TestMatcher_ExternalIDMatch_ReturnsUpdated(t *testing.T) {
	m := NewMatcher(Config{}, nil)

	candidates := []*model.Client{
		testClient("c1", "Totally", "Different", "SMIS-001", "SMIS"),
	}

	rec := IncomingRecord{
		UIDExternal:  "smis-001", // 大文字小文字は無視される
		FirstName:    "John",
		LastName:     "Smith",
		SourceSystem: "SMIS",
	}

	result := m.Match(rec, candidates)
	if result.Kind != KindUpdated {
		t.Fatalf("Kind = %q, want %q", result.Kind, KindUpdated)
	}
	if result.ExistingID != "c1" {
		t.Errorf("ExistingID = %q, want %q", result.ExistingID, "c1")
	}
}

// 外部IDの前後空白が無視されることを検証
func TestMatcher_ExternalIDMatch_TrimsWhitespace(t *testing.T) {
	m := NewMatcher(Config{}, nil)

	candidates := []*model.Client{
		testClient("c1", "John", "Smith", "EMH-42", "EMHware"),
	}

	rec := IncomingRecord{
		UIDExternal:  "  EMH-42  ",
		FirstName:    "John",
		LastName:     "Smith",
		SourceSystem: "EMHware",
	}

	if result := m.Match(rec, candidates); result.Kind != KindUpdated {
		t.Errorf("Kind = %q, want %q", result.Kind, KindUpdated)
	}
}

// 外部IDが一致してもソースシステムが異なる場合はUpdatedにならないことを検証
func TestMatcher_ExternalIDMatch_RequiresSameSource(t *testing.T) {
	m := NewMatcher(Config{}, nil)

	candidates := []*model.Client{
		testClient("c1", "Alice", "Johnson", "ID-1", "SMIS"),
	}

	rec := IncomingRecord{
		UIDExternal:  "ID-1",
		FirstName:    "Bob",
		LastName:     "Miller",
		SourceSystem: "EMHware",
	}

	result := m.Match(rec, candidates)
	if result.Kind == KindUpdated {
		t.Error("cross-source external ID match should not yield Updated")
	}
}

// 外部IDなし・類似候補なしの場合はCreatedになり新規IDが採番されることを検証
func TestMatcher_NoMatch_ReturnsCreated(t *testing.T) {
	m := NewMatcher(Config{}, nil)

	candidates := []*model.Client{
		testClient("c1", "Xavier", "Quintero", "", "SMIS"),
	}

	rec := IncomingRecord{
		FirstName:    "John",
		LastName:     "Smith",
		SourceSystem: "SMIS",
	}

	result := m.Match(rec, candidates)
	if result.Kind != KindCreated {
		t.Fatalf("Kind = %q, want %q", result.Kind, KindCreated)
	}
	if result.NewID == "" {
		t.Error("Created result should carry a new ID")
	}
}

// 類似名がある場合はFlaggedDuplicateになり、自動マージされないことを検証
// 例: EMHwareからのJon SmithがSMIS既存のJohn Smithと照合される
func TestMatcher_SimilarName_ReturnsFlaggedDuplicate(t *testing.T) {
	m := NewMatcher(Config{}, nil)

	candidates := []*model.Client{
		testClient("c1", "John", "Smith", "SMIS-9", "SMIS"),
	}

	rec := IncomingRecord{
		FirstName:    "Jon",
		LastName:     "Smith",
		SourceSystem: "EMHware",
	}

	result := m.Match(rec, candidates)
	if result.Kind != KindFlaggedDuplicate {
		t.Fatalf("Kind = %q, want %q", result.Kind, KindFlaggedDuplicate)
	}
	if result.ExistingID != "c1" {
		t.Errorf("ExistingID = %q, want %q", result.ExistingID, "c1")
	}
	if result.Score < DefaultThreshold {
		t.Errorf("Score = %v, want >= %v", result.Score, DefaultThreshold)
	}
	if result.MatchType != "similarity" {
		t.Errorf("MatchType = %q, want %q", result.MatchType, "similarity")
	}
}

// 閾値以上の候補が複数同率の場合はRejected(ambiguous)になることを検証
func TestMatcher_TiedCandidates_ReturnsAmbiguous(t *testing.T) {
	m := NewMatcher(Config{}, nil)

	// 同姓同名の既存クライアントが2件: どちらもスコア1.0
	candidates := []*model.Client{
		testClient("c1", "John", "Smith", "", "SMIS"),
		testClient("c2", "John", "Smith", "", "EMHware"),
	}

	rec := IncomingRecord{
		FirstName:    "John",
		LastName:     "Smith",
		SourceSystem: "SMIS",
	}

	result := m.Match(rec, candidates)
	if result.Kind != KindRejected {
		t.Fatalf("Kind = %q, want %q", result.Kind, KindRejected)
	}
	if result.Reason != ReasonAmbiguous {
		t.Errorf("Reason = %q, want %q", result.Reason, ReasonAmbiguous)
	}
}

// 明確な単一最良があれば他候補が閾値以上でもFlaggedDuplicateになることを検証
func TestMatcher_ClearBest_NotAmbiguous(t *testing.T) {
	m := NewMatcher(Config{}, nil)

	candidates := []*model.Client{
		testClient("c1", "John", "Smith", "", "SMIS"), // 完全一致 1.0
		testClient("c2", "Jon", "Smith", "", "SMIS"),  // 類似
	}

	rec := IncomingRecord{
		FirstName:    "John",
		LastName:     "Smith",
		SourceSystem: "SMIS",
	}

	result := m.Match(rec, candidates)
	if result.Kind != KindFlaggedDuplicate {
		t.Fatalf("Kind = %q, want %q", result.Kind, KindFlaggedDuplicate)
	}
	if result.ExistingID != "c1" {
		t.Errorf("ExistingID = %q, want %q", result.ExistingID, "c1")
	}
}

// 名前フィールドが空の行はRejected(missing_required_fields)になることを検証
func TestMatcher_EmptyName_ReturnsMissingRequiredFields(t *testing.T) {
	m := NewMatcher(Config{}, nil)

	rec := IncomingRecord{
		FirstName:    "   ",
		LastName:     "",
		SourceSystem: "SMIS",
	}

	result := m.Match(rec, []*model.Client{testClient("c1", "John", "Smith", "", "SMIS")})
	if result.Kind != KindRejected {
		t.Fatalf("Kind = %q, want %q", result.Kind, KindRejected)
	}
	if result.Reason != ReasonMissingRequiredFields {
		t.Errorf("Reason = %q, want %q", result.Reason, ReasonMissingRequiredFields)
	}
}

// 名前が空でも外部IDが一致すればUpdatedになることを検証
func TestMatcher_EmptyNameWithExternalID_ReturnsUpdated(t *testing.T) {
	m := NewMatcher(Config{}, nil)

	candidates := []*model.Client{
		testClient("c1", "John", "Smith", "SMIS-7", "SMIS"),
	}

	rec := IncomingRecord{
		UIDExternal:  "SMIS-7",
		SourceSystem: "SMIS",
	}

	if result := m.Match(rec, candidates); result.Kind != KindUpdated {
		t.Errorf("Kind = %q, want %q", result.Kind, KindUpdated)
	}
}

// 名前が空の候補はスコアリングからスキップされることを検証
func TestMatcher_EmptyNameCandidate_Skipped(t *testing.T) {
	m := NewMatcher(Config{}, nil)

	candidates := []*model.Client{
		testClient("c1", "", "", "", "SMIS"),
	}

	rec := IncomingRecord{
		FirstName:    "John",
		LastName:     "Smith",
		SourceSystem: "SMIS",
	}

	if result := m.Match(rec, candidates); result.Kind != KindCreated {
		t.Errorf("Kind = %q, want %q", result.Kind, KindCreated)
	}
}

// 生年月日の完全一致ボーナスが加算され、1.0でクリップされることを検証
func TestMatcher_DOBBonus(t *testing.T) {
	m := NewMatcher(Config{DOBBonus: 0.05}, nil)

	dob := time.Date(1990, 3, 15, 0, 0, 0, 0, time.UTC)
	cand := testClient("c1", "Jon", "Smith", "", "SMIS")
	cand.DOB = &dob

	rec := IncomingRecord{
		FirstName:    "Jon",
		LastName:     "Smith",
		DOB:          &dob,
		SourceSystem: "EMHware",
	}

	result := m.Match(rec, []*model.Client{cand})
	if result.Kind != KindFlaggedDuplicate {
		t.Fatalf("Kind = %q, want %q", result.Kind, KindFlaggedDuplicate)
	}
	// 名前完全一致1.0 + ボーナス0.05は1.0でクリップされる
	if result.Score != 1.0 {
		t.Errorf("Score = %v, want 1.0", result.Score)
	}
}

// DOB欠損はスコアリングの失敗にならず、シグナルが減るだけであることを検証
func TestMatcher_MissingDOB_NoHardFailure(t *testing.T) {
	m := NewMatcher(Config{DOBBonus: 0.05}, nil)

	candidates := []*model.Client{
		testClient("c1", "John", "Smith", "", "SMIS"),
	}

	rec := IncomingRecord{
		FirstName:    "John",
		LastName:     "Smith",
		SourceSystem: "SMIS",
		// DOBもPhoneもnil/空
	}

	result := m.Match(rec, candidates)
	if result.Kind != KindFlaggedDuplicate {
		t.Errorf("Kind = %q, want %q", result.Kind, KindFlaggedDuplicate)
	}
}

// ニックネームマッピング経由の一致がMatchType=nicknameで返ることを検証
func TestMatcher_NicknameMatch(t *testing.T) {
	nicks := NewNicknames(map[string][]string{
		"robert anderson": {"bobby", "rob"},
	})
	m := NewMatcher(Config{}, nicks)

	candidates := []*model.Client{
		testClient("c1", "Robert", "Anderson", "", "SMIS"),
	}

	rec := IncomingRecord{
		FirstName:    "Bobby",
		LastName:     "",
		SourceSystem: "SMIS",
	}

	result := m.Match(rec, candidates)
	if result.Kind != KindFlaggedDuplicate {
		t.Fatalf("Kind = %q, want %q", result.Kind, KindFlaggedDuplicate)
	}
	if result.MatchType != "nickname" {
		t.Errorf("MatchType = %q, want %q", result.MatchType, "nickname")
	}
	if result.Score != 0.9 {
		t.Errorf("Score = %v, want 0.9", result.Score)
	}
}

// 同一ソースで外部IDが複数一致する場合は外部ID照合が成立しないことを検証
func TestMatcher_DuplicateExternalID_FallsThrough(t *testing.T) {
	m := NewMatcher(Config{}, nil)

	candidates := []*model.Client{
		testClient("c1", "John", "Smith", "ID-1", "SMIS"),
		testClient("c2", "Jane", "Doe", "ID-1", "SMIS"),
	}

	rec := IncomingRecord{
		UIDExternal:  "ID-1",
		FirstName:    "Nobody",
		LastName:     "Nowhere",
		SourceSystem: "SMIS",
	}

	result := m.Match(rec, candidates)
	if result.Kind == KindUpdated {
		t.Error("non-unique external ID should not yield Updated")
	}
}

// 閾値が設定可能であることを検証
func TestMatcher_CustomThreshold(t *testing.T) {
	m := NewMatcher(Config{Threshold: 0.95}, nil)

	candidates := []*model.Client{
		testClient("c1", "Jon", "Smith", "", "SMIS"),
	}

	// Jon Smith vs John Smith は約0.95未満なのでCreatedになる
	rec := IncomingRecord{
		FirstName:    "John",
		LastName:     "Smith",
		SourceSystem: "SMIS",
	}

	if result := m.Match(rec, candidates); result.Kind != KindCreated {
		t.Errorf("Kind = %q, want %q with threshold 0.95", result.Kind, KindCreated)
	}
}
