package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/ccd/internal/audit"
	"github.com/hitoshi/ccd/internal/match"
	"github.com/hitoshi/ccd/internal/metrics"
	"github.com/hitoshi/ccd/internal/model"
	"github.com/hitoshi/ccd/internal/repository"
	"github.com/hitoshi/ccd/internal/security"
)

// Service はCSV取り込みの実行を提供する。
// 1回の実行（ingestion run）でファイル全体を処理し、UploadLogを1件記録する。
type Service struct {
	clientRepo  repository.ClientRepository
	programRepo repository.ProgramRepository
	enrollRepo  repository.EnrollmentRepository
	flagRepo    repository.DuplicateFlagRepository
	uploadRepo  repository.UploadLogRepository
	auditRepo   repository.AuditLogRepository
	matcher     *match.Matcher
	sanitizer   security.TextSanitizerService
	collector   metrics.MetricsCollector
	maxRows     int
}

// NewService はServiceの新しいインスタンスを生成する。
// maxRowsは1ファイルあたりのデータ行数の上限。0は無制限。
func NewService(
	clientRepo repository.ClientRepository,
	programRepo repository.ProgramRepository,
	enrollRepo repository.EnrollmentRepository,
	flagRepo repository.DuplicateFlagRepository,
	uploadRepo repository.UploadLogRepository,
	auditRepo repository.AuditLogRepository,
	matcher *match.Matcher,
	sanitizer security.TextSanitizerService,
	collector metrics.MetricsCollector,
	maxRows int,
) *Service {
	return &Service{
		clientRepo:  clientRepo,
		programRepo: programRepo,
		enrollRepo:  enrollRepo,
		flagRepo:    flagRepo,
		uploadRepo:  uploadRepo,
		auditRepo:   auditRepo,
		matcher:     matcher,
		sanitizer:   sanitizer,
		collector:   collector,
		maxRows:     maxRows,
	}
}

// RunInput は1回の取り込み実行の入力。
type RunInput struct {
	Reader       io.Reader
	Filename     string
	SourceSystem string
	UploadedBy   string // 実行した職員ID。空の場合はシステム実行
}

// Run はCSVファイルを取り込み、実行サマリーを返す。
//
// ファイルレベルのエラー（形式不正、空ファイル、必須カラム欠落）の場合は
// failedステータスのUploadLogを記録した上でエラーを返す。
// 行レベルのエラーは記録して処理を継続し、最終的に
// completed / completed_with_errors のいずれかで完了する。
//
// 重複フラグ行はクライアントを作成・更新せず、手動レビューのキューに積まれる。
func (s *Service) Run(ctx context.Context, input RunInput) (*model.UploadLog, error) {
	parsed, err := ParseCSV(input.Reader, input.SourceSystem, s.maxRows)
	if err != nil {
		slog.Error("取り込みファイルの検証に失敗",
			"filename", input.Filename,
			"source_system", input.SourceSystem,
			"error", err,
		)
		log := s.newUploadLog(input, parsed)
		log.Status = model.UploadStatusFailed
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			log.RowErrors = append(log.RowErrors, model.RowError{
				RowNumber: 0,
				Code:      apiErr.Code,
				Message:   apiErr.Message,
			})
		}
		if logErr := s.uploadRepo.Create(ctx, log); logErr != nil {
			slog.Error("取り込みログの記録に失敗", "error", logErr)
		}
		s.collector.RecordImportRun(string(model.UploadStatusFailed))
		return log, err
	}

	// 候補プールは実行開始時点のスナップショット。
	// 同一ファイル内で作成した行同士は照合しない。
	candidates, err := s.clientRepo.ListMatchCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("照合候補の取得に失敗: %w", err)
	}
	byID := make(map[string]*model.Client, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	log := s.newUploadLog(input, parsed)
	log.RowErrors = append(log.RowErrors, parsed.RowErrors...)
	log.RejectedRows = len(parsed.RowErrors)

	for i, rec := range parsed.Records {
		rowNumber := rowNumberOf(i)
		result := s.matcher.Match(rec, candidates)

		if err := s.applyResult(ctx, input, rec, result, byID, log, rowNumber); err != nil {
			slog.Error("取り込み行の処理に失敗",
				"filename", input.Filename,
				"row", rowNumber,
				"error", err,
			)
			log.RejectedRows++
			log.RowErrors = append(log.RowErrors, model.RowError{
				RowNumber: rowNumber,
				Code:      model.ErrCodeUploadFailed,
				Message:   fmt.Sprintf("行の保存に失敗しました: %v", err),
			})
		}
	}

	if log.RejectedRows > 0 {
		log.Status = model.UploadStatusCompletedWithErrors
	} else {
		log.Status = model.UploadStatusCompleted
	}

	if err := s.uploadRepo.Create(ctx, log); err != nil {
		return nil, fmt.Errorf("取り込みログの記録に失敗: %w", err)
	}
	s.collector.RecordImportRun(string(log.Status))

	slog.Info("取り込み完了",
		"filename", input.Filename,
		"source_system", input.SourceSystem,
		"total", log.TotalRows,
		"created", log.CreatedCount,
		"updated", log.UpdatedCount,
		"flagged", log.FlaggedCount,
		"rejected", log.RejectedRows,
		"status", log.Status,
	)

	return log, nil
}

// applyResult は1行の照合結果を永続化する。
func (s *Service) applyResult(
	ctx context.Context,
	input RunInput,
	rec match.IncomingRecord,
	result match.MatchResult,
	byID map[string]*model.Client,
	log *model.UploadLog,
	rowNumber int,
) error {
	switch result.Kind {
	case match.KindUpdated:
		existing := byID[result.ExistingID]
		if existing == nil {
			return fmt.Errorf("照合結果のクライアントが見つからない: %s", result.ExistingID)
		}
		if err := s.updateClient(ctx, input, existing, rec); err != nil {
			return err
		}
		log.UpdatedCount++
		s.collector.RecordImportRow("updated")
		return s.autoEnroll(ctx, existing.ID, rec)

	case match.KindCreated:
		client, err := s.createClient(ctx, input, rec, result.NewID)
		if err != nil {
			return err
		}
		log.CreatedCount++
		s.collector.RecordImportRow("created")
		return s.autoEnroll(ctx, client.ID, rec)

	case match.KindFlaggedDuplicate:
		if err := s.createFlag(ctx, input, rec, result); err != nil {
			return err
		}
		log.FlaggedCount++
		s.collector.RecordImportRow("flagged")
		s.collector.RecordDuplicateScore(result.Score)
		return nil

	case match.KindRejected:
		log.RejectedRows++
		log.RowErrors = append(log.RowErrors, rejectionError(result, rowNumber))
		s.collector.RecordImportRow("rejected")
		return nil

	default:
		return fmt.Errorf("未知の照合結果: %s", result.Kind)
	}
}

// createClient は新規クライアントを作成し、監査ログを記録する。
func (s *Service) createClient(ctx context.Context, input RunInput, rec match.IncomingRecord, newID string) (*model.Client, error) {
	now := time.Now()
	client := &model.Client{
		ID:           newID,
		FirstName:    rec.FirstName,
		LastName:     rec.LastName,
		DOB:          rec.DOB,
		Phone:        rec.Phone,
		Email:        rec.Email,
		Gender:       rec.Raw["gender"],
		Address:      rec.Raw["address"],
		Comments:     s.sanitizer.Sanitize(rec.Raw["comments"]),
		UIDExternal:  rec.UIDExternal,
		SourceSystem: rec.SourceSystem,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if langs := rec.Raw["languages"]; langs != "" {
		client.Languages = splitLanguages(langs)
	}

	if err := s.clientRepo.Create(ctx, client); err != nil {
		return nil, fmt.Errorf("クライアントの作成に失敗: %w", err)
	}

	s.writeAudit(ctx, input, client.ID, audit.ComputeDiff(nil, clientFields(client)))
	return client, nil
}

// updateClient は外部ID一致した既存クライアントを取り込み行の内容で更新する。
// 取り込み行で空のフィールドは既存値を維持する（欠損による消し込みを防ぐ）。
func (s *Service) updateClient(ctx context.Context, input RunInput, existing *model.Client, rec match.IncomingRecord) error {
	before := clientFields(existing)

	setIfPresent(&existing.FirstName, rec.FirstName)
	setIfPresent(&existing.LastName, rec.LastName)
	setIfPresent(&existing.Phone, rec.Phone)
	setIfPresent(&existing.Email, rec.Email)
	setIfPresent(&existing.Gender, rec.Raw["gender"])
	setIfPresent(&existing.Address, rec.Raw["address"])
	if rec.DOB != nil {
		existing.DOB = rec.DOB
	}
	if comments := rec.Raw["comments"]; comments != "" {
		existing.Comments = s.sanitizer.Sanitize(comments)
	}
	if langs := rec.Raw["languages"]; langs != "" {
		existing.Languages = splitLanguages(langs)
	}
	existing.UpdatedAt = time.Now()

	diff := audit.ComputeDiff(before, clientFields(existing))
	if len(diff) == 0 {
		// 実質的な変更なし。書き込みも監査も行わない
		return nil
	}

	if err := s.clientRepo.Update(ctx, existing); err != nil {
		return fmt.Errorf("クライアントの更新に失敗: %w", err)
	}

	s.writeAudit(ctx, input, existing.ID, diff)
	return nil
}

// createFlag は重複フラグを作成する。クライアント自体は作成・更新しない。
func (s *Service) createFlag(ctx context.Context, input RunInput, rec match.IncomingRecord, result match.MatchResult) error {
	payload := make(map[string]any, len(rec.Raw))
	for k, v := range rec.Raw {
		payload[k] = v
	}

	flag := &model.DuplicateFlag{
		ID:              uuid.New().String(),
		MatchedClientID: result.ExistingID,
		Score:           result.Score,
		MatchType:       result.MatchType,
		SourceSystem:    input.SourceSystem,
		IncomingPayload: payload,
		Status:          model.DuplicateFlagOpen,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := s.flagRepo.Create(ctx, flag); err != nil {
		return fmt.Errorf("重複フラグの作成に失敗: %w", err)
	}
	return nil
}

// autoEnroll は取り込み行のプログラム名に基づき在籍を自動登録する。
// プログラム名が空、または該当プログラムが存在しない場合は何もしない。
// 既にオープンな在籍がある場合も何もしない。
func (s *Service) autoEnroll(ctx context.Context, clientID string, rec match.IncomingRecord) error {
	if rec.ProgramName == "" {
		return nil
	}

	program, err := s.programRepo.FindByName(ctx, rec.ProgramName)
	if err != nil {
		return fmt.Errorf("プログラムの検索に失敗: %w", err)
	}
	if program == nil {
		slog.Warn("取り込み行のプログラムが未登録",
			"program", rec.ProgramName,
			"client_id", clientID,
		)
		return nil
	}

	open, err := s.enrollRepo.FindOpen(ctx, clientID, program.ID)
	if err != nil {
		return fmt.Errorf("在籍の検索に失敗: %w", err)
	}
	if open != nil {
		return nil
	}

	now := time.Now()
	enrollment := &model.Enrollment{
		ID:        uuid.New().String(),
		ClientID:  clientID,
		ProgramID: program.ID,
		StartDate: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.enrollRepo.Create(ctx, enrollment); err != nil {
		return fmt.Errorf("在籍の作成に失敗: %w", err)
	}

	intake := &model.Intake{
		ID:           uuid.New().String(),
		ClientID:     clientID,
		ProgramID:    program.ID,
		IntakeDate:   now,
		SourceSystem: rec.SourceSystem,
		CreatedAt:    now,
	}
	if err := s.enrollRepo.CreateIntake(ctx, intake); err != nil {
		return fmt.Errorf("受入記録の作成に失敗: %w", err)
	}
	return nil
}

// writeAudit は取り込みによる変更の監査ログを記録する。
// 監査の失敗は取り込み自体を失敗させない。
func (s *Service) writeAudit(ctx context.Context, input RunInput, clientID string, diff map[string]any) {
	err := s.auditRepo.Create(ctx, &model.AuditLog{
		ID:        uuid.New().String(),
		Entity:    "client",
		EntityID:  clientID,
		Action:    model.AuditActionImport,
		ChangedBy: input.UploadedBy,
		Diff:      diff,
		ChangedAt: time.Now(),
	})
	if err != nil {
		slog.Error("監査ログの記録に失敗", "client_id", clientID, "error", err)
	}
}

// newUploadLog は取り込みログの初期値を生成する。
func (s *Service) newUploadLog(input RunInput, parsed *ParsedFile) *model.UploadLog {
	log := &model.UploadLog{
		ID:           uuid.New().String(),
		SourceSystem: input.SourceSystem,
		Filename:     input.Filename,
		UploadedBy:   input.UploadedBy,
		CreatedAt:    time.Now(),
	}
	if parsed != nil {
		log.TotalRows = parsed.TotalRows
	}
	return log
}

// rejectionError は照合段階の却下をRowErrorへ変換する。
func rejectionError(result match.MatchResult, rowNumber int) model.RowError {
	switch result.Reason {
	case match.ReasonAmbiguous:
		return model.RowError{
			RowNumber: rowNumber,
			Code:      model.ErrCodeDuplicateClient,
			Message:   "類似する既存クライアントが複数存在するため、手動での確認が必要です。",
		}
	default:
		return model.RowError{
			RowNumber: rowNumber,
			Code:      model.ErrCodeInvalidRow,
			Message:   "必須フィールド（first_name / last_name）が入力されていません。",
		}
	}
}

// rowNumberOf はレコードのCSV上のおおよその行番号を返す。
// パース時の行エラーで欠番が生じるため厳密には一致しないが、
// エラー表示にはレコード順で十分。
func rowNumberOf(index int) int {
	return index + 2 // ヘッダーが1行目
}

// clientFields は監査差分の計算対象フィールドを列挙する。
func clientFields(c *model.Client) map[string]any {
	var dob string
	if c.DOB != nil {
		dob = c.DOB.Format(dateLayout)
	}
	return map[string]any{
		"first_name":     c.FirstName,
		"last_name":      c.LastName,
		"preferred_name": c.PreferredName,
		"alias":          c.Alias,
		"dob":            dob,
		"gender":         c.Gender,
		"languages":      strings.Join(c.Languages, ","),
		"phone":          c.Phone,
		"email":          c.Email,
		"address":        c.Address,
		"comments":       c.Comments,
		"uid_external":   c.UIDExternal,
		"source_system":  c.SourceSystem,
	}
}

// setIfPresent は取り込み値が空でない場合だけ既存値を置き換える。
func setIfPresent(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// splitLanguages はカンマ区切りの言語リストを分割する。
func splitLanguages(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
