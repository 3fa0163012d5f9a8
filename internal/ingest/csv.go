// Package ingest はCSVファイルからのクライアント取り込み処理を提供する。
//
// 取り込みは「パース → 照合 → 永続化」の3段階で行われる。
// パースはヘッダー行でカラムを特定し、行ごとにIncomingRecordへ変換する。
// 照合はmatchパッケージのMatcherに委譲し、結果に応じて作成・更新・
// 重複フラグ・却下のいずれかを永続化する。
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hitoshi/ccd/internal/match"
	"github.com/hitoshi/ccd/internal/model"
)

// dateLayout は取り込みCSVの日付形式。
const dateLayout = "2006-01-02"

// 必須カラム。これらを欠くファイルはファイルレベルで却下される。
var requiredColumns = []string{"first_name", "last_name"}

// ParsedFile はCSVパースの結果を表す。
// Recordsには正常行のみ含まれ、不正行はRowErrorsに記録される。
// 行番号はヘッダーを1行目として数える（最初のデータ行は2）。
type ParsedFile struct {
	Records   []match.IncomingRecord
	RowErrors []model.RowError
	TotalRows int
}

// ParseCSV はCSVファイルを読み取り、取り込みレコードへ変換する。
//
// ファイルレベルの失敗（構文エラー、空ファイル、必須カラム欠落）は
// *model.APIErrorとして返され、取り込み全体が中止される。
// 行レベルの失敗（日付形式不正など）はRowErrorsに記録され、
// 残りの行の処理は継続される。
//
// maxRowsを超えるデータ行を持つファイルは却下される。0は無制限。
func ParseCSV(r io.Reader, sourceSystem string, maxRows int) (*ParsedFile, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, model.NewFileEmptyError()
	}
	if err != nil {
		return nil, model.NewFileFormatError()
	}

	columns, missing := mapColumns(header)
	if len(missing) > 0 {
		return nil, model.NewMissingColumnsError(missing)
	}

	result := &ParsedFile{}
	rowNumber := 1 // ヘッダー行

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNumber++
		if err != nil {
			// カラム数不一致などの構文エラーは行単位で記録して継続
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				result.TotalRows++
				result.RowErrors = append(result.RowErrors, model.RowError{
					RowNumber: rowNumber,
					Code:      model.ErrCodeInvalidRow,
					Message:   fmt.Sprintf("行の形式が不正です: %v", parseErr.Err),
				})
				continue
			}
			return nil, model.NewFileFormatError()
		}

		result.TotalRows++
		if maxRows > 0 && result.TotalRows > maxRows {
			return nil, model.NewValidationError(
				fmt.Sprintf("データ行数が上限（%d行）を超えています", maxRows))
		}

		rec, rowErr := parseRow(row, columns, sourceSystem, rowNumber)
		if rowErr != nil {
			result.RowErrors = append(result.RowErrors, *rowErr)
			continue
		}
		result.Records = append(result.Records, rec)
	}

	if result.TotalRows == 0 {
		return nil, model.NewFileEmptyError()
	}

	return result, nil
}

// mapColumns はヘッダー行からカラム名→インデックスの対応表を作る。
// カラム名は小文字化・前後空白除去で正規化する。
// 戻り値の第2要素は欠落している必須カラムの一覧。
func mapColumns(header []string) (map[string]int, []string) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		normalized := strings.ToLower(strings.TrimSpace(name))
		if normalized == "" {
			continue
		}
		if _, exists := columns[normalized]; !exists {
			columns[normalized] = i
		}
	}

	// 外部システムによってはuid_externalをclient_idの名前で出力する。
	if _, ok := columns["uid_external"]; !ok {
		if idx, ok := columns["client_id"]; ok {
			columns["uid_external"] = idx
		}
	}

	var missing []string
	for _, required := range requiredColumns {
		if _, ok := columns[required]; !ok {
			missing = append(missing, required)
		}
	}
	return columns, missing
}

// parseRow は1データ行をIncomingRecordへ変換する。
// 変換できない場合はRowErrorを返す。
func parseRow(row []string, columns map[string]int, sourceSystem string, rowNumber int) (match.IncomingRecord, *model.RowError) {
	get := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	rec := match.IncomingRecord{
		UIDExternal:  get("uid_external"),
		FirstName:    get("first_name"),
		LastName:     get("last_name"),
		Phone:        get("phone"),
		Email:        get("email"),
		SourceSystem: sourceSystem,
		ProgramName:  get("program"),
		Raw:          rawMap(row, columns),
	}

	if dobStr := get("dob"); dobStr != "" {
		dob, err := time.Parse(dateLayout, dobStr)
		if err != nil {
			return match.IncomingRecord{}, &model.RowError{
				RowNumber: rowNumber,
				Code:      model.ErrCodeInvalidDate,
				Message:   fmt.Sprintf("日付形式が不正です: %s（YYYY-MM-DD形式で指定してください）", dobStr),
			}
		}
		rec.DOB = &dob
	}

	return rec, nil
}

// rawMap は行の全カラムをカラム名→値のマップにする。
// 重複フラグのincoming_payloadとしてそのまま保存される。
func rawMap(row []string, columns map[string]int) map[string]string {
	raw := make(map[string]string, len(columns))
	for name, idx := range columns {
		if idx < len(row) {
			raw[name] = strings.TrimSpace(row[idx])
		}
	}
	return raw
}
