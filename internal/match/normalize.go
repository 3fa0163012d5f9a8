// Package match はクライアント名の類似度計算と取り込み時の照合ロジックを提供する。
// CSV/Excel由来の取り込み行を既存クライアントと照合し、更新・新規作成・
// 重複フラグ・手動レビュー行きのいずれかに分類する。
package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldDiacritics はダイアクリティカルマーク（結合文字）を除去するtransformer。
// "José" と "Jose" を同一視するために使用する。
var foldDiacritics = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizeName は名前を比較用に正規化する。
// 小文字化、前後空白の除去、連続空白の圧縮、ダイアクリティカルマークの除去を行う。
func NormalizeName(name string) string {
	if name == "" {
		return ""
	}
	folded, _, err := transform.String(foldDiacritics, name)
	if err != nil {
		// 変換に失敗した場合は元の文字列で続行する
		folded = name
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// NamePair は姓名の組を表す。
type NamePair struct {
	First string
	Last  string
}

// Full は正規化済みの "first last" 連結文字列を返す。
func (p NamePair) Full() string {
	return NormalizeName(strings.TrimSpace(p.First + " " + p.Last))
}

// Empty は姓名がどちらも空（正規化後）かを返す。
func (p NamePair) Empty() bool {
	return p.Full() == ""
}
