package match

import (
	"encoding/json"
	"fmt"
	"os"
)

// ニックネーム一致の確信度。正式名↔ニックネームの方が
// ニックネーム同士より確度が高い。
const (
	nicknameFullScore = 0.9
	nicknameBothScore = 0.85
)

// Nicknames は正式名とニックネームの対応表を保持する。
// JSONファイル（{"John Smith": ["Johnny", "Jon", ...]}形式）から読み込む。
type Nicknames struct {
	mappings map[string][]string
}

// defaultNicknameMappings は設定ファイルがない場合の組み込みマッピング。
var defaultNicknameMappings = map[string][]string{
	"john smith":        {"js", "johnny", "john", "smith", "jon"},
	"maria garcia":      {"mg", "maria", "garcia", "mari"},
	"sarah williams":    {"sw", "sarah", "williams", "sally"},
	"michael brown":     {"mb", "mike", "mikey", "michael", "brown"},
	"lisa davis":        {"ld", "lisa", "liz", "liza", "davis"},
	"james wilson":      {"jw", "jim", "jimmy", "james", "wilson"},
	"jennifer martinez": {"jm", "jen", "jenny", "martinez"},
	"robert anderson":   {"ra", "rob", "bobby", "robert", "anderson", "robbie"},
}

// LoadNicknames はJSONファイルからニックネーム対応表を読み込む。
// pathが空、ファイルが存在しない、またはパースできない場合は組み込みの
// デフォルトマッピングにフォールバックする。
func LoadNicknames(path string) *Nicknames {
	n := &Nicknames{mappings: normalizeMappings(defaultNicknameMappings)}

	if path == "" {
		return n
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return n
	}

	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return n
	}

	n.mappings = normalizeMappings(raw)
	return n
}

// NewNicknames はマッピングを直接指定してNicknamesを生成する。テスト用。
func NewNicknames(mappings map[string][]string) *Nicknames {
	return &Nicknames{mappings: normalizeMappings(mappings)}
}

// normalizeMappings はキーと値をすべて正規化したコピーを返す。
func normalizeMappings(raw map[string][]string) map[string][]string {
	out := make(map[string][]string, len(raw))
	for full, nicks := range raw {
		key := NormalizeName(full)
		if key == "" {
			continue
		}
		normalized := make([]string, 0, len(nicks))
		for _, nick := range nicks {
			if nn := NormalizeName(nick); nn != "" {
				normalized = append(normalized, nn)
			}
		}
		out[key] = normalized
	}
	return out
}

// Match は2つの名前がニックネームマッピング経由で一致するかを判定する。
// 一致する場合は確信度スコア（正式名↔ニックネーム: 0.9、ニックネーム同士: 0.85）を返す。
// 引数は正規化前の名前でよい。
func (n *Nicknames) Match(name1, name2 string) (bool, float64) {
	n1 := NormalizeName(name1)
	n2 := NormalizeName(name2)
	if n1 == "" || n2 == "" {
		return false, 0.0
	}

	// 正式名↔ニックネームの関係はニックネーム同士より優先する。
	// 同じペアが複数のマッピングに現れても結果が揺れないよう、
	// 全マッピングを走査してから低い方の関係を採用する。
	bothNicks := false
	for full, nicks := range n.mappings {
		n1IsNick := containsString(nicks, n1)
		n2IsNick := containsString(nicks, n2)

		// 正式名とニックネームの組み合わせ
		if (n1 == full && n2IsNick) || (n2 == full && n1IsNick) {
			return true, nicknameFullScore
		}

		// どちらも同じ正式名のニックネーム
		if n1IsNick && n2IsNick {
			bothNicks = true
		}
	}
	if bothNicks {
		return true, nicknameBothScore
	}

	return false, 0.0
}

// String はマッピング数の概要を返す。ログ出力用。
func (n *Nicknames) String() string {
	return fmt.Sprintf("nicknames(%d mappings)", len(n.mappings))
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
