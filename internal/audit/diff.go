// Package audit は監査ログ用の変更差分の計算を提供する。
package audit

import (
	"fmt"
	"reflect"
)

// FieldChange は1フィールドの変更前後の値を表す。
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// ComputeDiff は変更前後のフィールドマップを比較し、
// 変更のあったフィールドだけを{"field": {"old": x, "new": y}}形式で返す。
// oldValuesがnilの場合は新規作成とみなし、全フィールドをold=nilで返す。
func ComputeDiff(oldValues, newValues map[string]any) map[string]any {
	diff := make(map[string]any)

	for field, newVal := range newValues {
		var oldVal any
		if oldValues != nil {
			oldVal = oldValues[field]
		}
		if !equalValue(oldVal, newVal) {
			diff[field] = FieldChange{Old: oldVal, New: newVal}
		}
	}

	// 削除されたフィールド（newに存在しないもの）
	for field, oldVal := range oldValues {
		if _, ok := newValues[field]; !ok {
			diff[field] = FieldChange{Old: oldVal, New: nil}
		}
	}

	return diff
}

// NewValues は差分からnew側の値だけを{"field": value}形式で取り出す。
// 承認ワークフローで差分をエンティティに適用する際に使用する。
// JSONから復元された{"old": x, "new": y}形式のマップも受け付ける。
func NewValues(diff map[string]any) map[string]any {
	out := make(map[string]any, len(diff))
	for field, change := range diff {
		switch c := change.(type) {
		case FieldChange:
			out[field] = c.New
		case map[string]any:
			out[field] = c["new"]
		default:
			out[field] = change
		}
	}
	return out
}

// equalValue は監査目的での値の等価判定。
// 数値はJSON経由でfloat64になるため、文字列表現で比較する。
func equalValue(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
