package match

import "strings"

// 類似度の固定値。元の判定基準に合わせている。
const (
	containmentScore = 0.8 // 一方の名前が他方を含む場合
)

// Score は2つの姓名の類似度を[0,1]で返す。
// 対称（Score(a,b) == Score(b,a)）かつ同一入力に対して決定的。
// 正規化後に一致する場合は1.0、一方が他方を包含する場合は0.8、
// それ以外は編集距離ベースの比率と単語集合の重なり率の大きい方を返す。
func Score(a, b NamePair) float64 {
	an := a.Full()
	bn := b.Full()

	if an == "" || bn == "" {
		return 0.0
	}
	if an == bn {
		return 1.0
	}
	if strings.Contains(an, bn) || strings.Contains(bn, an) {
		return containmentScore
	}

	sim := ratio(an, bn)

	// 単語集合の重なり（Jaccard係数）。語順違いや複合姓に強い。
	if ws := wordOverlap(an, bn); ws > sim {
		sim = ws
	}

	return sim
}

// wordOverlap は空白区切りの単語集合のJaccard係数を返す。
func wordOverlap(a, b string) float64 {
	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0.0
	}

	setA := make(map[string]struct{}, len(wordsA))
	for _, w := range wordsA {
		setA[w] = struct{}{}
	}
	setB := make(map[string]struct{}, len(wordsB))
	for _, w := range wordsB {
		setB[w] = struct{}{}
	}

	common := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			common++
		}
	}
	total := len(setA) + len(setB) - common
	if total == 0 {
		return 0.0
	}
	return float64(common) / float64(total)
}

// ratio は2文字列の類似度を 2*M/T で返す。
// Mは最長一致ブロックの合計長、Tは両文字列の合計長。
// Pythonのdifflib.SequenceMatcher.ratio()と同じ定義。
func ratio(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 0.0
	}
	matches := matchingTotal(ra, rb, 0, len(ra), 0, len(rb))
	return 2.0 * float64(matches) / float64(total)
}

// matchingTotal は[alo,ahi) x [blo,bhi)範囲の一致文字数の合計を返す。
// 最長一致ブロックを見つけ、その左右を再帰的に処理する。
func matchingTotal(a, b []rune, alo, ahi, blo, bhi int) int {
	i, j, size := longestMatch(a, b, alo, ahi, blo, bhi)
	if size == 0 {
		return 0
	}
	return size +
		matchingTotal(a, b, alo, i, blo, j) +
		matchingTotal(a, b, i+size, ahi, j+size, bhi)
}

// longestMatch は範囲内の最長一致ブロック（開始位置iとj、長さ）を返す。
// 同じ長さのブロックが複数ある場合はaの中で最も早く始まるものを選ぶ。
func longestMatch(a, b []rune, alo, ahi, blo, bhi int) (besti, bestj, bestsize int) {
	// bの各文字の出現位置インデックス
	b2j := make(map[rune][]int, bhi-blo)
	for j := blo; j < bhi; j++ {
		b2j[b[j]] = append(b2j[b[j]], j)
	}

	besti, bestj = alo, blo
	j2len := make(map[int]int)

	for i := alo; i < ahi; i++ {
		newj2len := make(map[int]int)
		for _, j := range b2j[a[i]] {
			k := j2len[j-1] + 1
			newj2len[j] = k
			if k > bestsize {
				besti, bestj, bestsize = i-k+1, j-k+1, k
			}
		}
		j2len = newj2len
	}

	return besti, bestj, bestsize
}
