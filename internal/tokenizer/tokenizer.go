// Package tokenizer 提供一个确定性的轻量分词器，用于切块与上下文预算计算。
// 规则：CJK 字符逐字记为一个 token，连续的字母/数字串记为一个 token，
// 其余符号与空白不计入。同一输入永远产出同一序列。
package tokenizer

import "unicode"

// Span 是原文中一个 token 的 rune 偏移区间，左闭右开。
type Span struct {
	Start int
	End   int
}

// Split 将文本切分为 token 区间序列。
func Split(text string) []Span {
	runes := []rune(text)
	spans := make([]Span, 0, len(runes)/2)

	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case isCJK(r):
			spans = append(spans, Span{Start: i, End: i + 1})
			i++
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i])) && !isCJK(runes[i]) {
				i++
			}
			spans = append(spans, Span{Start: start, End: i})
		default:
			i++
		}
	}
	return spans
}

// Count 返回文本的 token 数。
func Count(text string) int {
	return len(Split(text))
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
