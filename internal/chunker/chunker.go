// Package chunker 把抽取出的纯文本切分为带重叠的 token 窗口。
package chunker

import (
	"strings"
	"unicode"

	"docuchat-go/internal/tokenizer"
)

// Piece 是一个切分产物。偏移以原文 rune 计，区间左闭右开，
// 覆盖该块首尾 token 之间的全部原文（含中间的空白与标点）。
type Piece struct {
	Index       int
	Text        string
	TokenCount  int
	StartOffset int
	EndOffset   int
}

// Chunker 按固定窗口大小与重叠量切分文本，输出是确定性的。
type Chunker struct {
	chunkSize int
	overlap   int
}

// New 创建一个 Chunker。overlap 会被收紧到小于 chunkSize，
// 保证步长始终为正，切分必然终止。
func New(chunkSize, overlap int) *Chunker {
	if chunkSize < 1 {
		chunkSize = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}
}

// Split 切分文本。相邻块共享结尾的 overlap 个 token；
// 最后一个块可以短于 chunkSize。空文本或纯空白返回空切片。
func (c *Chunker) Split(text string) []Piece {
	spans := tokenizer.Split(text)
	if len(spans) == 0 {
		return nil
	}

	runes := []rune(text)
	step := c.chunkSize - c.overlap
	pieces := make([]Piece, 0, len(spans)/step+1)

	for start := 0; start < len(spans); start += step {
		end := start + c.chunkSize
		if end > len(spans) {
			end = len(spans)
		}
		startOff := spans[start].Start
		endOff := spans[end-1].End
		pieces = append(pieces, Piece{
			Index:       len(pieces),
			Text:        string(runes[startOff:endOff]),
			TokenCount:  end - start,
			StartOffset: startOff,
			EndOffset:   endOff,
		})
		if end == len(spans) {
			break
		}
	}
	return pieces
}

// Sanitize 清理抽取文本中的控制字符，保留换行与制表符，并压缩多余空行。
func Sanitize(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' {
			sb.WriteRune(r)
			continue
		}
		if r == '\x00' || unicode.IsControl(r) {
			continue
		}
		sb.WriteRune(r)
	}
	cleaned := sb.String()
	for strings.Contains(cleaned, "\n\n\n") {
		cleaned = strings.ReplaceAll(cleaned, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(cleaned)
}
