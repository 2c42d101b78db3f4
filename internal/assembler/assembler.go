// Package assembler 把检索命中贪心装配进固定 token 预算的上下文。
package assembler

import (
	"sort"

	"docuchat-go/internal/model"
	"docuchat-go/internal/tokenizer"
)

// Block 是装配进上下文的一个片段，携带其来源引用。
type Block struct {
	Text     string
	Citation model.Citation
}

// Assembly 是一次装配的结果。
// Truncated 为 true 表示最高分块单块即超预算、被截断后放入。
type Assembly struct {
	Blocks     []Block
	TokensUsed int
	Truncated  bool
}

// Assemble 按分数从高到低贪心填充预算。放不下的整块跳过，继续尝试更低分的块；
// 特例：若连最高分的第一块都超预算，则把它截断到预算上限放入并打 Partial 标记。
func Assemble(chunks []model.RetrievedChunk, budget int) Assembly {
	if budget < 1 || len(chunks) == 0 {
		return Assembly{Blocks: []Block{}}
	}

	ordered := make([]model.RetrievedChunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})

	out := Assembly{Blocks: []Block{}}
	for i, c := range ordered {
		tokens := c.TokenCount
		if tokens <= 0 {
			tokens = tokenizer.Count(c.TextContent)
		}

		if out.TokensUsed+tokens <= budget {
			out.Blocks = append(out.Blocks, Block{
				Text: c.TextContent,
				Citation: model.Citation{
					DocumentID: c.DocumentID,
					FileName:   c.FileName,
					ChunkIndex: c.ChunkIndex,
					Score:      c.Score,
				},
			})
			out.TokensUsed += tokens
			continue
		}

		// 只有第一块允许截断，其余超预算块整块跳过
		if i == 0 && len(out.Blocks) == 0 {
			text, used := truncate(c.TextContent, budget)
			out.Blocks = append(out.Blocks, Block{
				Text: text,
				Citation: model.Citation{
					DocumentID: c.DocumentID,
					FileName:   c.FileName,
					ChunkIndex: c.ChunkIndex,
					Score:      c.Score,
					Partial:    true,
				},
			})
			out.TokensUsed += used
			out.Truncated = true
		}
	}
	return out
}

// truncate 把文本截断到最多 budget 个 token，按 token 边界切。
func truncate(text string, budget int) (string, int) {
	spans := tokenizer.Split(text)
	if len(spans) <= budget {
		return text, len(spans)
	}
	runes := []rune(text)
	end := spans[budget-1].End
	return string(runes[spans[0].Start:end]), budget
}
