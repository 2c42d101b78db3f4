package vectorindex

import (
	"context"
	"math"
	"sync"

	"docuchat-go/internal/model"
	"docuchat-go/pkg/ai"
)

// MemoryIndex 是进程内的暴力余弦检索实现，用于测试与本地开发。
type MemoryIndex struct {
	mu      sync.RWMutex
	vectors []model.ChunkVector
}

// NewMemoryIndex 创建一个空的内存索引。
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

// Add 追加向量记录。维度不一致视为调用方错误。
func (m *MemoryIndex) Add(_ context.Context, vectors []model.ChunkVector) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range vectors {
		if len(m.vectors) > 0 && len(v.Vector) != len(m.vectors[0].Vector) {
			return ai.Errorf(ai.KindValidation, "memory-index",
				"向量维度不一致: 期望 %d, 实际 %d", len(m.vectors[0].Vector), len(v.Vector))
		}
		m.vectors = append(m.vectors, v)
	}
	return nil
}

// Search 对白名单内的向量做全量余弦打分，排序规则与 ES 实现一致。
func (m *MemoryIndex) Search(_ context.Context, queryVector []float32, scope Scope, k int) ([]Hit, error) {
	if len(scope.DocumentIDs) == 0 || k < 1 {
		return []Hit{}, nil
	}

	allowed := make(map[string]struct{}, len(scope.DocumentIDs))
	for _, id := range scope.DocumentIDs {
		allowed[id] = struct{}{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]Hit, 0, k)
	for _, v := range m.vectors {
		if v.UserID != scope.UserID {
			continue
		}
		if _, ok := allowed[v.DocumentID]; !ok {
			continue
		}
		score, err := cosine(queryVector, v.Vector)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{
			DocumentID:   v.DocumentID,
			ChunkIndex:   v.ChunkIndex,
			TextContent:  v.TextContent,
			TokenCount:   v.TokenCount,
			Score:        score,
			DocCreatedAt: v.DocCreatedAt,
		})
	}

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// DeleteByDocument 移除某文档的全部向量。
func (m *MemoryIndex) DeleteByDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.vectors[:0]
	for _, v := range m.vectors {
		if v.DocumentID != documentID {
			kept = append(kept, v)
		}
	}
	m.vectors = kept
	return nil
}

// Len 返回当前索引中的向量条数。
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

func cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ai.Errorf(ai.KindValidation, "memory-index",
			"查询向量维度不匹配: %d vs %d，可能是嵌入模型变更所致，请重新处理文档", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
