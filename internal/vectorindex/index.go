// Package vectorindex 定义向量索引的抽象以及两种实现：
// Elasticsearch dense_vector kNN 与进程内暴力余弦检索。
package vectorindex

import (
	"context"

	"docuchat-go/internal/model"
)

// Scope 限定一次检索的可见范围。DocumentIDs 是已索引文档的白名单，
// 调用方必须显式给出；空白名单意味着没有任何可检索文档，直接返回空结果。
type Scope struct {
	UserID      uint
	DocumentIDs []string
}

// Hit 是一次相似度检索的命中。
type Hit struct {
	DocumentID   string
	ChunkIndex   int
	TextContent  string
	TokenCount   int
	Score        float64
	DocCreatedAt int64
}

// Index 是向量索引的统一入口。
// Search 的结果按相似度降序排列，同分时按 ChunkIndex 升序、
// 再按文档创建时间升序，保证排序确定。
type Index interface {
	Add(ctx context.Context, vectors []model.ChunkVector) error
	Search(ctx context.Context, queryVector []float32, scope Scope, k int) ([]Hit, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}
