package service

import (
	"context"
	"fmt"

	"docuchat-go/internal/model"
	"docuchat-go/internal/repository"
	"docuchat-go/internal/vectorindex"
	"docuchat-go/pkg/log"
)

// QueryEmbedder 把查询文本转为向量。
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, ownerID uint, query string) ([]float32, error)
}

// RetrievalService 执行语义检索并补全命中元数据。
type RetrievalService interface {
	Retrieve(ctx context.Context, userID uint, query string, scopeDocIDs []string, topK int) ([]model.RetrievedChunk, error)
}

type retrievalService struct {
	docRepo  repository.DocumentRepository
	index    vectorindex.Index
	embedder QueryEmbedder
	defaultK int
	maxK     int
}

// NewRetrievalService 创建 RetrievalService 实例。
func NewRetrievalService(
	docRepo repository.DocumentRepository,
	index vectorindex.Index,
	embedder QueryEmbedder,
	defaultK, maxK int,
) RetrievalService {
	if defaultK < 1 {
		defaultK = 5
	}
	if maxK < defaultK {
		maxK = defaultK
	}
	return &retrievalService{
		docRepo:  docRepo,
		index:    index,
		embedder: embedder,
		defaultK: defaultK,
		maxK:     maxK,
	}
}

// Retrieve 嵌入查询并在用户已索引文档内检索。
// 可见范围永远是显式白名单：未完成索引的文档绝不会出现在结果中。
func (s *retrievalService) Retrieve(ctx context.Context, userID uint, query string, scopeDocIDs []string, topK int) ([]model.RetrievedChunk, error) {
	k := topK
	if k < 1 {
		k = s.defaultK
	}
	if k > s.maxK {
		k = s.maxK
	}

	allowed, err := s.docRepo.ListIndexedIDs(userID, scopeDocIDs)
	if err != nil {
		return nil, fmt.Errorf("查询可检索文档失败: %w", err)
	}
	if len(allowed) == 0 {
		log.Infof("[RetrievalService] 用户 %d 无已索引文档，返回空结果", userID)
		return []model.RetrievedChunk{}, nil
	}

	queryVector, err := s.embedder.EmbedQuery(ctx, userID, query)
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}

	hits, err := s.index.Search(ctx, queryVector, vectorindex.Scope{
		UserID:      userID,
		DocumentIDs: allowed,
	}, k)
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	// 补全文件名用于引用展示
	docIDs := make([]string, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		if _, ok := seen[h.DocumentID]; !ok {
			seen[h.DocumentID] = struct{}{}
			docIDs = append(docIDs, h.DocumentID)
		}
	}
	docs, err := s.docRepo.FindByIDs(docIDs)
	if err != nil {
		return nil, fmt.Errorf("查询文档元数据失败: %w", err)
	}
	names := make(map[string]string, len(docs))
	for _, d := range docs {
		names[d.ID] = d.FileName
	}

	results := make([]model.RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		results = append(results, model.RetrievedChunk{
			DocumentID:   h.DocumentID,
			FileName:     names[h.DocumentID],
			ChunkIndex:   h.ChunkIndex,
			TextContent:  h.TextContent,
			TokenCount:   h.TokenCount,
			Score:        h.Score,
			DocCreatedAt: h.DocCreatedAt,
		})
	}
	return results, nil
}
