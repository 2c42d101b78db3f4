package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"docuchat-go/internal/config"
	"docuchat-go/internal/model"
	"docuchat-go/pkg/ai"
	"docuchat-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// ESIndex 基于 Elasticsearch dense_vector 的 kNN 检索实现 Index。
type ESIndex struct {
	client    *elasticsearch.Client
	indexName string
	dims      int
}

// NewESIndex 初始化 Elasticsearch 客户端并确保索引存在。
// dims 是嵌入向量的维度，建索引时写死在 mapping 中。
func NewESIndex(cfg config.ElasticsearchConfig, dims int) (*ESIndex, error) {
	esCfg := elasticsearch.Config{
		Addresses: strings.Split(cfg.Addresses, ","),
		Username:  cfg.Username,
		Password:  cfg.Password,
	}
	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("创建 Elasticsearch 客户端失败: %w", err)
	}

	idx := &ESIndex{client: client, indexName: cfg.IndexName, dims: dims}
	if err := idx.createIndexIfNotExists(context.Background()); err != nil {
		return nil, err
	}
	log.Info("Elasticsearch 向量索引初始化成功")
	return idx, nil
}

func (e *ESIndex) createIndexIfNotExists(ctx context.Context) error {
	res, err := e.client.Indices.Exists([]string{e.indexName}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("检查索引是否存在失败: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id":      { "type": "keyword" },
				"document_id":    { "type": "keyword" },
				"user_id":        { "type": "long" },
				"chunk_index":    { "type": "integer" },
				"text_content":   { "type": "text" },
				"token_count":    { "type": "integer" },
				"model_version":  { "type": "keyword" },
				"doc_created_at": { "type": "long" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, e.dims)

	createRes, err := e.client.Indices.Create(
		e.indexName,
		e.client.Indices.Create.WithContext(ctx),
		e.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("创建索引失败: %w", err)
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		body, _ := io.ReadAll(createRes.Body)
		return fmt.Errorf("创建索引返回错误: %s", string(body))
	}
	log.Infof("已创建向量索引 '%s', dims=%d", e.indexName, e.dims)
	return nil
}

// Add 通过 bulk 接口批量写入向量文档，以 vector_id 作为 _id 保证幂等。
func (e *ESIndex) Add(ctx context.Context, vectors []model.ChunkVector) error {
	if len(vectors) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, v := range vectors {
		meta := fmt.Sprintf(`{"index":{"_index":%q,"_id":%q}}`, e.indexName, v.VectorID)
		buf.WriteString(meta)
		buf.WriteByte('\n')
		doc, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("序列化向量文档失败: %w", err)
		}
		buf.Write(doc)
		buf.WriteByte('\n')
	}

	res, err := e.client.Bulk(
		bytes.NewReader(buf.Bytes()),
		e.client.Bulk.WithContext(ctx),
		e.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("批量写入向量失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("批量写入向量返回错误: %s", string(body))
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if bulkResp.Errors {
		return fmt.Errorf("bulk 写入部分失败, index=%s", e.indexName)
	}
	return nil
}

// Search 执行 kNN 检索。白名单为空直接返回空结果；
// 命中在 Go 侧重排一次，保证同分 tie-break 的确定性。
func (e *ESIndex) Search(ctx context.Context, queryVector []float32, scope Scope, k int) ([]Hit, error) {
	if len(scope.DocumentIDs) == 0 {
		return []Hit{}, nil
	}
	if k < 1 {
		return []Hit{}, nil
	}
	if e.dims > 0 && len(queryVector) != e.dims {
		return nil, ai.Errorf(ai.KindValidation, "es-index",
			"查询向量维度不匹配: %d, 索引为 %d，可能是嵌入模型变更所致，请重新处理文档", len(queryVector), e.dims)
	}

	query := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   queryVector,
			"k":              k,
			"num_candidates": k * 10,
			"filter": []interface{}{
				map[string]interface{}{"term": map[string]interface{}{"user_id": scope.UserID}},
				map[string]interface{}{"terms": map[string]interface{}{"document_id": scope.DocumentIDs}},
			},
		},
		"size":    k,
		"_source": []string{"document_id", "chunk_index", "text_content", "token_count", "doc_created_at"},
	}

	queryBytes, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("序列化检索请求失败: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.indexName),
		e.client.Search.WithBody(bytes.NewReader(queryBytes)),
	)
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("向量检索返回错误: %s", string(body))
	}

	var searchResp struct {
		Hits struct {
			Hits []struct {
				Score  float64 `json:"_score"`
				Source struct {
					DocumentID   string `json:"document_id"`
					ChunkIndex   int    `json:"chunk_index"`
					TextContent  string `json:"text_content"`
					TokenCount   int    `json:"token_count"`
					DocCreatedAt int64  `json:"doc_created_at"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("解析检索响应失败: %w", err)
	}

	hits := make([]Hit, 0, len(searchResp.Hits.Hits))
	for _, h := range searchResp.Hits.Hits {
		hits = append(hits, Hit{
			DocumentID:   h.Source.DocumentID,
			ChunkIndex:   h.Source.ChunkIndex,
			TextContent:  h.Source.TextContent,
			TokenCount:   h.Source.TokenCount,
			Score:        h.Score,
			DocCreatedAt: h.Source.DocCreatedAt,
		})
	}
	sortHits(hits)
	return hits, nil
}

// DeleteByDocument 删除某文档的全部向量。
func (e *ESIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	query := fmt.Sprintf(`{"query":{"term":{"document_id":%q}}}`, documentID)
	res, err := e.client.DeleteByQuery(
		[]string{e.indexName},
		strings.NewReader(query),
		e.client.DeleteByQuery.WithContext(ctx),
		e.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("删除文档向量失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("删除文档向量返回错误: %s", string(body))
	}
	return nil
}

// sortHits 按 Score 降序、ChunkIndex 升序、DocCreatedAt 升序稳定排序。
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].ChunkIndex != hits[j].ChunkIndex {
			return hits[i].ChunkIndex < hits[j].ChunkIndex
		}
		return hits[i].DocCreatedAt < hits[j].DocCreatedAt
	})
}
