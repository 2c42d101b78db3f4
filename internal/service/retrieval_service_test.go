package service

import (
	"context"
	"testing"
	"time"

	"docuchat-go/internal/model"
	"docuchat-go/internal/vectorindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueryEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeQueryEmbedder) EmbedQuery(_ context.Context, _ uint, _ string) ([]float32, error) {
	return f.vector, f.err
}

func seedRetrievalFixture(t *testing.T) (*memDocRepo, *vectorindex.MemoryIndex) {
	t.Helper()
	repo := newMemDocRepo()
	index := vectorindex.NewMemoryIndex()
	now := time.Now()

	add := func(id string, userID uint, status model.ProcessingState) {
		require.NoError(t, repo.Create(&model.Document{
			ID: id, UserID: userID, FileName: id + ".txt",
			ContentType: "text/plain", Status: status, CreatedAt: now,
		}))
	}
	add("doc-indexed", 1, model.StateIndexed)
	add("doc-embedding", 1, model.StateEmbedding)
	add("doc-other-user", 2, model.StateIndexed)

	// doc-embedding 的向量已经写入索引，但文档尚未 indexed，不应被检索到
	require.NoError(t, index.Add(context.Background(), []model.ChunkVector{
		{VectorID: "i-0", DocumentID: "doc-indexed", UserID: 1, ChunkIndex: 0, TextContent: "可见内容", Vector: []float32{1, 0}, DocCreatedAt: now.Unix()},
		{VectorID: "i-1", DocumentID: "doc-indexed", UserID: 1, ChunkIndex: 1, TextContent: "次相关内容", Vector: []float32{0.9, 0.1}, DocCreatedAt: now.Unix()},
		{VectorID: "e-0", DocumentID: "doc-embedding", UserID: 1, ChunkIndex: 0, TextContent: "不可见内容", Vector: []float32{1, 0}, DocCreatedAt: now.Unix()},
		{VectorID: "o-0", DocumentID: "doc-other-user", UserID: 2, ChunkIndex: 0, TextContent: "他人内容", Vector: []float32{1, 0}, DocCreatedAt: now.Unix()},
	}))
	return repo, index
}

func TestRetrieveOnlyIndexedDocumentsVisible(t *testing.T) {
	repo, index := seedRetrievalFixture(t)
	svc := NewRetrievalService(repo, index, &fakeQueryEmbedder{vector: []float32{1, 0}}, 5, 20)

	chunks, err := svc.Retrieve(context.Background(), 1, "查询", nil, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	for _, c := range chunks {
		assert.Equal(t, "doc-indexed", c.DocumentID)
		assert.Equal(t, "doc-indexed.txt", c.FileName)
	}
	assert.GreaterOrEqual(t, chunks[0].Score, chunks[1].Score)
}

func TestRetrieveScopeNarrowsVisibility(t *testing.T) {
	repo, index := seedRetrievalFixture(t)
	svc := NewRetrievalService(repo, index, &fakeQueryEmbedder{vector: []float32{1, 0}}, 5, 20)

	// 范围只包含未索引文档时结果为空
	chunks, err := svc.Retrieve(context.Background(), 1, "查询", []string{"doc-embedding"}, 10)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = svc.Retrieve(context.Background(), 1, "查询", []string{"doc-indexed"}, 10)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestRetrieveKClamping(t *testing.T) {
	repo, index := seedRetrievalFixture(t)
	svc := NewRetrievalService(repo, index, &fakeQueryEmbedder{vector: []float32{1, 0}}, 1, 1)

	// topK 超上限被钳制到 maxK=1
	chunks, err := svc.Retrieve(context.Background(), 1, "查询", nil, 100)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)

	// topK<=0 回落到默认值
	chunks, err = svc.Retrieve(context.Background(), 1, "查询", nil, 0)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestRetrieveNoIndexedDocumentsSkipsEmbedding(t *testing.T) {
	repo := newMemDocRepo()
	index := vectorindex.NewMemoryIndex()
	embedder := &fakeQueryEmbedder{err: assert.AnError}
	svc := NewRetrievalService(repo, index, embedder, 5, 20)

	// 没有可检索文档时不调用嵌入，直接返回空结果
	chunks, err := svc.Retrieve(context.Background(), 1, "查询", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestRetrieveEmbeddingFailurePropagates(t *testing.T) {
	repo, index := seedRetrievalFixture(t)
	svc := NewRetrievalService(repo, index, &fakeQueryEmbedder{err: assert.AnError}, 5, 20)

	_, err := svc.Retrieve(context.Background(), 1, "查询", nil, 5)
	assert.Error(t, err)
}
