package vectorindex

import (
	"context"
	"testing"

	"docuchat-go/pkg/ai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 维度与范围校验发生在请求构造之前，无需真实的 ES 连接。

func TestESSearchDimensionMismatch(t *testing.T) {
	idx := &ESIndex{indexName: "chunk_vectors", dims: 3}

	_, err := idx.Search(context.Background(), []float32{1, 0},
		Scope{UserID: 1, DocumentIDs: []string{"doc-a"}}, 5)
	require.Error(t, err)
	assert.Equal(t, ai.KindValidation, ai.KindOf(err))
	assert.Contains(t, err.Error(), "重新处理文档")
}

func TestESSearchEmptyScopeShortCircuits(t *testing.T) {
	idx := &ESIndex{indexName: "chunk_vectors", dims: 3}

	hits, err := idx.Search(context.Background(), []float32{1, 0, 0},
		Scope{UserID: 1, DocumentIDs: nil}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = idx.Search(context.Background(), []float32{1, 0, 0},
		Scope{UserID: 1, DocumentIDs: []string{"doc-a"}}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
