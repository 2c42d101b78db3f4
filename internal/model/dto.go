package model

// RetrievedChunk 是一次检索命中的完整描述，供上下文装配与引用展示使用。
type RetrievedChunk struct {
	DocumentID   string  `json:"document_id"`
	FileName     string  `json:"file_name"`
	ChunkIndex   int     `json:"chunk_index"`
	TextContent  string  `json:"text_content"`
	TokenCount   int     `json:"token_count"`
	Score        float64 `json:"score"`
	DocCreatedAt int64   `json:"doc_created_at"`
}
