package model

// ChunkVector 是向量索引中的一条记录。
// DocCreatedAt 以 Unix 秒冗余存储，用于同分数命中的次级排序。
type ChunkVector struct {
	VectorID     string    `json:"vector_id"`
	DocumentID   string    `json:"document_id"`
	UserID       uint      `json:"user_id"`
	ChunkIndex   int       `json:"chunk_index"`
	TextContent  string    `json:"text_content"`
	TokenCount   int       `json:"token_count"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
	DocCreatedAt int64     `json:"doc_created_at"`
}
