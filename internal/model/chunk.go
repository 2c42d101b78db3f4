package model

// Chunk 对应 document_chunks 表，保存切分后的文本块。
// StartOffset/EndOffset 是原文中的 rune 偏移，保证可以从块还原出原文片段。
type Chunk struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID  string `gorm:"type:char(36);not null;index" json:"document_id"`
	ChunkIndex  int    `gorm:"not null" json:"chunk_index"`
	TextContent string `gorm:"type:text;not null" json:"text_content"`
	TokenCount  int    `gorm:"not null" json:"token_count"`
	StartOffset int    `gorm:"not null" json:"start_offset"`
	EndOffset   int    `gorm:"not null" json:"end_offset"`
}

// TableName 指定 GORM 使用的表名。
func (Chunk) TableName() string {
	return "document_chunks"
}
