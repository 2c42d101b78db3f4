package repository

import (
	"docuchat-go/internal/model"

	"gorm.io/gorm"
)

// ChunkRepository 定义了文档分块的数据库操作。
type ChunkRepository interface {
	BatchCreate(chunks []model.Chunk) error
	FindByDocumentID(documentID string) ([]model.Chunk, error)
	DeleteByDocumentID(documentID string) error
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

func (r *chunkRepository) BatchCreate(chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.CreateInBatches(chunks, 100).Error
}

func (r *chunkRepository) FindByDocumentID(documentID string) ([]model.Chunk, error) {
	var chunks []model.Chunk
	if err := r.db.Where("document_id = ?", documentID).
		Order("chunk_index ASC").Find(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *chunkRepository) DeleteByDocumentID(documentID string) error {
	return r.db.Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error
}
