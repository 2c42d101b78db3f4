package repository

import (
	"errors"
	"fmt"

	"docuchat-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidTransition 表示一次不合法的状态迁移请求。
var ErrInvalidTransition = errors.New("invalid document state transition")

// DocumentRepository 定义了文档记录的数据库操作。
type DocumentRepository interface {
	Create(doc *model.Document) error
	FindByID(id string) (*model.Document, error)
	FindOwned(id string, userID uint) (*model.Document, error)
	FindByIDs(ids []string) ([]model.Document, error)
	ListByUser(userID uint, status model.ProcessingState) ([]model.Document, error)
	ListIndexedIDs(userID uint, within []string) ([]string, error)
	UpdateState(id string, to model.ProcessingState, failReason string) error
	Delete(id string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

func (r *documentRepository) FindByID(id string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.First(&doc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) FindOwned(id string, userID uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.First(&doc, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) FindByIDs(ids []string) ([]model.Document, error) {
	if len(ids) == 0 {
		return []model.Document{}, nil
	}
	var docs []model.Document
	if err := r.db.Where("id IN ?", ids).Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *documentRepository) ListByUser(userID uint, status model.ProcessingState) ([]model.Document, error) {
	var docs []model.Document
	q := r.db.Where("user_id = ?", userID).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// ListIndexedIDs 返回用户已索引的文档 ID。within 非空时在其中过滤，
// 作为检索可见性的白名单来源。
func (r *documentRepository) ListIndexedIDs(userID uint, within []string) ([]string, error) {
	var ids []string
	q := r.db.Model(&model.Document{}).
		Where("user_id = ? AND status = ?", userID, model.StateIndexed)
	if len(within) > 0 {
		q = q.Where("id IN ?", within)
	}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// UpdateState 在事务中校验并执行状态迁移。非法迁移返回 ErrInvalidTransition。
func (r *documentRepository) UpdateState(id string, to model.ProcessingState, failReason string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var doc model.Document
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&doc, "id = ?", id).Error; err != nil {
			return err
		}
		if !model.CanTransition(doc.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Status, to)
		}
		updates := map[string]interface{}{"status": to}
		if to == model.StateFailed {
			updates["fail_reason"] = failReason
		} else {
			updates["fail_reason"] = ""
		}
		return tx.Model(&model.Document{}).Where("id = ?", id).Updates(updates).Error
	})
}

// Delete 删除文档记录及其全部分块。
func (r *documentRepository) Delete(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&model.Chunk{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Document{}, "id = ?", id).Error
	})
}
