// Package service 实现业务编排层。
package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"docuchat-go/internal/model"
	"docuchat-go/internal/repository"
	"docuchat-go/internal/vectorindex"
	"docuchat-go/pkg/ai"
	"docuchat-go/pkg/log"
	"docuchat-go/pkg/storage"
	"docuchat-go/pkg/tasks"

	"github.com/google/uuid"
)

// 上传接口接受的 MIME 类型白名单。
var allowedContentTypes = map[string]struct{}{
	"text/plain":      {},
	"application/pdf": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
}

var (
	// ErrUnsupportedType 表示上传的文件类型不在白名单内。
	ErrUnsupportedType = errors.New("unsupported content type")
	// ErrFileTooLarge 表示上传的文件超过大小上限。
	ErrFileTooLarge = errors.New("file exceeds size limit")
	// ErrNotReprocessable 表示文档当前状态不允许重新触发处理。
	ErrNotReprocessable = errors.New("document is not in failed state")
)

// TaskQueue 抽象文档任务的投递，Kafka 生产者是默认实现。
type TaskQueue interface {
	EnqueueDocumentTask(ctx context.Context, task tasks.DocumentTask) error
}

// DocumentService 定义文档生命周期操作。
type DocumentService interface {
	Submit(ctx context.Context, userID uint, fileName, contentType string, size int64, content io.Reader) (*model.Document, error)
	GetStatus(userID uint, documentID string) (*model.Document, error)
	List(userID uint, status model.ProcessingState) ([]model.Document, error)
	Delete(ctx context.Context, userID uint, documentID string) error
	Reprocess(ctx context.Context, userID uint, documentID string) error
}

type documentService struct {
	docRepo     repository.DocumentRepository
	chunkRepo   repository.ChunkRepository
	store       storage.ObjectStore
	index       vectorindex.Index
	queue       TaskQueue
	maxSizeByte int64
}

// NewDocumentService 创建 DocumentService 实例。
func NewDocumentService(
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	store storage.ObjectStore,
	index vectorindex.Index,
	queue TaskQueue,
	maxSizeBytes int64,
) DocumentService {
	return &documentService{
		docRepo:     docRepo,
		chunkRepo:   chunkRepo,
		store:       store,
		index:       index,
		queue:       queue,
		maxSizeByte: maxSizeBytes,
	}
}

// Submit 校验并持久化上传文件，创建 uploaded 状态的文档记录并投递处理任务。
func (s *documentService) Submit(ctx context.Context, userID uint, fileName, contentType string, size int64, content io.Reader) (*model.Document, error) {
	if _, ok := allowedContentTypes[contentType]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	if s.maxSizeByte > 0 && size > s.maxSizeByte {
		return nil, fmt.Errorf("%w: %d > %d", ErrFileTooLarge, size, s.maxSizeByte)
	}

	doc := &model.Document{
		ID:          uuid.NewString(),
		UserID:      userID,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   size,
		Status:      model.StateUploaded,
	}
	doc.ObjectKey = "documents/" + doc.ID

	if err := s.store.Put(ctx, doc.ObjectKey, content, size, contentType); err != nil {
		return nil, fmt.Errorf("保存文件到对象存储失败: %w", err)
	}
	if err := s.docRepo.Create(doc); err != nil {
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}

	if err := s.enqueue(ctx, doc); err != nil {
		// 投递失败时直接标记失败，所有者可重新触发
		reason := string(ai.KindTransient) + ": 任务投递失败: " + err.Error()
		if updateErr := s.docRepo.UpdateState(doc.ID, model.StateFailed, reason); updateErr != nil {
			log.Errorf("[DocumentService] 标记投递失败状态出错: %v", updateErr)
		}
		return nil, fmt.Errorf("投递处理任务失败: %w", err)
	}

	log.Infof("[DocumentService] 文档已接收: ID=%s, FileName=%s, Size=%d", doc.ID, fileName, size)
	return doc, nil
}

// GetStatus 返回文档当前状态，是纯读操作。
func (s *documentService) GetStatus(userID uint, documentID string) (*model.Document, error) {
	return s.docRepo.FindOwned(documentID, userID)
}

func (s *documentService) List(userID uint, status model.ProcessingState) ([]model.Document, error) {
	return s.docRepo.ListByUser(userID, status)
}

// Delete 同步删除文档的向量、分块、数据库记录与原始文件。
// 向量先删，保证删除过程中检索不会命中将亡文档。
func (s *documentService) Delete(ctx context.Context, userID uint, documentID string) error {
	doc, err := s.docRepo.FindOwned(documentID, userID)
	if err != nil {
		return err
	}
	if err := s.index.DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("删除向量失败: %w", err)
	}
	if err := s.docRepo.Delete(doc.ID); err != nil {
		return fmt.Errorf("删除文档记录失败: %w", err)
	}
	if err := s.store.Delete(ctx, doc.ObjectKey); err != nil {
		// 对象存储残留不影响正确性，记录后继续
		log.Warnf("[DocumentService] 删除原始文件失败: %s, %v", doc.ObjectKey, err)
	}
	log.Infof("[DocumentService] 文档已删除: ID=%s", doc.ID)
	return nil
}

// Reprocess 把 failed 文档重置回 uploaded 并重新投递任务。
func (s *documentService) Reprocess(ctx context.Context, userID uint, documentID string) error {
	doc, err := s.docRepo.FindOwned(documentID, userID)
	if err != nil {
		return err
	}
	if doc.Status != model.StateFailed {
		return fmt.Errorf("%w: 当前状态 %s", ErrNotReprocessable, doc.Status)
	}
	if err := s.docRepo.UpdateState(doc.ID, model.StateUploaded, ""); err != nil {
		return err
	}
	if err := s.enqueue(ctx, doc); err != nil {
		return fmt.Errorf("重新投递处理任务失败: %w", err)
	}
	log.Infof("[DocumentService] 文档重新触发处理: ID=%s", doc.ID)
	return nil
}

func (s *documentService) enqueue(ctx context.Context, doc *model.Document) error {
	return s.queue.EnqueueDocumentTask(ctx, tasks.DocumentTask{
		DocumentID:  doc.ID,
		UserID:      doc.UserID,
		FileName:    doc.FileName,
		ContentType: doc.ContentType,
		ObjectKey:   doc.ObjectKey,
	})
}
