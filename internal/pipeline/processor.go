// Package pipeline 实现文档处理管道：抽取、切块、嵌入、写入向量索引。
package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"

	"docuchat-go/internal/chunker"
	"docuchat-go/internal/model"
	"docuchat-go/internal/repository"
	"docuchat-go/internal/vectorindex"
	"docuchat-go/pkg/ai"
	"docuchat-go/pkg/embedding"
	"docuchat-go/pkg/log"
	"docuchat-go/pkg/storage"
	"docuchat-go/pkg/tasks"
)

// Extractor 从文件内容中抽取纯文本。
type Extractor interface {
	ExtractText(ctx context.Context, fileReader io.Reader, fileName, contentType string) (string, error)
}

// EmbedderFactory 按所有者构造嵌入客户端。
type EmbedderFactory interface {
	EmbeddingClient(ownerID uint) (embedding.Client, error)
}

// Options 是管道的切块与批处理参数。
type Options struct {
	ChunkSize      int
	ChunkOverlap   int
	EmbedBatchSize int
}

// Processor 驱动单个文档沿状态机推进直至 indexed 或 failed。
type Processor struct {
	store     storage.ObjectStore
	extractor Extractor
	embedders EmbedderFactory
	index     vectorindex.Index
	docRepo   repository.DocumentRepository
	chunkRepo repository.ChunkRepository
	opts      Options
}

// NewProcessor 创建一个文档处理器。
func NewProcessor(
	store storage.ObjectStore,
	extractor Extractor,
	embedders EmbedderFactory,
	index vectorindex.Index,
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	opts Options,
) *Processor {
	if opts.EmbedBatchSize < 1 {
		opts.EmbedBatchSize = 16
	}
	return &Processor{
		store:     store,
		extractor: extractor,
		embedders: embedders,
		index:     index,
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		opts:      opts,
	}
}

// Process 执行完整的处理流程。任何阶段出错都把文档置为 failed
// 并记录带错误类别前缀的原因；不做自动重试。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentTask) error {
	doc, err := p.docRepo.FindByID(task.DocumentID)
	if err != nil {
		return fmt.Errorf("查询文档记录失败: %w", err)
	}
	if doc.Status != model.StateUploaded {
		log.Warnf("[Processor] 文档 %s 当前状态为 %s，跳过处理", doc.ID, doc.Status)
		return nil
	}

	// --- 步骤 1: 抽取文本 ---
	log.Infof("[Processor] 步骤 1: 开始抽取文本, DocumentID: %s", doc.ID)
	if err := p.docRepo.UpdateState(doc.ID, model.StateExtracting, ""); err != nil {
		return fmt.Errorf("更新状态到 extracting 失败: %w", err)
	}
	text, err := p.extract(ctx, task)
	if err != nil {
		return p.fail(doc.ID, err)
	}
	text = chunker.Sanitize(text)
	if text == "" {
		return p.fail(doc.ID, ai.Errorf(ai.KindValidation, "extractor", "empty document"))
	}

	// --- 步骤 2: 切分文本 ---
	log.Infof("[Processor] 步骤 2: 开始切分文本, DocumentID: %s", doc.ID)
	if err := p.docRepo.UpdateState(doc.ID, model.StateChunking, ""); err != nil {
		return fmt.Errorf("更新状态到 chunking 失败: %w", err)
	}

	// 重新触发处理时清理旧数据，保证幂等
	if err := p.chunkRepo.DeleteByDocumentID(doc.ID); err != nil {
		return p.fail(doc.ID, fmt.Errorf("清理旧分块失败: %w", err))
	}
	if err := p.index.DeleteByDocument(ctx, doc.ID); err != nil {
		return p.fail(doc.ID, fmt.Errorf("清理旧向量失败: %w", err))
	}

	pieces := chunker.New(p.opts.ChunkSize, p.opts.ChunkOverlap).Split(text)
	if len(pieces) == 0 {
		return p.fail(doc.ID, ai.Errorf(ai.KindValidation, "chunker", "empty document"))
	}

	chunks := make([]model.Chunk, 0, len(pieces))
	for _, piece := range pieces {
		chunks = append(chunks, model.Chunk{
			DocumentID:  doc.ID,
			ChunkIndex:  piece.Index,
			TextContent: piece.Text,
			TokenCount:  piece.TokenCount,
			StartOffset: piece.StartOffset,
			EndOffset:   piece.EndOffset,
		})
	}
	if err := p.chunkRepo.BatchCreate(chunks); err != nil {
		return p.fail(doc.ID, fmt.Errorf("写入分块失败: %w", err))
	}
	log.Infof("[Processor] 文本切分完成, DocumentID: %s, 共 %d 块", doc.ID, len(chunks))

	// --- 步骤 3: 生成嵌入 ---
	log.Infof("[Processor] 步骤 3: 开始生成嵌入, DocumentID: %s", doc.ID)
	if err := p.docRepo.UpdateState(doc.ID, model.StateEmbedding, ""); err != nil {
		return fmt.Errorf("更新状态到 embedding 失败: %w", err)
	}

	client, err := p.embedders.EmbeddingClient(doc.UserID)
	if err != nil {
		return p.fail(doc.ID, err)
	}
	vectors, err := p.embedAll(ctx, doc, chunks, client)
	if err != nil {
		return p.fail(doc.ID, err)
	}

	// --- 步骤 4: 写入向量索引 ---
	// 先收齐全部向量再一次性写入：失败时索引中不会留下半个文档
	log.Infof("[Processor] 步骤 4: 写入向量索引, DocumentID: %s, 共 %d 条", doc.ID, len(vectors))
	if err := p.index.Add(ctx, vectors); err != nil {
		return p.fail(doc.ID, fmt.Errorf("写入向量索引失败: %w", err))
	}

	if err := p.docRepo.UpdateState(doc.ID, model.StateIndexed, ""); err != nil {
		return fmt.Errorf("更新状态到 indexed 失败: %w", err)
	}
	log.Infof("[Processor] 文档处理完成, DocumentID: %s", doc.ID)
	return nil
}

func (p *Processor) extract(ctx context.Context, task tasks.DocumentTask) (string, error) {
	obj, err := p.store.Get(ctx, task.ObjectKey)
	if err != nil {
		return "", fmt.Errorf("读取原始文件失败: %w", err)
	}
	defer obj.Close()

	// 纯文本不必过 Tika
	if task.ContentType == "text/plain" {
		data, err := io.ReadAll(obj)
		if err != nil {
			return "", fmt.Errorf("读取文本文件失败: %w", err)
		}
		return string(data), nil
	}
	return p.extractor.ExtractText(ctx, obj, task.FileName, task.ContentType)
}

func (p *Processor) embedAll(ctx context.Context, doc *model.Document, chunks []model.Chunk, client embedding.Client) ([]model.ChunkVector, error) {
	vectors := make([]model.ChunkVector, 0, len(chunks))
	for start := 0; start < len(chunks); start += p.opts.EmbedBatchSize {
		end := start + p.opts.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.TextContent
		}

		embeddings, err := client.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		for i, c := range batch {
			vectors = append(vectors, model.ChunkVector{
				VectorID:     fmt.Sprintf("%s-%d", doc.ID, c.ChunkIndex),
				DocumentID:   doc.ID,
				UserID:       doc.UserID,
				ChunkIndex:   c.ChunkIndex,
				TextContent:  c.TextContent,
				TokenCount:   c.TokenCount,
				Vector:       embeddings[i],
				ModelVersion: client.Model(),
				DocCreatedAt: doc.CreatedAt.Unix(),
			})
		}
	}
	return vectors, nil
}

// fail 把文档置为 failed，原因以错误类别为前缀，截断到字段长度内。
func (p *Processor) fail(docID string, cause error) error {
	reason := fmt.Sprintf("%s: %s", ai.KindOf(cause), cause.Error())
	reason = strings.ReplaceAll(reason, "\n", " ")
	if len(reason) > 512 {
		reason = reason[:512]
	}
	if err := p.docRepo.UpdateState(docID, model.StateFailed, reason); err != nil {
		log.Errorf("[Processor] 标记文档失败状态出错, DocumentID: %s, Error: %v", docID, err)
	}
	log.Errorf("[Processor] 文档处理失败, DocumentID: %s, Reason: %s", docID, reason)
	return cause
}
