package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"docuchat-go/internal/model"
	"docuchat-go/internal/vectorindex"
	"docuchat-go/pkg/ai"
	"docuchat-go/pkg/storage"
	"docuchat-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// --- 测试替身 ---

type memDocRepo struct {
	mu   sync.Mutex
	docs map[string]*model.Document
}

func newMemDocRepo() *memDocRepo {
	return &memDocRepo{docs: make(map[string]*model.Document)}
}

func (r *memDocRepo) Create(doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *memDocRepo) FindByID(id string) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *doc
	return &cp, nil
}

func (r *memDocRepo) FindOwned(id string, userID uint) (*model.Document, error) {
	doc, err := r.FindByID(id)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return doc, nil
}

func (r *memDocRepo) FindByIDs(ids []string) ([]model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Document
	for _, id := range ids {
		if doc, ok := r.docs[id]; ok {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (r *memDocRepo) ListByUser(userID uint, status model.ProcessingState) ([]model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Document
	for _, doc := range r.docs {
		if doc.UserID == userID && (status == "" || doc.Status == status) {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (r *memDocRepo) ListIndexedIDs(userID uint, within []string) ([]string, error) {
	docs, _ := r.ListByUser(userID, model.StateIndexed)
	allow := map[string]struct{}{}
	for _, id := range within {
		allow[id] = struct{}{}
	}
	var ids []string
	for _, doc := range docs {
		if len(within) > 0 {
			if _, ok := allow[doc.ID]; !ok {
				continue
			}
		}
		ids = append(ids, doc.ID)
	}
	return ids, nil
}

func (r *memDocRepo) UpdateState(id string, to model.ProcessingState, failReason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if !model.CanTransition(doc.Status, to) {
		return fmt.Errorf("invalid transition %s -> %s", doc.Status, to)
	}
	doc.Status = to
	doc.FailReason = failReason
	return nil
}

func (r *memDocRepo) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	return nil
}

type memChunkRepo struct{}

func (memChunkRepo) BatchCreate([]model.Chunk) error                    { return nil }
func (memChunkRepo) FindByDocumentID(string) ([]model.Chunk, error)     { return nil, nil }
func (memChunkRepo) DeleteByDocumentID(string) error                    { return nil }

type fakeQueue struct {
	mu    sync.Mutex
	tasks []tasks.DocumentTask
	err   error
}

func (q *fakeQueue) EnqueueDocumentTask(_ context.Context, task tasks.DocumentTask) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

// --- 构造 ---

type docFixture struct {
	repo  *memDocRepo
	store *storage.MemoryStore
	index *vectorindex.MemoryIndex
	queue *fakeQueue
	svc   DocumentService
}

func newDocFixture(maxSize int64) *docFixture {
	f := &docFixture{
		repo:  newMemDocRepo(),
		store: storage.NewMemoryStore(),
		index: vectorindex.NewMemoryIndex(),
		queue: &fakeQueue{},
	}
	f.svc = NewDocumentService(f.repo, memChunkRepo{}, f.store, f.index, f.queue, maxSize)
	return f
}

// --- 用例 ---

func TestSubmitCreatesUploadedDocumentAndEnqueues(t *testing.T) {
	f := newDocFixture(1024)

	doc, err := f.svc.Submit(context.Background(), 1, "notes.txt", "text/plain",
		11, strings.NewReader("hello world"))
	require.NoError(t, err)

	assert.Equal(t, model.StateUploaded, doc.Status)
	assert.Equal(t, uint(1), doc.UserID)
	assert.Equal(t, "notes.txt", doc.FileName)
	assert.NotEmpty(t, doc.ID)

	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, doc.ID, f.queue.tasks[0].DocumentID)
	assert.Equal(t, doc.ObjectKey, f.queue.tasks[0].ObjectKey)

	obj, err := f.store.Get(context.Background(), doc.ObjectKey)
	require.NoError(t, err)
	obj.Close()
}

func TestSubmitRejectsUnsupportedType(t *testing.T) {
	f := newDocFixture(1024)

	_, err := f.svc.Submit(context.Background(), 1, "image.png", "image/png",
		5, strings.NewReader("xxxxx"))
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.Empty(t, f.queue.tasks)
}

func TestSubmitRejectsOversizedFile(t *testing.T) {
	f := newDocFixture(10)

	_, err := f.svc.Submit(context.Background(), 1, "big.txt", "text/plain",
		11, strings.NewReader("hello world"))
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Empty(t, f.queue.tasks)
}

func TestSubmitEnqueueFailureMarksFailed(t *testing.T) {
	f := newDocFixture(1024)
	f.queue.err = errors.New("kafka unreachable")

	_, err := f.svc.Submit(context.Background(), 1, "notes.txt", "text/plain",
		5, strings.NewReader("hello"))
	require.Error(t, err)

	docs, _ := f.repo.ListByUser(1, model.StateFailed)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].FailReason, "任务投递失败")
	// 失败原因以错误类别开头，与处理管道的落库口径一致
	assert.True(t, strings.HasPrefix(docs[0].FailReason, string(ai.KindTransient)+":"),
		"FailReason = %q", docs[0].FailReason)
}

func TestGetStatusIsOwnerScoped(t *testing.T) {
	f := newDocFixture(1024)
	doc, err := f.svc.Submit(context.Background(), 1, "notes.txt", "text/plain",
		5, strings.NewReader("hello"))
	require.NoError(t, err)

	got, err := f.svc.GetStatus(1, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)

	_, err = f.svc.GetStatus(2, doc.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestDeleteRemovesVectorsAndObject(t *testing.T) {
	f := newDocFixture(1024)
	doc, err := f.svc.Submit(context.Background(), 1, "notes.txt", "text/plain",
		5, strings.NewReader("hello"))
	require.NoError(t, err)

	require.NoError(t, f.index.Add(context.Background(), []model.ChunkVector{
		{VectorID: doc.ID + "-0", DocumentID: doc.ID, UserID: 1, Vector: []float32{1, 0}},
	}))

	require.NoError(t, f.svc.Delete(context.Background(), 1, doc.ID))

	assert.Zero(t, f.index.Len())
	_, err = f.repo.FindByID(doc.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	_, err = f.store.Get(context.Background(), doc.ObjectKey)
	assert.Error(t, err)
}

func TestReprocessOnlyFromFailed(t *testing.T) {
	f := newDocFixture(1024)
	doc, err := f.svc.Submit(context.Background(), 1, "notes.txt", "text/plain",
		5, strings.NewReader("hello"))
	require.NoError(t, err)

	// uploaded 状态不允许重新触发
	err = f.svc.Reprocess(context.Background(), 1, doc.ID)
	assert.ErrorIs(t, err, ErrNotReprocessable)

	// 走到 failed 之后允许
	require.NoError(t, f.repo.UpdateState(doc.ID, model.StateExtracting, ""))
	require.NoError(t, f.repo.UpdateState(doc.ID, model.StateFailed, "permanent-provider: boom"))

	require.NoError(t, f.svc.Reprocess(context.Background(), 1, doc.ID))
	got, _ := f.repo.FindByID(doc.ID)
	assert.Equal(t, model.StateUploaded, got.Status)
	assert.Len(t, f.queue.tasks, 2)
}
