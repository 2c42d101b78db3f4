package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"docuchat-go/internal/config"
	"docuchat-go/internal/model"
	"docuchat-go/pkg/ai"
	"docuchat-go/pkg/llm"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// --- 测试替身 ---

type fakeChatRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.ChatSession
	messages map[string][]model.ChatMessage
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{
		sessions: make(map[string]*model.ChatSession),
		messages: make(map[string][]model.ChatMessage),
	}
}

func (r *fakeChatRepo) CreateSession(session *model.ChatSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *session
	r.sessions[session.ID] = &cp
	return nil
}

func (r *fakeChatRepo) FindSession(id string) (*model.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeChatRepo) ListSessions(userID uint) ([]model.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ChatSession
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeChatRepo) UpdateSessionTitle(id, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.Title = title
	}
	return nil
}

func (r *fakeChatRepo) DeleteSession(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	delete(r.messages, id)
	return nil
}

func (r *fakeChatRepo) AppendMessage(msg *model.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[msg.SessionID]; !ok {
		return gorm.ErrRecordNotFound
	}
	msg.Ordinal = len(r.messages[msg.SessionID])
	msg.CreatedAt = time.Now()
	r.messages[msg.SessionID] = append(r.messages[msg.SessionID], *msg)
	return nil
}

func (r *fakeChatRepo) Messages(sessionID string, limit int) ([]model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

type fakeRetrieval struct {
	chunks []model.RetrievedChunk
	err    error
}

func (f *fakeRetrieval) Retrieve(_ context.Context, _ uint, _ string, _ []string, _ int) ([]model.RetrievedChunk, error) {
	return f.chunks, f.err
}

// fakeLLM 记录收到的消息与生成参数并返回固定答案。
type fakeLLM struct {
	mu        sync.Mutex
	answer    string
	fragments []string
	err       error
	calls     int
	lastMsgs  []ai.Message
	lastGen   *ai.GenerationParams
}

func (f *fakeLLM) Complete(_ context.Context, messages []ai.Message, gen *ai.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastMsgs = messages
	f.lastGen = gen
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeLLM) StreamChat(_ context.Context, messages []ai.Message, gen *ai.GenerationParams, writer llm.MessageWriter) error {
	f.mu.Lock()
	f.calls++
	f.lastMsgs = messages
	f.lastGen = gen
	f.mu.Unlock()
	for _, frag := range f.fragments {
		if err := writer.WriteMessage(1, []byte(frag)); err != nil {
			return err
		}
	}
	return f.err
}

type fakeCompletionFactory struct {
	client llm.Client
	err    error
}

func (f *fakeCompletionFactory) CompletionClient(_ uint) (llm.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

type noopLocker struct{}

func (noopLocker) Acquire(_ context.Context, _ string) (func(), error) {
	return func() {}, nil
}

type discardWriter struct{}

func (discardWriter) WriteMessage(_ int, _ []byte) error { return nil }

// --- 构造 ---

func floatPtr(v float64) *float64 { return &v }

func testChatService(repo *fakeChatRepo, retrieval RetrievalService, factory CompletionFactory, locker SessionLocker) ChatService {
	return NewChatService(repo, retrieval, factory, locker,
		config.ChatConfig{ContextTokenBudget: 100, HistoryLimit: 10},
		testPromptConfig(),
		config.GenerationConfig{Temperature: floatPtr(0.3)},
	)
}

func testPromptConfig() config.PromptConfig {
	return config.PromptConfig{
		Rules:        "只依据参考内容回答。",
		RefStart:     "<参考内容>",
		RefEnd:       "</参考内容>",
		NoResultText: "未检索到参考内容。",
	}
}

func someChunks() []model.RetrievedChunk {
	return []model.RetrievedChunk{
		{DocumentID: "doc-a", FileName: "a.txt", ChunkIndex: 0, TextContent: "alpha beta", TokenCount: 2, Score: 0.9},
		{DocumentID: "doc-b", FileName: "b.txt", ChunkIndex: 3, TextContent: "gamma delta", TokenCount: 2, Score: 0.8},
	}
}

// --- 用例 ---

func TestAskHappyPath(t *testing.T) {
	repo := newFakeChatRepo()
	llmClient := &fakeLLM{answer: "答案来自文档。"}
	svc := testChatService(repo, &fakeRetrieval{chunks: someChunks()},
		&fakeCompletionFactory{client: llmClient}, noopLocker{})

	result, err := svc.Ask(context.Background(), 1, "", "文档讲了什么？", nil)
	require.NoError(t, err)

	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, "答案来自文档。", result.Answer)
	assert.False(t, result.IsError)
	require.Len(t, result.Citations, 2)
	assert.Equal(t, "doc-a", result.Citations[0].DocumentID)
	assert.Equal(t, "a.txt", result.Citations[0].FileName)

	// 一轮产生两条消息：user 0 / assistant 1
	msgs, _ := repo.Messages(result.SessionID, 0)
	require.Len(t, msgs, 2)
	assert.Equal(t, ai.RoleUser, msgs[0].Role)
	assert.Equal(t, 0, msgs[0].Ordinal)
	assert.Equal(t, ai.RoleAssistant, msgs[1].Role)
	assert.Equal(t, 1, msgs[1].Ordinal)
	assert.Len(t, msgs[1].CitationList(), 2)

	// 系统消息携带规则与引用包裹
	require.NotEmpty(t, llmClient.lastMsgs)
	sys := llmClient.lastMsgs[0]
	assert.Equal(t, ai.RoleSystem, sys.Role)
	assert.Contains(t, sys.Content, "<参考内容>")
	assert.Contains(t, sys.Content, "alpha beta")
}

func TestAskNoContextStillInvokesLLM(t *testing.T) {
	repo := newFakeChatRepo()
	llmClient := &fakeLLM{answer: "通用回答"}
	svc := testChatService(repo, &fakeRetrieval{},
		&fakeCompletionFactory{client: llmClient}, noopLocker{})

	result, err := svc.Ask(context.Background(), 1, "", "没有文档时怎么办？", nil)
	require.NoError(t, err)

	assert.Equal(t, "通用回答", result.Answer)
	assert.Empty(t, result.Citations)
	assert.Equal(t, 1, llmClient.calls)
	assert.Contains(t, llmClient.lastMsgs[0].Content, "未检索到参考内容。")
}

func TestAskRetrievalFailureRecordsErrorTurn(t *testing.T) {
	repo := newFakeChatRepo()
	svc := testChatService(repo,
		&fakeRetrieval{err: ai.Errorf(ai.KindTransientExhausted, "openai", "3 attempts exhausted")},
		&fakeCompletionFactory{client: &fakeLLM{answer: "不应被调用"}}, noopLocker{})

	result, err := svc.Ask(context.Background(), 1, "", "会失败的提问", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Answer, "transient-provider-exhausted")

	// 错误轮次同样完整落库
	msgs, _ := repo.Messages(result.SessionID, 0)
	require.Len(t, msgs, 2)
	assert.Equal(t, ai.RoleUser, msgs[0].Role)
	assert.Equal(t, ai.RoleAssistant, msgs[1].Role)
	assert.True(t, msgs[1].IsError)
}

func TestAskLLMFailureRecordsErrorTurn(t *testing.T) {
	repo := newFakeChatRepo()
	svc := testChatService(repo, &fakeRetrieval{chunks: someChunks()},
		&fakeCompletionFactory{client: &fakeLLM{err: ai.Errorf(ai.KindPermanent, "openai", "invalid api key")}},
		noopLocker{})

	result, err := svc.Ask(context.Background(), 1, "", "提问", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	msgs, _ := repo.Messages(result.SessionID, 0)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsError)
	assert.Equal(t, 1, msgs[1].Ordinal)
}

func TestAskStreamPartialAnswerPersisted(t *testing.T) {
	repo := newFakeChatRepo()
	llmClient := &fakeLLM{
		fragments: []string{"部分", "答案"},
		err:       ai.NewError(ai.KindTransient, "openai", context.Canceled),
	}
	svc := testChatService(repo, &fakeRetrieval{chunks: someChunks()},
		&fakeCompletionFactory{client: llmClient}, noopLocker{})

	result, err := svc.AskStream(context.Background(), 1, "", "流式提问", nil, discardWriter{})
	require.NoError(t, err)

	assert.True(t, result.Partial)
	assert.Equal(t, "部分答案", result.Answer)
	assert.False(t, result.IsError)

	msgs, _ := repo.Messages(result.SessionID, 0)
	require.Len(t, msgs, 2)
	assert.Equal(t, "部分答案", msgs[1].Content)
	assert.True(t, msgs[1].Partial)
}

func TestAskCompleteAnswerWithTruncatedContext(t *testing.T) {
	repo := newFakeChatRepo()
	llmClient := &fakeLLM{answer: "完整答案"}
	// 单块 token 数远超预算，装配时会截断上下文
	oversized := []model.RetrievedChunk{
		{DocumentID: "doc-a", FileName: "a.txt", ChunkIndex: 0, TextContent: "alpha beta", TokenCount: 500, Score: 0.9},
	}
	svc := testChatService(repo, &fakeRetrieval{chunks: oversized},
		&fakeCompletionFactory{client: llmClient}, noopLocker{})

	result, err := svc.Ask(context.Background(), 1, "", "预算内的提问", nil)
	require.NoError(t, err)

	// 答案完整生成：partial 不置位，截断信息走 ContextTruncated 与引用标记
	assert.False(t, result.Partial)
	assert.True(t, result.ContextTruncated)
	require.Len(t, result.Citations, 1)
	assert.True(t, result.Citations[0].Partial)

	msgs, _ := repo.Messages(result.SessionID, 0)
	require.Len(t, msgs, 2)
	assert.False(t, msgs[1].Partial)
}

func TestAskPassesExplicitZeroGenerationParams(t *testing.T) {
	repo := newFakeChatRepo()
	llmClient := &fakeLLM{answer: "答"}
	zero := 0.0
	svc := NewChatService(repo, &fakeRetrieval{chunks: someChunks()},
		&fakeCompletionFactory{client: llmClient}, noopLocker{},
		config.ChatConfig{ContextTokenBudget: 100, HistoryLimit: 10},
		testPromptConfig(),
		config.GenerationConfig{Temperature: &zero},
	)

	_, err := svc.Ask(context.Background(), 1, "", "温度为 0 的提问", nil)
	require.NoError(t, err)

	// 显式配置的 0 要原样传给提供方，未配置的参数保持 nil
	require.NotNil(t, llmClient.lastGen)
	require.NotNil(t, llmClient.lastGen.Temperature)
	assert.Equal(t, 0.0, *llmClient.lastGen.Temperature)
	assert.Nil(t, llmClient.lastGen.TopP)
	assert.Nil(t, llmClient.lastGen.MaxTokens)
}

func TestAskEmptyQuestion(t *testing.T) {
	svc := testChatService(newFakeChatRepo(), &fakeRetrieval{},
		&fakeCompletionFactory{client: &fakeLLM{}}, noopLocker{})

	_, err := svc.Ask(context.Background(), 1, "", "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestAskSessionOwnership(t *testing.T) {
	repo := newFakeChatRepo()
	require.NoError(t, repo.CreateSession(&model.ChatSession{ID: "sess-1", UserID: 1}))

	svc := testChatService(repo, &fakeRetrieval{},
		&fakeCompletionFactory{client: &fakeLLM{answer: "x"}}, noopLocker{})

	_, err := svc.Ask(context.Background(), 2, "sess-1", "别人的会话", nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.Ask(context.Background(), 1, "no-such-session", "不存在的会话", nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAskErrorTurnsExcludedFromHistory(t *testing.T) {
	repo := newFakeChatRepo()
	llmClient := &fakeLLM{answer: "第二轮答案"}
	svc := testChatService(repo, &fakeRetrieval{chunks: someChunks()},
		&fakeCompletionFactory{client: llmClient}, noopLocker{})

	// 先制造一轮错误
	failing := testChatService(repo,
		&fakeRetrieval{err: errors.New("boom")},
		&fakeCompletionFactory{client: llmClient}, noopLocker{})
	result, err := failing.Ask(context.Background(), 1, "", "第一轮", nil)
	require.NoError(t, err)
	require.True(t, result.IsError)

	_, err = svc.Ask(context.Background(), 1, result.SessionID, "第二轮", nil)
	require.NoError(t, err)

	// 错误回复不会作为历史喂给模型
	for _, m := range llmClient.lastMsgs {
		assert.NotContains(t, m.Content, "生成失败")
	}
}

func TestConcurrentAsksSerializeOrdinals(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := NewRedisSessionLocker(rdb, 10*time.Second, 5*time.Millisecond, 5*time.Second)

	repo := newFakeChatRepo()
	require.NoError(t, repo.CreateSession(&model.ChatSession{ID: "sess-1", UserID: 1}))
	svc := testChatService(repo, &fakeRetrieval{chunks: someChunks()},
		&fakeCompletionFactory{client: &fakeLLM{answer: "答"}}, locker)

	const rounds = 8
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Ask(context.Background(), 1, "sess-1", fmt.Sprintf("并发提问 %d", i), nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, _ := repo.Messages("sess-1", 0)
	require.Len(t, msgs, rounds*2)
	for i, m := range msgs {
		assert.Equal(t, i, m.Ordinal)
		if i%2 == 0 {
			assert.Equal(t, ai.RoleUser, m.Role)
		} else {
			assert.Equal(t, ai.RoleAssistant, m.Role)
		}
	}
}
