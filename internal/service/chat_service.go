package service

import (
	"context"
	"errors"
	"strings"

	"docuchat-go/internal/assembler"
	"docuchat-go/internal/config"
	"docuchat-go/internal/model"
	"docuchat-go/internal/repository"
	"docuchat-go/pkg/ai"
	"docuchat-go/pkg/llm"
	"docuchat-go/pkg/log"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrEmptyQuestion 表示提问内容为空。
	ErrEmptyQuestion = errors.New("question must not be empty")
	// ErrSessionNotFound 表示会话不存在或不属于该用户。
	ErrSessionNotFound = errors.New("session not found")
)

// CompletionFactory 按所有者构造补全客户端。
type CompletionFactory interface {
	CompletionClient(ownerID uint) (llm.Client, error)
}

// AskResult 是一轮问答的结果。出错的轮次同样落库并返回，IsError 标识。
// Partial 仅表示生成在中途被打断；上下文被预算截断时用 ContextTruncated 表达。
type AskResult struct {
	SessionID        string           `json:"session_id"`
	Answer           string           `json:"answer"`
	Citations        []model.Citation `json:"citations,omitempty"`
	Partial          bool             `json:"partial,omitempty"`
	ContextTruncated bool             `json:"context_truncated,omitempty"`
	IsError          bool             `json:"is_error,omitempty"`
}

// ChatService 编排一轮检索增强的问答。
type ChatService interface {
	// Ask 阻塞式问答，完整答案一次返回。
	Ask(ctx context.Context, userID uint, sessionID, question string, scopeDocIDs []string) (*AskResult, error)
	// AskStream 流式问答，增量片段写入 writer，收尾后返回完整结果。
	AskStream(ctx context.Context, userID uint, sessionID, question string, scopeDocIDs []string, writer llm.MessageWriter) (*AskResult, error)
}

type chatService struct {
	chatRepo    repository.ChatRepository
	retrieval   RetrievalService
	completions CompletionFactory
	locker      SessionLocker
	prompt      config.PromptConfig
	gen         config.GenerationConfig
	budget      int
	historyLim  int
}

// NewChatService 创建 ChatService 实例。
func NewChatService(
	chatRepo repository.ChatRepository,
	retrieval RetrievalService,
	completions CompletionFactory,
	locker SessionLocker,
	cfg config.ChatConfig,
	prompt config.PromptConfig,
	gen config.GenerationConfig,
) ChatService {
	budget := cfg.ContextTokenBudget
	if budget < 1 {
		budget = 2000
	}
	historyLim := cfg.HistoryLimit
	if historyLim < 1 {
		historyLim = 20
	}
	return &chatService{
		chatRepo:    chatRepo,
		retrieval:   retrieval,
		completions: completions,
		locker:      locker,
		prompt:      prompt,
		gen:         gen,
		budget:      budget,
		historyLim:  historyLim,
	}
}

func (s *chatService) Ask(ctx context.Context, userID uint, sessionID, question string, scopeDocIDs []string) (*AskResult, error) {
	return s.ask(ctx, userID, sessionID, question, scopeDocIDs, nil)
}

func (s *chatService) AskStream(ctx context.Context, userID uint, sessionID, question string, scopeDocIDs []string, writer llm.MessageWriter) (*AskResult, error) {
	return s.ask(ctx, userID, sessionID, question, scopeDocIDs, writer)
}

// ask 是两种问答形态共享的编排流程。
// 同一会话内的提问由分布式锁串行化，保证消息序号严格递增。
func (s *chatService) ask(ctx context.Context, userID uint, sessionID, question string, scopeDocIDs []string, writer llm.MessageWriter) (*AskResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	session, err := s.loadOrCreateSession(userID, sessionID, scopeDocIDs, question)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	history, err := s.chatRepo.Messages(session.ID, s.historyLim)
	if err != nil {
		return nil, err
	}

	// 检索失败不会丢轮：以 assistant 错误消息收尾
	chunks, err := s.retrieval.Retrieve(ctx, userID, question, session.ScopedDocumentIDs(), 0)
	if err != nil {
		log.Errorf("[ChatService] 检索失败, SessionID: %s, Error: %v", session.ID, err)
		return s.finishWithError(session.ID, question, err)
	}

	assembly := assembler.Assemble(chunks, s.budget)
	messages := s.buildMessages(history, assembly, question)

	if err := s.appendMessage(session.ID, ai.RoleUser, question, nil, false, false); err != nil {
		return nil, err
	}

	client, err := s.completions.CompletionClient(userID)
	if err != nil {
		return s.closeTurnWithError(session.ID, err)
	}

	var answer string
	var genErr error
	if writer == nil {
		answer, genErr = client.Complete(ctx, messages, s.genParams())
	} else {
		capture := &captureWriter{inner: writer}
		genErr = client.StreamChat(ctx, messages, s.genParams(), capture)
		answer = capture.String()
	}

	citations := citationsOf(assembly)

	if genErr != nil {
		// 已产出的部分答案带 partial 标记落库，否则落一条错误消息
		if answer != "" {
			if err := s.appendMessage(session.ID, ai.RoleAssistant, answer, citations, true, false); err != nil {
				return nil, err
			}
			log.Warnf("[ChatService] 流式生成中断, SessionID: %s, Error: %v", session.ID, genErr)
			return &AskResult{SessionID: session.ID, Answer: answer, Citations: citations, Partial: true}, nil
		}
		return s.closeTurnWithError(session.ID, genErr)
	}

	// 答案完整生成，即使上下文被截断也不算 partial
	if err := s.appendMessage(session.ID, ai.RoleAssistant, answer, citations, false, false); err != nil {
		return nil, err
	}
	return &AskResult{
		SessionID:        session.ID,
		Answer:           answer,
		Citations:        citations,
		ContextTruncated: assembly.Truncated,
	}, nil
}

func (s *chatService) loadOrCreateSession(userID uint, sessionID string, scopeDocIDs []string, question string) (*model.ChatSession, error) {
	if sessionID != "" {
		session, err := s.chatRepo.FindSession(sessionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrSessionNotFound
			}
			return nil, err
		}
		if session.UserID != userID {
			return nil, ErrSessionNotFound
		}
		return session, nil
	}

	session := &model.ChatSession{
		ID:     uuid.NewString(),
		UserID: userID,
		Title:  sessionTitle(question),
	}
	if err := session.SetScopedDocumentIDs(scopeDocIDs); err != nil {
		return nil, err
	}
	if err := s.chatRepo.CreateSession(session); err != nil {
		return nil, err
	}
	return session, nil
}

// buildMessages 组装提示：系统消息携带规则与引用上下文，其后是历史与本轮提问。
func (s *chatService) buildMessages(history []model.ChatMessage, assembly assembler.Assembly, question string) []ai.Message {
	var sb strings.Builder
	sb.WriteString(s.prompt.Rules)
	if len(assembly.Blocks) > 0 {
		sb.WriteString("\n")
		sb.WriteString(s.prompt.RefStart)
		sb.WriteString("\n")
		for _, b := range assembly.Blocks {
			sb.WriteString(b.Text)
			sb.WriteString("\n")
		}
		sb.WriteString(s.prompt.RefEnd)
	} else if s.prompt.NoResultText != "" {
		sb.WriteString("\n")
		sb.WriteString(s.prompt.NoResultText)
	}

	messages := make([]ai.Message, 0, len(history)+2)
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: sb.String()})
	for _, m := range history {
		if m.IsError {
			continue
		}
		messages = append(messages, ai.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: question})
	return messages
}

// genParams 直接透传配置中的指针，未配置的参数保持 nil，显式的 0 也能传给提供方。
func (s *chatService) genParams() *ai.GenerationParams {
	return &ai.GenerationParams{
		Temperature: s.gen.Temperature,
		TopP:        s.gen.TopP,
		MaxTokens:   s.gen.MaxTokens,
	}
}

// finishWithError 在用户消息尚未落库时记录整轮（用户消息 + 错误回复）。
func (s *chatService) finishWithError(sessionID, question string, cause error) (*AskResult, error) {
	if err := s.appendMessage(sessionID, ai.RoleUser, question, nil, false, false); err != nil {
		return nil, err
	}
	return s.closeTurnWithError(sessionID, cause)
}

// closeTurnWithError 以 assistant 错误消息收尾当前轮次。
func (s *chatService) closeTurnWithError(sessionID string, cause error) (*AskResult, error) {
	content := errorTurnText(cause)
	if err := s.appendMessage(sessionID, ai.RoleAssistant, content, nil, false, true); err != nil {
		return nil, err
	}
	return &AskResult{SessionID: sessionID, Answer: content, IsError: true}, nil
}

func (s *chatService) appendMessage(sessionID, role, content string, citations []model.Citation, partial, isError bool) error {
	msg := &model.ChatMessage{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Partial:   partial,
		IsError:   isError,
	}
	if err := msg.SetCitations(citations); err != nil {
		return err
	}
	return s.chatRepo.AppendMessage(msg)
}

// errorTurnText 生成面向用户的错误回复，带错误类别前缀便于排查。
func errorTurnText(cause error) string {
	return string(ai.KindOf(cause)) + ": 本轮回答生成失败，请稍后重试。"
}

func citationsOf(assembly assembler.Assembly) []model.Citation {
	if len(assembly.Blocks) == 0 {
		return nil
	}
	cs := make([]model.Citation, 0, len(assembly.Blocks))
	for _, b := range assembly.Blocks {
		cs = append(cs, b.Citation)
	}
	return cs
}

func sessionTitle(question string) string {
	runes := []rune(question)
	if len(runes) > 30 {
		return string(runes[:30])
	}
	return question
}

// captureWriter 在转发流式片段的同时累积完整答案。
type captureWriter struct {
	inner llm.MessageWriter
	sb    strings.Builder
}

func (w *captureWriter) WriteMessage(messageType int, data []byte) error {
	w.sb.Write(data)
	return w.inner.WriteMessage(messageType, data)
}

func (w *captureWriter) String() string {
	return w.sb.String()
}
