package service

import (
	"errors"

	"docuchat-go/internal/model"
	"docuchat-go/internal/repository"

	"gorm.io/gorm"
)

// SessionSummary 是会话列表项，附带最后一条消息与消息总数。
type SessionSummary struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	DocumentIDs  []string `json:"document_ids,omitempty"`
	MessageCount int      `json:"message_count"`
	LastMessage  string   `json:"last_message,omitempty"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

// SessionService 提供会话的查询与管理。
type SessionService interface {
	List(userID uint) ([]SessionSummary, error)
	Messages(userID uint, sessionID string) ([]model.ChatMessage, error)
	Delete(userID uint, sessionID string) error
}

type sessionService struct {
	chatRepo repository.ChatRepository
}

// NewSessionService 创建 SessionService 实例。
func NewSessionService(chatRepo repository.ChatRepository) SessionService {
	return &sessionService{chatRepo: chatRepo}
}

func (s *sessionService) List(userID uint) ([]SessionSummary, error) {
	sessions, err := s.chatRepo.ListSessions(userID)
	if err != nil {
		return nil, err
	}
	summaries := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		msgs, err := s.chatRepo.Messages(sess.ID, 0)
		if err != nil {
			return nil, err
		}
		summary := SessionSummary{
			ID:           sess.ID,
			Title:        sess.Title,
			DocumentIDs:  sess.ScopedDocumentIDs(),
			MessageCount: len(msgs),
			CreatedAt:    sess.CreatedAt.Format("2006-01-02 15:04:05"),
			UpdatedAt:    sess.UpdatedAt.Format("2006-01-02 15:04:05"),
		}
		if len(msgs) > 0 {
			summary.LastMessage = msgs[len(msgs)-1].Content
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *sessionService) Messages(userID uint, sessionID string) ([]model.ChatMessage, error) {
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
	return s.chatRepo.Messages(sessionID, 0)
}

func (s *sessionService) Delete(userID uint, sessionID string) error {
	session, err := s.chatRepo.FindSession(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if session.UserID != userID {
		return ErrSessionNotFound
	}
	return s.chatRepo.DeleteSession(sessionID)
}
