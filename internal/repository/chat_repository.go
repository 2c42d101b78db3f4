package repository

import (
	"docuchat-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChatRepository 定义了会话与消息的数据库操作。
type ChatRepository interface {
	CreateSession(session *model.ChatSession) error
	FindSession(id string) (*model.ChatSession, error)
	ListSessions(userID uint) ([]model.ChatSession, error)
	UpdateSessionTitle(id, title string) error
	DeleteSession(id string) error
	AppendMessage(msg *model.ChatMessage) error
	Messages(sessionID string, limit int) ([]model.ChatMessage, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建一个 ChatRepository 实例。
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) CreateSession(session *model.ChatSession) error {
	return r.db.Create(session).Error
}

func (r *chatRepository) FindSession(id string) (*model.ChatSession, error) {
	var s model.ChatSession
	if err := r.db.First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *chatRepository) ListSessions(userID uint) ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	if err := r.db.Where("user_id = ?", userID).
		Order("updated_at DESC").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *chatRepository) UpdateSessionTitle(id, title string) error {
	return r.db.Model(&model.ChatSession{}).Where("id = ?", id).
		Update("title", title).Error
}

// DeleteSession 删除会话及其全部消息。
func (r *chatRepository) DeleteSession(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&model.ChatMessage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.ChatSession{}, "id = ?", id).Error
	})
}

// AppendMessage 在事务内计算会话内下一个序号后落库。
// 对会话行加锁串行化并发写入，保证序号在会话内严格递增。
func (r *chatRepository) AppendMessage(msg *model.ChatMessage) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var session model.ChatSession
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&session, "id = ?", msg.SessionID).Error; err != nil {
			return err
		}

		var maxOrdinal int
		if err := tx.Model(&model.ChatMessage{}).
			Where("session_id = ?", msg.SessionID).
			Select("COALESCE(MAX(ordinal), -1)").Scan(&maxOrdinal).Error; err != nil {
			return err
		}
		msg.Ordinal = maxOrdinal + 1

		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		// 顺带刷新会话的 updated_at，供会话列表排序
		return tx.Model(&model.ChatSession{}).Where("id = ?", msg.SessionID).
			Update("updated_at", tx.NowFunc()).Error
	})
}

func (r *chatRepository) Messages(sessionID string, limit int) ([]model.ChatMessage, error) {
	var msgs []model.ChatMessage
	q := r.db.Where("session_id = ?", sessionID).Order("ordinal ASC")
	if limit > 0 {
		// 取最近 limit 条：先倒序截断再正序返回
		var recent []model.ChatMessage
		if err := r.db.Where("session_id = ?", sessionID).
			Order("ordinal DESC").Limit(limit).Find(&recent).Error; err != nil {
			return nil, err
		}
		for i := len(recent) - 1; i >= 0; i-- {
			msgs = append(msgs, recent[i])
		}
		return msgs, nil
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
