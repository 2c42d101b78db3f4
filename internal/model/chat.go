package model

import (
	"encoding/json"
	"time"
)

// ChatSession 对应 chat_sessions 表。DocumentIDs 以 JSON 数组存储，
// 为空表示会话检索范围覆盖该用户的全部已索引文档。
type ChatSession struct {
	ID          string    `gorm:"type:char(36);primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	Title       string    `gorm:"type:varchar(255)" json:"title"`
	DocumentIDs string    `gorm:"type:text" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName 指定 GORM 使用的表名。
func (ChatSession) TableName() string {
	return "chat_sessions"
}

// ScopedDocumentIDs 解析会话绑定的文档范围。
func (s *ChatSession) ScopedDocumentIDs() []string {
	if s.DocumentIDs == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(s.DocumentIDs), &ids); err != nil {
		return nil
	}
	return ids
}

// SetScopedDocumentIDs 设置会话绑定的文档范围。
func (s *ChatSession) SetScopedDocumentIDs(ids []string) error {
	if len(ids) == 0 {
		s.DocumentIDs = ""
		return nil
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	s.DocumentIDs = string(b)
	return nil
}

// ChatMessage 对应 chat_messages 表。Ordinal 在会话内严格递增，
// 出错的轮次同样以 assistant 消息落库，保证历史完整。
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"type:char(36);not null;index:idx_session_ordinal,unique" json:"session_id"`
	Ordinal   int       `gorm:"not null;index:idx_session_ordinal,unique" json:"ordinal"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Citations string    `gorm:"type:text" json:"-"`
	Partial   bool      `gorm:"not null;default:false" json:"partial"`
	IsError   bool      `gorm:"not null;default:false" json:"is_error"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定 GORM 使用的表名。
func (ChatMessage) TableName() string {
	return "chat_messages"
}

// Citation 记录一次回答引用的上下文来源。
type Citation struct {
	DocumentID string  `json:"document_id"`
	FileName   string  `json:"file_name"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Partial    bool    `json:"partial,omitempty"`
}

// CitationList 解析消息携带的引用列表。
func (m *ChatMessage) CitationList() []Citation {
	if m.Citations == "" {
		return nil
	}
	var cs []Citation
	if err := json.Unmarshal([]byte(m.Citations), &cs); err != nil {
		return nil
	}
	return cs
}

// SetCitations 序列化并挂载引用列表。
func (m *ChatMessage) SetCitations(cs []Citation) error {
	if len(cs) == 0 {
		m.Citations = ""
		return nil
	}
	b, err := json.Marshal(cs)
	if err != nil {
		return err
	}
	m.Citations = string(b)
	return nil
}
