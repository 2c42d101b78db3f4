package model

import "time"

// ProcessingState 表示文档在处理管道中的状态。
// 状态只能沿管道向前推进，failed 是终态，直到所有者重新触发处理。
type ProcessingState string

const (
	StateUploaded   ProcessingState = "uploaded"
	StateExtracting ProcessingState = "extracting"
	StateChunking   ProcessingState = "chunking"
	StateEmbedding  ProcessingState = "embedding"
	StateIndexed    ProcessingState = "indexed"
	StateFailed     ProcessingState = "failed"
)

// stateTransitions 定义合法的状态迁移。
// 任意非终态都可以进入 failed；failed 只能回到 uploaded（重新触发）。
var stateTransitions = map[ProcessingState][]ProcessingState{
	StateUploaded:   {StateExtracting, StateFailed},
	StateExtracting: {StateChunking, StateFailed},
	StateChunking:   {StateEmbedding, StateFailed},
	StateEmbedding:  {StateIndexed, StateFailed},
	StateIndexed:    {},
	StateFailed:     {StateUploaded},
}

// CanTransition 判断从 from 到 to 是否为合法迁移。
func CanTransition(from, to ProcessingState) bool {
	for _, next := range stateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal 判断状态是否为终态（不再自动推进）。
func (s ProcessingState) IsTerminal() bool {
	return s == StateIndexed || s == StateFailed
}

// Document 对应数据库中的 documents 表，记录用户上传的原始文档及其处理状态。
type Document struct {
	ID          string          `gorm:"type:char(36);primaryKey" json:"id"`
	UserID      uint            `gorm:"not null;index" json:"user_id"`
	FileName    string          `gorm:"type:varchar(255);not null" json:"file_name"`
	ContentType string          `gorm:"type:varchar(128);not null" json:"content_type"`
	SizeBytes   int64           `gorm:"not null" json:"size_bytes"`
	ObjectKey   string          `gorm:"type:varchar(512);not null" json:"-"`
	Status      ProcessingState `gorm:"type:varchar(32);not null;default:'uploaded';index" json:"status"`
	FailReason  string          `gorm:"type:varchar(512)" json:"fail_reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TableName 指定 GORM 使用的表名。
func (Document) TableName() string {
	return "documents"
}
