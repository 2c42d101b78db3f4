// Package tasks defines the payloads exchanged over the processing queue.
package tasks

// DocumentTask 表示一个文档处理作业，由上传侧投递、后台消费者执行。
type DocumentTask struct {
	DocumentID  string `json:"document_id"`
	UserID      uint   `json:"user_id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	ObjectKey   string `json:"object_key"`
}
