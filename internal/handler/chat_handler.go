package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"docuchat-go/internal/middleware"
	"docuchat-go/internal/service"
	"docuchat-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// ChatHandler 处理阻塞式与流式问答。
type ChatHandler struct {
	chatService service.ChatService
	upgrader    websocket.Upgrader
}

// NewChatHandler 创建 ChatHandler 实例。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

type askRequest struct {
	SessionID   string   `json:"session_id"`
	Message     string   `json:"message" binding:"required"`
	DocumentIDs []string `json:"document_ids"`
}

// Ask 阻塞式问答：完整答案生成后一次性返回。
func (h *ChatHandler) Ask(c *gin.Context) {
	userID := middleware.UserID(c)

	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "请求参数错误: " + err.Error(),
		})
		return
	}

	result, err := h.chatService.Ask(c.Request.Context(), userID, req.SessionID, req.Message, req.DocumentIDs)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, service.ErrEmptyQuestion):
			status = http.StatusBadRequest
		case errors.Is(err, service.ErrSessionNotFound):
			status = http.StatusNotFound
		case errors.Is(err, service.ErrSessionBusy):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{
			"code":    status,
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "问答成功",
		"data":    result,
	})
}

// streamChunkWriter 把流式片段包装成 {"chunk": "..."} JSON 帧写入 WebSocket。
type streamChunkWriter struct {
	conn *websocket.Conn
}

func (w *streamChunkWriter) WriteMessage(messageType int, data []byte) error {
	frame, err := json.Marshal(gin.H{"chunk": string(data)})
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(messageType, frame)
}

// AskStream 流式问答：客户端通过 WebSocket 发送提问，
// 服务端增量推送片段；收到 {"type":"stop"} 时取消本轮生成，
// 已产出的部分答案仍会带 partial 标记落库。
func (h *ChatHandler) AskStream(c *gin.Context) {
	userID := middleware.UserID(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("[ChatHandler] WebSocket 升级失败: %v", err)
		return
	}
	defer conn.Close()

	var req askRequest
	if err := conn.ReadJSON(&req); err != nil {
		h.writeWSError(conn, "请求解析失败: "+err.Error())
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// 单独的读协程监听 stop 指令；连接断开同样触发取消
	go func() {
		for {
			var cmd struct {
				Type string `json:"type"`
			}
			if err := conn.ReadJSON(&cmd); err != nil {
				cancel()
				return
			}
			if cmd.Type == "stop" {
				log.Infof("[ChatHandler] 收到 stop 指令, SessionID: %s", req.SessionID)
				cancel()
				return
			}
		}
	}()

	result, err := h.chatService.AskStream(ctx, userID, req.SessionID, req.Message, req.DocumentIDs, &streamChunkWriter{conn: conn})
	if err != nil {
		h.writeWSError(conn, err.Error())
		return
	}

	done := gin.H{
		"type":              "done",
		"session_id":        result.SessionID,
		"partial":           result.Partial,
		"context_truncated": result.ContextTruncated,
		"is_error":          result.IsError,
	}
	if len(result.Citations) > 0 {
		done["citations"] = result.Citations
	}
	if result.IsError {
		done["message"] = result.Answer
	}
	if err := conn.WriteJSON(done); err != nil {
		log.Warnf("[ChatHandler] 写出完成通知失败: %v", err)
	}
}

func (h *ChatHandler) writeWSError(conn *websocket.Conn, message string) {
	if err := conn.WriteJSON(gin.H{"type": "error", "message": message}); err != nil {
		log.Warnf("[ChatHandler] 写出错误通知失败: %v", err)
	}
}
