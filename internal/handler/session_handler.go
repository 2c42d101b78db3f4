package handler

import (
	"errors"
	"net/http"

	"docuchat-go/internal/middleware"
	"docuchat-go/internal/service"

	"github.com/gin-gonic/gin"
)

// SessionHandler 处理会话的查询与删除。
type SessionHandler struct {
	sessionService service.SessionService
}

// NewSessionHandler 创建 SessionHandler 实例。
func NewSessionHandler(sessionService service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// List 列出当前用户的全部会话。
func (h *SessionHandler) List(c *gin.Context) {
	userID := middleware.UserID(c)

	sessions, err := h.sessionService.List(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "查询会话列表失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "查询成功",
		"data":    sessions,
	})
}

// Messages 返回会话内按序号排列的全部消息。
func (h *SessionHandler) Messages(c *gin.Context) {
	userID := middleware.UserID(c)
	sessionID := c.Param("id")

	msgs, err := h.sessionService.Messages(userID, sessionID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    http.StatusNotFound,
				"message": "会话不存在",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "查询会话消息失败",
		})
		return
	}

	type messageView struct {
		Ordinal   int         `json:"ordinal"`
		Role      string      `json:"role"`
		Content   string      `json:"content"`
		Citations interface{} `json:"citations,omitempty"`
		Partial   bool        `json:"partial,omitempty"`
		IsError   bool        `json:"is_error,omitempty"`
		CreatedAt string      `json:"created_at"`
	}
	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		v := messageView{
			Ordinal:   m.Ordinal,
			Role:      m.Role,
			Content:   m.Content,
			Partial:   m.Partial,
			IsError:   m.IsError,
			CreatedAt: m.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		if cs := m.CitationList(); len(cs) > 0 {
			v.Citations = cs
		}
		views = append(views, v)
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "查询成功",
		"data":    views,
	})
}

// Delete 删除会话及其全部消息。
func (h *SessionHandler) Delete(c *gin.Context) {
	userID := middleware.UserID(c)
	sessionID := c.Param("id")

	if err := h.sessionService.Delete(userID, sessionID); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    http.StatusNotFound,
				"message": "会话不存在",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "删除会话失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "删除成功",
	})
}
