// Package handler 实现 HTTP 接口层。
package handler

import (
	"errors"
	"net/http"

	"docuchat-go/internal/middleware"
	"docuchat-go/internal/model"
	"docuchat-go/internal/service"
	"docuchat-go/pkg/log"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// DocumentHandler 处理文档的上传、查询与删除。
type DocumentHandler struct {
	documentService service.DocumentService
}

// NewDocumentHandler 创建 DocumentHandler 实例。
func NewDocumentHandler(documentService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

// Upload 处理 multipart 文件上传，创建文档记录并触发异步处理。
func (h *DocumentHandler) Upload(c *gin.Context) {
	userID := middleware.UserID(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "缺少上传文件",
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "读取上传文件失败",
		})
		return
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	doc, err := h.documentService.Submit(c.Request.Context(), userID,
		fileHeader.Filename, contentType, fileHeader.Size, file)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrUnsupportedType) || errors.Is(err, service.ErrFileTooLarge) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"code":    status,
			"message": err.Error(),
		})
		return
	}

	log.Infof("[DocumentHandler] 上传成功: %s (%s)", doc.FileName, doc.ID)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "上传成功，文档已进入处理队列",
		"data":    doc,
	})
}

// GetStatus 查询单个文档的处理状态。
func (h *DocumentHandler) GetStatus(c *gin.Context) {
	userID := middleware.UserID(c)
	docID := c.Param("id")

	doc, err := h.documentService.GetStatus(userID, docID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    http.StatusNotFound,
				"message": "文档不存在",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "查询文档状态失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "查询成功",
		"data":    doc,
	})
}

// List 列出当前用户的文档，支持按状态过滤。
func (h *DocumentHandler) List(c *gin.Context) {
	userID := middleware.UserID(c)
	status := model.ProcessingState(c.Query("status"))

	docs, err := h.documentService.List(userID, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "查询文档列表失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "查询成功",
		"data":    docs,
	})
}

// Delete 删除文档及其分块、向量与原始文件。
func (h *DocumentHandler) Delete(c *gin.Context) {
	userID := middleware.UserID(c)
	docID := c.Param("id")

	if err := h.documentService.Delete(c.Request.Context(), userID, docID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    http.StatusNotFound,
				"message": "文档不存在",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "删除文档失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "删除成功",
	})
}

// Reprocess 重新触发 failed 文档的处理。
func (h *DocumentHandler) Reprocess(c *gin.Context) {
	userID := middleware.UserID(c)
	docID := c.Param("id")

	if err := h.documentService.Reprocess(c.Request.Context(), userID, docID); err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"code":    http.StatusNotFound,
				"message": "文档不存在",
			})
		case errors.Is(err, service.ErrNotReprocessable):
			c.JSON(http.StatusConflict, gin.H{
				"code":    http.StatusConflict,
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    http.StatusInternalServerError,
				"message": "重新触发处理失败",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "文档已重新进入处理队列",
	})
}
