package handler

import (
	"errors"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/statdig_server/internal/api/middleware"
	"github.com/qs3c/statdig_server/internal/pkg/response"
	"github.com/qs3c/statdig_server/internal/service"
)

type SampleHandler struct {
	sampleService *service.SampleService
	maxSize       int64
}

func NewSampleHandler(sampleService *service.SampleService, maxSize int64) *SampleHandler {
	return &SampleHandler{
		sampleService: sampleService,
		maxSize:       maxSize,
	}
}

// Upload 上传样本
// POST /api/v1/upload
func (h *SampleHandler) Upload(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.ParamError(c, "请上传文件")
		return
	}
	defer file.Close()

	if h.maxSize > 0 && header.Size > h.maxSize {
		response.ParamError(c, fmt.Sprintf("文件过大，最大支持 %dMB", h.maxSize/1024/1024))
		return
	}

	// 多读一个字节用于判断是否超限
	limit := h.maxSize
	if limit <= 0 {
		limit = header.Size
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		response.ServerError(c, "文件读取失败")
		return
	}

	resp, err := h.sampleService.Upload(c.Request.Context(), userID, header.Filename, data)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrFileTooLarge), errors.Is(err, service.ErrEmptyFile):
			response.ParamError(c, err.Error())
		default:
			respondError(c, err)
		}
		return
	}

	if resp.AlreadyExists {
		response.SuccessWithMessage(c, "File already exists", resp)
		return
	}
	response.SuccessWithMessage(c, "File uploaded successfully", resp)
}

// List 样本列表
// GET /api/v1/samples
func (h *SampleHandler) List(c *gin.Context) {
	samples, err := h.sampleService.List()
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{"samples": samples})
}

// Functions 样本的全部函数
// GET /api/v1/functions/:md5
func (h *SampleHandler) Functions(c *gin.Context) {
	functions, err := h.sampleService.Functions(c.Param("md5"))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{"functions": functions})
}
