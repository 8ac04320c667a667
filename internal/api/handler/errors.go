package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/statdig_server/internal/pkg/response"
)

// respondError 记录原始错误供访问日志使用，再按错误分类响应
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	response.AppError(c, err)
}
