package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Root 存活检查
// GET /
func Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "StatDig API is running"})
}
