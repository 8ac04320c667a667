package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/statdig_server/internal/model/dto"
	"github.com/qs3c/statdig_server/internal/pkg/response"
	"github.com/qs3c/statdig_server/internal/service"
)

type SearchHandler struct {
	searchService *service.SearchService
}

func NewSearchHandler(searchService *service.SearchService) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

// Search 混合检索，摘要在后台生成
// POST /api/v1/supersearch
func (h *SearchHandler) Search(c *gin.Context) {
	var req dto.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.searchService.Search(c.Request.Context(), req.Query)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, resp)
}

const summaryNotFoundMessage = "Summary not found: still being generated, or already retrieved"

// Summary 读取检索摘要，只能成功读取一次
// GET /api/v1/supersearch/:job_id
func (h *SearchHandler) Summary(c *gin.Context) {
	jobID := c.Param("job_id")

	resp, err := h.searchService.GetSummary(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			// 未生成与已被读取无法区分，消息同时说明两种情况
			response.Accepted(c, summaryNotFoundMessage, &dto.SummaryResponse{
				JobID:  jobID,
				Status: service.SummaryStatusProcessing,
			})
			return
		}
		respondError(c, err)
		return
	}

	response.Success(c, resp)
}
