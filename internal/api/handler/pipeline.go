package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/statdig_server/internal/api/middleware"
	"github.com/qs3c/statdig_server/internal/pkg/response"
	"github.com/qs3c/statdig_server/internal/service"
)

// PipelineHandler 提取、分析、整理三段流水线
type PipelineHandler struct {
	pipelineService *service.PipelineService
	analysisService *service.AnalysisService
}

func NewPipelineHandler(pipelineService *service.PipelineService, analysisService *service.AnalysisService) *PipelineHandler {
	return &PipelineHandler{
		pipelineService: pipelineService,
		analysisService: analysisService,
	}
}

// Extract 触发函数提取
// POST /api/v1/extract/:md5
func (h *PipelineHandler) Extract(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	resp, err := h.pipelineService.TriggerExtract(c.Request.Context(), c.Param("md5"), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, resp.Message, resp)
}

// ExtractStatus 提取进度
// GET /api/v1/extract/:md5
func (h *PipelineHandler) ExtractStatus(c *gin.Context) {
	resp, err := h.pipelineService.ExtractStatus(c.Param("md5"))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, resp)
}

// Analyse 触发样本分析
// POST /api/v1/analyze/:md5
func (h *PipelineHandler) Analyse(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	resp, err := h.pipelineService.TriggerAnalyse(c.Request.Context(), c.Param("md5"), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, resp.Message, resp)
}

// AnalyseStatus 分析进度
// GET /api/v1/analyze/:md5/status
func (h *PipelineHandler) AnalyseStatus(c *gin.Context) {
	resp, err := h.pipelineService.AnalyseStatus(c.Param("md5"))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, resp)
}

// GetAnalysis 报告与函数详情
// GET /api/v1/analyze/:md5
func (h *PipelineHandler) GetAnalysis(c *gin.Context) {
	detail, err := h.analysisService.GetAnalysis(c.Request.Context(), c.Param("md5"))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, detail)
}

// Organise 触发整理
// POST /api/v1/organise/:md5
func (h *PipelineHandler) Organise(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	resp, err := h.pipelineService.TriggerOrganise(c.Request.Context(), c.Param("md5"), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, resp.Message, resp)
}

// GetOrganise 整理状态与记录
// GET /api/v1/organise/:md5
func (h *PipelineHandler) GetOrganise(c *gin.Context) {
	resp, err := h.pipelineService.GetOrganise(c.Param("md5"))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, resp)
}
