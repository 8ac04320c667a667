package dto

import "encoding/json"

// ExtractResponse 提取结果
type ExtractResponse struct {
	MD5              string `json:"md5"`
	Message          string `json:"message"`
	Stage            int    `json:"stage"`
	StageLabel       string `json:"stage_label"`
	ErrorMessage     string `json:"error_message,omitempty"`
	FunctionCount    int64  `json:"function_count"`
	AlreadyExtracted bool   `json:"already_extracted,omitempty"`
	Queued           bool   `json:"queued,omitempty"`
}

// AnalyzeResponse 分析触发结果
type AnalyzeResponse struct {
	MD5             string  `json:"md5"`
	Message         string  `json:"message"`
	Stage           int     `json:"stage"`
	StageLabel      string  `json:"stage_label"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	Analysis        string  `json:"analysis,omitempty"`
	Malicious       *string `json:"malicious,omitempty"`
	AlreadyAnalyzed bool    `json:"already_analyzed,omitempty"`
	Queued          bool    `json:"queued,omitempty"`
}

// AnalysisDetail 分析详情
type AnalysisDetail struct {
	MD5        string  `json:"md5"`
	Stage      int     `json:"stage"`
	StageLabel string  `json:"stage_label"`
	Malicious  *string `json:"malicious"`
	IsPublic   bool    `json:"is_public"`
	Analysis   string  `json:"analysis"`
	SigfnTree  string  `json:"sigfn_tree"`
}

// OrganiseResponse 整理触发结果
type OrganiseResponse struct {
	MD5              string `json:"md5"`
	Message          string `json:"message"`
	Stage            int    `json:"stage"`
	StageLabel       string `json:"stage_label"`
	AlreadyOrganised bool   `json:"already_organised"`
}

// OrganiseDetail 整理记录
type OrganiseDetail struct {
	MD5         string          `json:"md5"`
	Stage       int             `json:"stage"`
	StageLabel  string          `json:"stage_label"`
	Transcript  json.RawMessage `json:"responder_data,omitempty"`
	RawResponse string          `json:"raw_response,omitempty"`
}

// SearchRequest 混合检索请求
type SearchRequest struct {
	Query string `json:"query" binding:"required,min=1,max=2000"`
}

// SearchResult 单条检索结果
type SearchResult struct {
	Type            string  `json:"type"` // function, sample
	MD5             string  `json:"md5"`
	Name            string  `json:"name,omitempty"`
	Source          string  `json:"c_code,omitempty"`
	Filename        string  `json:"filename,omitempty"`
	FileType        string  `json:"filetype,omitempty"`
	FileDescription string  `json:"file_description,omitempty"`
	Malicious       *string `json:"malicious,omitempty"`
	Stage           int     `json:"stage,omitempty"`
	Description     string  `json:"description"`
	Tags            string  `json:"tags,omitempty"`
	Score           float64 `json:"score"`
}

// SearchResponse 检索响应
type SearchResponse struct {
	Query      string          `json:"query"`
	SearchType string          `json:"search_type"`
	Results    []*SearchResult `json:"results"`
	TotalCount int             `json:"total_count"`
	SummaryJob string          `json:"summary_job_id"`
}

// SummaryResponse 摘要轮询结果
type SummaryResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"` // processing, completed
	Summary string `json:"summary,omitempty"`
}
