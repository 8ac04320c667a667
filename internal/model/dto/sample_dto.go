package dto

// UploadResponse 上传样本响应
type UploadResponse struct {
	MD5             string `json:"md5"`
	Filename        string `json:"filename"`
	FileSize        int64  `json:"filesize"`
	FileType        string `json:"filetype"`
	FileDescription string `json:"file_description"`
	Stage           int    `json:"stage"`
	AlreadyExists   bool   `json:"already_exists,omitempty"`
}

// SampleListItem 样本列表项
type SampleListItem struct {
	MD5             string    `json:"md5"`
	Filename        string    `json:"filename"`
	FileSize        int64     `json:"filesize"`
	FileType        string    `json:"filetype"`
	FileDescription string    `json:"file_description"`
	Stage           int       `json:"stage"`
	StageLabel      string    `json:"stage_label"`
	Malicious       *string   `json:"malicious"`
	Overview        string    `json:"overview"`
	IsPublic        bool      `json:"is_public"`
	Uploader        string    `json:"uploader,omitempty"`
	FunctionCount   int64     `json:"function_count"`
	Tags            []TagInfo `json:"tags"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	CreatedAt       string    `json:"created_at"`
}

// TagInfo 标签
type TagInfo struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// FunctionItem 函数
type FunctionItem struct {
	Name        string `json:"name"`
	Signature   string `json:"sig"`
	Source      string `json:"c"`
	Description string `json:"description"`
}
