package model

import (
	"time"
)

// Sample 样本，以内容 MD5 作为主键
type Sample struct {
	Hash            string    `gorm:"primaryKey;size:32" json:"md5"`
	Filename        string    `gorm:"size:255;not null" json:"filename"`
	Size            int64     `json:"filesize"`
	FileType        string    `gorm:"size:255" json:"filetype"`
	FileDescription string    `gorm:"type:text" json:"file_description"`
	UploaderID      int64     `gorm:"not null;index" json:"uploader_id"`
	Stage           Stage     `gorm:"not null;default:0;index" json:"stage"`
	Malicious       *string   `gorm:"size:16" json:"malicious"`
	Overview        string    `gorm:"type:text" json:"overview"`
	IsPublic        bool      `gorm:"default:false" json:"is_public"`
	ErrorMessage    string    `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// 关联
	Uploader *User `gorm:"foreignKey:UploaderID" json:"uploader,omitempty"`
}

func (Sample) TableName() string {
	return "samples"
}

// SampleDetail 样本的大字段：完整报告、整理器记录
type SampleDetail struct {
	Hash                string    `gorm:"primaryKey;size:32" json:"md5"`
	FullReport          string    `gorm:"type:longtext" json:"full_report"`
	OrganiserTranscript string    `gorm:"type:longtext" json:"organiser_transcript"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (SampleDetail) TableName() string {
	return "sample_details"
}
