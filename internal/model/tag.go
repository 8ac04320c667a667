package model

// Tag 标签，内容全局唯一
type Tag struct {
	ID      string `gorm:"primaryKey;size:8" json:"id"`
	Content string `gorm:"size:255;uniqueIndex;not null" json:"content"`
}

func (Tag) TableName() string {
	return "tags"
}

// TagSample 标签与样本的关联
type TagSample struct {
	TagID      string `gorm:"primaryKey;size:8"`
	SampleHash string `gorm:"primaryKey;size:32"`
}

func (TagSample) TableName() string {
	return "tag_samples"
}
