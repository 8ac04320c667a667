package model

// Function 反编译得到的函数，(sample_hash, name) 唯一
type Function struct {
	SampleHash  string `gorm:"primaryKey;size:32" json:"sample_hash"`
	Name        string `gorm:"primaryKey;size:255" json:"name"`
	Source      string `gorm:"type:longtext" json:"c"`
	Signature   string `gorm:"type:text" json:"sig"`
	Description string `gorm:"type:text" json:"description"`
}

func (Function) TableName() string {
	return "functions"
}
