package model

// Stage 样本在流水线中的阶段，持久化为整数
type Stage int

const (
	StageUploaded Stage = iota
	StageExtracting
	StageExtracted
	StageAnalysing
	StageAnalysed
	StageOrganising
	StageOrganised
)

var stageLabels = map[Stage]string{
	StageUploaded:   "Uploaded",
	StageExtracting: "Extracting",
	StageExtracted:  "Extracted",
	StageAnalysing:  "Analysing",
	StageAnalysed:   "Analysed",
	StageOrganising: "Organising...",
	StageOrganised:  "Organised",
}

// String 阶段的显示名称
func (s Stage) String() string {
	if label, ok := stageLabels[s]; ok {
		return label
	}
	return "Unknown"
}

// Transient 是否为进行中的阶段
func (s Stage) Transient() bool {
	return s == StageExtracting || s == StageAnalysing || s == StageOrganising
}

// UnindexedString 占位文本，表示“尚无内容”，检索时会被跳过
const UnindexedString = "UN_IDX_aedb8b3c-94f6-4090-870f-e7e11123497b"

// 样本判定结果（模型输出的原样字面量）
const (
	VerdictTrue      = "True"
	VerdictFalse     = "False"
	VerdictUncertain = "Uncertain"
)
