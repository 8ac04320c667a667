package agent

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/qs3c/statdig_server/internal/pkg/apperr"
)

const iocSectionHeader = "\n\n## IOCs\n\n"

// Enrichment 最终轮模型返回的结构化结果，字段之间相互独立
type Enrichment struct {
	IOCsTable           string            `json:"iocs_table"`
	EnrichedOverview    string            `json:"enriched_overview"`
	Tags                []string          `json:"tags"`
	ContentfulFunctions map[string]string `json:"contentful_functions"`
}

// ParseEnrichment 逐字段解码，单个字段类型错误只丢弃该字段；
// 整体不是 JSON 对象时返回 KindMalformed 错误
func ParseEnrichment(content string) (*Enrichment, []error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		return nil, []error{apperr.Wrap(apperr.KindMalformed, "enrichment is not a JSON object", err)}
	}

	var (
		e    Enrichment
		errs []error
	)
	decode := func(key string, dst interface{}) {
		raw, ok := fields[key]
		if !ok || string(raw) == "null" {
			return
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			errs = append(errs, apperr.Wrap(apperr.KindMalformed, "invalid field "+key, err))
		}
	}

	decode("iocs_table", &e.IOCsTable)
	decode("enriched_overview", &e.EnrichedOverview)
	if e.EnrichedOverview == "" {
		// 旧版提示词使用的键名
		decode("updated_overview", &e.EnrichedOverview)
	}
	decode("tags", &e.Tags)
	decode("contentful_functions", &e.ContentfulFunctions)

	return &e, errs
}

// apply 各字段分别写入，失败只记录日志
func (o *Organiser) apply(hash string, e *Enrichment) {
	log := o.logger.With(zap.String("sample", hash))

	if table := strings.TrimSpace(e.IOCsTable); table != "" {
		if err := o.detailRepo.AppendReport(hash, iocSectionHeader+e.IOCsTable); err != nil {
			log.Warn("failed to append IOC table", zap.Error(err))
		}
	}

	if strings.TrimSpace(e.EnrichedOverview) != "" {
		if err := o.sampleRepo.SetOverview(hash, e.EnrichedOverview); err != nil {
			log.Warn("failed to update overview", zap.Error(err))
		}
	}

	for _, content := range e.Tags {
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		tag, created, err := o.tagRepo.FindOrCreate(content)
		if err != nil {
			log.Warn("failed to resolve tag", zap.String("tag", content), zap.Error(err))
			continue
		}
		if err := o.tagRepo.LinkSample(tag.ID, hash); err != nil {
			log.Warn("failed to link tag", zap.String("tag_id", tag.ID), zap.Error(err))
			continue
		}
		log.Debug("tag linked", zap.String("tag_id", tag.ID), zap.String("tag", content), zap.Bool("created", created))
	}

	for name, description := range e.ContentfulFunctions {
		rows, err := o.functionRepo.UpdateDescription(hash, name, description)
		if err != nil {
			log.Warn("failed to update function description", zap.String("function", name), zap.Error(err))
			continue
		}
		if rows == 0 {
			log.Debug("unknown function in enrichment", zap.String("function", name))
		}
	}
}
