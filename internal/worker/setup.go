package worker

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/statdig_server/config"
	"github.com/qs3c/statdig_server/internal/agent"
	"github.com/qs3c/statdig_server/internal/lifecycle"
	"github.com/qs3c/statdig_server/internal/pkg/decompiler"
	"github.com/qs3c/statdig_server/internal/pkg/filestore"
	"github.com/qs3c/statdig_server/internal/pkg/llm"
	"github.com/qs3c/statdig_server/internal/repository"
	"github.com/qs3c/statdig_server/internal/service"
)

// NewPipelineProcessor 按配置组装提取、分析、整理三段处理器
func NewPipelineProcessor(
	cfg *config.Config,
	db *gorm.DB,
	store filestore.Store,
	client *llm.Client,
	publisher ProgressPublisher,
	logger *zap.Logger,
) *Processor {
	sampleRepo := repository.NewSampleRepository(db)
	functionRepo := repository.NewFunctionRepository(db)
	detailRepo := repository.NewDetailRepository(db)
	tagRepo := repository.NewTagRepository(db)

	registry := lifecycle.NewRegistry(sampleRepo, functionRepo, detailRepo, logger)
	runner := decompiler.NewDockerRunner(cfg.Decompiler, logger)

	extraction := service.NewExtractionService(functionRepo, store, runner, logger)
	analysis := service.NewAnalysisService(sampleRepo, detailRepo, store, client, cfg.Prompts.IngestPath, logger)
	organiser := agent.NewOrganiser(client, sampleRepo, detailRepo, functionRepo, tagRepo, agent.Config{
		SystemPromptPath:   cfg.Prompts.OrganisePath,
		FormatTemplatePath: cfg.Prompts.OrganiseFormatPath,
		MaxIterations:      cfg.Organiser.MaxIterations,
	}, logger)

	return NewProcessor(registry, extraction, analysis, organiser, publisher, logger)
}
