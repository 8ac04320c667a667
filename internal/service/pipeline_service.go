package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/statdig_server/internal/lifecycle"
	"github.com/qs3c/statdig_server/internal/model"
	"github.com/qs3c/statdig_server/internal/model/dto"
	"github.com/qs3c/statdig_server/internal/pkg/apperr"
	"github.com/qs3c/statdig_server/internal/pkg/queue"
	"github.com/qs3c/statdig_server/internal/repository"
)

// Dispatcher 调度流水线任务：Redis 队列或进程内执行
type Dispatcher interface {
	Push(ctx context.Context, msg *queue.JobMessage) error
}

// PipelineService 处理提取、分析、整理的触发与轮询
type PipelineService struct {
	registry     *lifecycle.Registry
	sampleRepo   *repository.SampleRepository
	functionRepo *repository.FunctionRepository
	detailRepo   *repository.DetailRepository
	dispatcher   Dispatcher
	logger       *zap.Logger
}

func NewPipelineService(
	registry *lifecycle.Registry,
	sampleRepo *repository.SampleRepository,
	functionRepo *repository.FunctionRepository,
	detailRepo *repository.DetailRepository,
	dispatcher Dispatcher,
	logger *zap.Logger,
) *PipelineService {
	return &PipelineService{
		registry:     registry,
		sampleRepo:   sampleRepo,
		functionRepo: functionRepo,
		detailRepo:   detailRepo,
		dispatcher:   dispatcher,
		logger:       logger,
	}
}

// TriggerExtract 已提取时直接返回函数数量，否则调度提取任务
func (s *PipelineService) TriggerExtract(ctx context.Context, hash string, userID int64) (*dto.ExtractResponse, error) {
	gate, err := s.registry.BeginExtraction(hash)
	if err != nil {
		return nil, err
	}

	if gate.AlreadyExtracted {
		stage, err := s.registry.Stage(hash)
		if err != nil {
			return nil, err
		}
		return &dto.ExtractResponse{
			MD5:              hash,
			Message:          "Functions already extracted",
			Stage:            int(stage),
			StageLabel:       stage.String(),
			FunctionCount:    gate.FunctionCount,
			AlreadyExtracted: true,
		}, nil
	}

	if err := s.dispatch(ctx, queue.KindExtract, hash, userID, model.StageExtracting); err != nil {
		return nil, err
	}

	return &dto.ExtractResponse{
		MD5:        hash,
		Message:    "Extraction started",
		Stage:      int(model.StageExtracting),
		StageLabel: model.StageExtracting.String(),
		Queued:     true,
	}, nil
}

// ExtractStatus 提取进度
func (s *PipelineService) ExtractStatus(hash string) (*dto.ExtractResponse, error) {
	sample, err := s.getSample(hash)
	if err != nil {
		return nil, err
	}

	count, err := s.functionRepo.CountBySample(hash)
	if err != nil {
		return nil, err
	}

	return &dto.ExtractResponse{
		MD5:              hash,
		Message:          sample.Stage.String(),
		Stage:            int(sample.Stage),
		StageLabel:       sample.Stage.String(),
		ErrorMessage:     sample.ErrorMessage,
		FunctionCount:    count,
		AlreadyExtracted: count > 0,
	}, nil
}

// TriggerAnalyse 已有报告时直接返回，否则调度分析任务
func (s *PipelineService) TriggerAnalyse(ctx context.Context, hash string, userID int64) (*dto.AnalyzeResponse, error) {
	gate, err := s.registry.BeginAnalysis(hash)
	if err != nil {
		return nil, err
	}

	if gate.AlreadyAnalysed {
		stage, err := s.registry.Stage(hash)
		if err != nil {
			return nil, err
		}
		return &dto.AnalyzeResponse{
			MD5:             hash,
			Message:         "Analysis already exists",
			Stage:           int(stage),
			StageLabel:      stage.String(),
			Analysis:        gate.Report,
			Malicious:       gate.Malicious,
			AlreadyAnalyzed: true,
		}, nil
	}

	if err := s.dispatch(ctx, queue.KindAnalyse, hash, userID, model.StageAnalysing); err != nil {
		return nil, err
	}

	return &dto.AnalyzeResponse{
		MD5:        hash,
		Message:    "Analysis started",
		Stage:      int(model.StageAnalysing),
		StageLabel: model.StageAnalysing.String(),
		Queued:     true,
	}, nil
}

// AnalyseStatus 分析进度，完成后携带报告
func (s *PipelineService) AnalyseStatus(hash string) (*dto.AnalyzeResponse, error) {
	sample, err := s.getSample(hash)
	if err != nil {
		return nil, err
	}

	resp := &dto.AnalyzeResponse{
		MD5:          hash,
		Message:      sample.Stage.String(),
		Stage:        int(sample.Stage),
		StageLabel:   sample.Stage.String(),
		ErrorMessage: sample.ErrorMessage,
		Malicious:    sample.Malicious,
	}

	if sample.Stage >= model.StageAnalysed {
		detail, err := s.detailRepo.GetByHash(hash)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if detail != nil && detail.FullReport != model.UnindexedString {
			resp.Analysis = detail.FullReport
			resp.AlreadyAnalyzed = true
		}
	}
	return resp, nil
}

// TriggerOrganise 调度整理任务后立即返回
func (s *PipelineService) TriggerOrganise(ctx context.Context, hash string, userID int64) (*dto.OrganiseResponse, error) {
	gate, err := s.registry.BeginOrganising(hash)
	if err != nil {
		return nil, err
	}

	if gate.AlreadyOrganised {
		return &dto.OrganiseResponse{
			MD5:              hash,
			Message:          "Sample already organised",
			Stage:            int(gate.Stage),
			StageLabel:       gate.Stage.String(),
			AlreadyOrganised: true,
		}, nil
	}

	if err := s.dispatch(ctx, queue.KindOrganise, hash, userID, model.StageOrganising); err != nil {
		return nil, err
	}

	return &dto.OrganiseResponse{
		MD5:        hash,
		Message:    "Organising started",
		Stage:      int(model.StageOrganising),
		StageLabel: model.StageOrganising.String(),
	}, nil
}

// GetOrganise 阶段与整理记录；记录不是 JSON 时原样返回
func (s *PipelineService) GetOrganise(hash string) (*dto.OrganiseDetail, error) {
	sample, err := s.getSample(hash)
	if err != nil {
		return nil, err
	}

	resp := &dto.OrganiseDetail{
		MD5:        hash,
		Stage:      int(sample.Stage),
		StageLabel: sample.Stage.String(),
	}

	detail, err := s.detailRepo.GetByHash(hash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return resp, nil
		}
		return nil, err
	}

	if detail.OrganiserTranscript != "" {
		if json.Valid([]byte(detail.OrganiserTranscript)) {
			resp.Transcript = json.RawMessage(detail.OrganiserTranscript)
		} else {
			resp.RawResponse = detail.OrganiserTranscript
		}
	}
	return resp, nil
}

// dispatch 推送任务；失败时回滚已进入的进行中阶段
func (s *PipelineService) dispatch(ctx context.Context, kind, hash string, userID int64, transient model.Stage) error {
	msg := &queue.JobMessage{
		JobID:      uuid.NewString(),
		Kind:       kind,
		SampleHash: hash,
		UserID:     userID,
	}

	if err := s.dispatcher.Push(ctx, msg); err != nil {
		cause := apperr.Wrap(apperr.KindInternal, ErrDispatch.Message, err)
		if rbErr := s.registry.Rollback(hash, transient, cause); rbErr != nil {
			s.logger.Error("failed to roll back after dispatch failure",
				zap.String("sample", hash), zap.Error(rbErr))
		}
		return cause
	}

	s.logger.Info("job dispatched",
		zap.String("job_id", msg.JobID),
		zap.String("kind", kind),
		zap.String("sample", hash),
		zap.Int64("user_id", userID))
	return nil
}

func (s *PipelineService) getSample(hash string) (*model.Sample, error) {
	sample, err := s.sampleRepo.GetByHash(hash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSampleNotFound
		}
		return nil, err
	}
	return sample, nil
}
