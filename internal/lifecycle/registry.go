// Package lifecycle 样本阶段状态机。所有阶段切换都是带条件的 UPDATE，
// 同一样本的并发触发只会有一个成功。
package lifecycle

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/statdig_server/internal/model"
	"github.com/qs3c/statdig_server/internal/pkg/apperr"
	"github.com/qs3c/statdig_server/internal/repository"
)

var (
	ErrSampleNotFound    = apperr.New(apperr.KindNotFound, "样本不存在")
	ErrNoFunctions       = apperr.New(apperr.KindPrecondition, "样本尚未提取函数，请先执行提取")
	ErrNotAnalysed       = apperr.New(apperr.KindPrecondition, "样本尚未完成分析，请先执行分析")
	ErrAlreadyOrganising = apperr.New(apperr.KindPrecondition, "样本正在整理中")
	ErrNotTransient      = apperr.New(apperr.KindInternal, "阶段不是进行中状态")
)

// 进行中阶段与其完成、回滚后的阶段
var (
	completeTo = map[model.Stage]model.Stage{
		model.StageExtracting: model.StageExtracted,
		model.StageAnalysing:  model.StageAnalysed,
		model.StageOrganising: model.StageOrganised,
	}
	rollbackTo = map[model.Stage]model.Stage{
		model.StageExtracting: model.StageUploaded,
		model.StageAnalysing:  model.StageExtracted,
		model.StageOrganising: model.StageAnalysed,
	}
)

// ExtractionGate BeginExtraction 的结果；AlreadyExtracted 时不应再调度任务
type ExtractionGate struct {
	FunctionCount    int64
	AlreadyExtracted bool
}

// AnalysisGate BeginAnalysis 的结果；AlreadyAnalysed 时携带已有报告
type AnalysisGate struct {
	Report          string
	Malicious       *string
	AlreadyAnalysed bool
}

// OrganiseGate BeginOrganising 的结果
type OrganiseGate struct {
	Stage            model.Stage
	AlreadyOrganised bool
}

type Registry struct {
	sampleRepo   *repository.SampleRepository
	functionRepo *repository.FunctionRepository
	detailRepo   *repository.DetailRepository
	logger       *zap.Logger
}

func NewRegistry(
	sampleRepo *repository.SampleRepository,
	functionRepo *repository.FunctionRepository,
	detailRepo *repository.DetailRepository,
	logger *zap.Logger,
) *Registry {
	return &Registry{
		sampleRepo:   sampleRepo,
		functionRepo: functionRepo,
		detailRepo:   detailRepo,
		logger:       logger,
	}
}

func (r *Registry) load(hash string) (*model.Sample, error) {
	sample, err := r.sampleRepo.GetByHash(hash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSampleNotFound
		}
		return nil, err
	}
	return sample, nil
}

// Stage 当前阶段
func (r *Registry) Stage(hash string) (model.Stage, error) {
	sample, err := r.load(hash)
	if err != nil {
		return 0, err
	}
	return sample.Stage, nil
}

// BeginExtraction 已有函数时直接返回计数，否则 Uploaded → Extracting
func (r *Registry) BeginExtraction(hash string) (*ExtractionGate, error) {
	sample, err := r.load(hash)
	if err != nil {
		return nil, err
	}

	count, err := r.functionRepo.CountBySample(hash)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		// 函数已写入但阶段被回滚到 Uploaded 时补齐阶段
		if sample.Stage == model.StageUploaded {
			err := r.sampleRepo.TransitionStage(hash, model.StageUploaded, model.StageExtracted,
				map[string]interface{}{"error_message": ""})
			if err != nil && !errors.Is(err, repository.ErrStageConflict) {
				return nil, err
			}
			if err == nil {
				r.logger.Warn("repaired stage of extracted sample", zap.String("sample", hash))
			}
		}
		return &ExtractionGate{FunctionCount: count, AlreadyExtracted: true}, nil
	}

	if err := r.transition(hash, model.StageUploaded, model.StageExtracting); err != nil {
		return nil, err
	}
	return &ExtractionGate{}, nil
}

// BeginAnalysis 已分析且有报告时返回缓存结果；无函数时拒绝；否则 Extracted → Analysing
func (r *Registry) BeginAnalysis(hash string) (*AnalysisGate, error) {
	sample, err := r.load(hash)
	if err != nil {
		return nil, err
	}

	if sample.Stage >= model.StageAnalysed {
		detail, err := r.detailRepo.GetByHash(hash)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if detail != nil && detail.FullReport != "" && detail.FullReport != model.UnindexedString {
			return &AnalysisGate{
				Report:          detail.FullReport,
				Malicious:       sample.Malicious,
				AlreadyAnalysed: true,
			}, nil
		}
	}

	count, err := r.functionRepo.CountBySample(hash)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNoFunctions
	}

	// 已分析但报告为空时允许重新分析
	from := model.StageExtracted
	if sample.Stage == model.StageAnalysed {
		from = model.StageAnalysed
	}
	if err := r.transition(hash, from, model.StageAnalysing); err != nil {
		return nil, err
	}
	return &AnalysisGate{}, nil
}

// BeginOrganising 未分析或正在整理时拒绝；已整理时不回退阶段；否则 Analysed → Organising
func (r *Registry) BeginOrganising(hash string) (*OrganiseGate, error) {
	sample, err := r.load(hash)
	if err != nil {
		return nil, err
	}

	switch {
	case sample.Stage < model.StageAnalysed:
		return nil, ErrNotAnalysed
	case sample.Stage == model.StageOrganising:
		return nil, ErrAlreadyOrganising
	case sample.Stage == model.StageOrganised:
		return &OrganiseGate{Stage: sample.Stage, AlreadyOrganised: true}, nil
	}

	if err := r.transition(hash, model.StageAnalysed, model.StageOrganising); err != nil {
		return nil, err
	}
	return &OrganiseGate{Stage: model.StageOrganising}, nil
}

// Complete 进行中阶段推进到完成阶段，并清除上次的错误信息
func (r *Registry) Complete(hash string, from model.Stage) error {
	to, ok := completeTo[from]
	if !ok {
		return ErrNotTransient
	}
	err := r.sampleRepo.TransitionStage(hash, from, to, map[string]interface{}{"error_message": ""})
	if err != nil {
		return err
	}
	r.logger.Info("stage completed",
		zap.String("sample", hash),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	return nil
}

// Rollback 进行中阶段回退到之前的稳定阶段，记录失败原因
func (r *Registry) Rollback(hash string, from model.Stage, cause error) error {
	to, ok := rollbackTo[from]
	if !ok {
		return ErrNotTransient
	}
	err := r.sampleRepo.TransitionStage(hash, from, to, map[string]interface{}{
		"error_message": apperr.Describe(cause),
	})
	if err != nil {
		return err
	}
	r.logger.Warn("stage rolled back",
		zap.String("sample", hash),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Error(cause))
	return nil
}

// Heartbeat 刷新进行中阶段的更新时间；样本已不在 transient 阶段时返回 ErrStageConflict
func (r *Registry) Heartbeat(hash string, transient model.Stage) error {
	if _, ok := completeTo[transient]; !ok {
		return ErrNotTransient
	}
	return r.sampleRepo.Touch(hash, transient)
}

// RecoverStale 回滚长时间停留在进行中阶段的样本（进程崩溃遗留），返回回滚数量
func (r *Registry) RecoverStale(olderThan time.Duration) (int, error) {
	stages := []model.Stage{model.StageExtracting, model.StageAnalysing, model.StageOrganising}
	samples, err := r.sampleRepo.ListStuck(stages, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	recovered := 0
	cause := apperr.New(apperr.KindInternal, "job did not finish within "+olderThan.String())
	for _, s := range samples {
		if err := r.Rollback(s.Hash, s.Stage, cause); err != nil {
			// 期间任务可能已完成
			if errors.Is(err, repository.ErrStageConflict) {
				continue
			}
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// Reset 管理员强制设置阶段，用于修复异常数据
func (r *Registry) Reset(hash string, to model.Stage) error {
	if _, err := r.load(hash); err != nil {
		return err
	}
	return r.sampleRepo.UpdateFields(hash, map[string]interface{}{
		"stage":         to,
		"error_message": "",
	})
}

func (r *Registry) transition(hash string, from, to model.Stage) error {
	if err := r.sampleRepo.TransitionStage(hash, from, to, nil); err != nil {
		return err
	}
	r.logger.Info("stage started",
		zap.String("sample", hash),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	return nil
}
