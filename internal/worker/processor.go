package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/statdig_server/internal/agent"
	"github.com/qs3c/statdig_server/internal/lifecycle"
	"github.com/qs3c/statdig_server/internal/model"
	"github.com/qs3c/statdig_server/internal/pkg/apperr"
	"github.com/qs3c/statdig_server/internal/pkg/pubsub"
	"github.com/qs3c/statdig_server/internal/pkg/queue"
	"github.com/qs3c/statdig_server/internal/repository"
	"github.com/qs3c/statdig_server/internal/service"
)

var (
	// ErrUnknownKind 无法识别的任务类型
	ErrUnknownKind = errors.New("unknown job kind")
	// ErrJobSuperseded 样本已离开任务对应的进行中阶段（被超时恢复回滚或被管理员重置），任务被丢弃
	ErrJobSuperseded = apperr.New(apperr.KindConflict, "样本阶段已变化，任务已丢弃")
)

// Extractor 提取样本函数
type Extractor interface {
	Extract(ctx context.Context, hash string) (*service.ExtractionResult, error)
}

// Analyser 生成分析报告
type Analyser interface {
	Analyse(ctx context.Context, hash string) (*service.AnalysisResult, error)
}

// Organiser 执行整理代理
type Organiser interface {
	Run(ctx context.Context, hash string, progress agent.ProgressFunc) error
}

// ProgressPublisher 推送任务进度
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, msg *pubsub.ProgressMessage) error
}

// Processor 任务处理器：执行任务并完成或回滚样本阶段
type Processor struct {
	registry  *lifecycle.Registry
	extractor Extractor
	analyser  Analyser
	organiser Organiser
	publisher ProgressPublisher
	logger    *zap.Logger
}

// NewProcessor 创建任务处理器，publisher 为 nil 时不推送进度
func NewProcessor(
	registry *lifecycle.Registry,
	extractor Extractor,
	analyser Analyser,
	organiser Organiser,
	publisher ProgressPublisher,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		registry:  registry,
		extractor: extractor,
		analyser:  analyser,
		organiser: organiser,
		publisher: publisher,
		logger:    logger,
	}
}

// Process 处理一个流水线任务。样本在调度前已进入进行中阶段，
// 这里负责把它推进到完成阶段，或在失败时回滚并记录原因。
func (p *Processor) Process(ctx context.Context, msg *queue.JobMessage) (err error) {
	var transient model.Stage
	switch msg.Kind {
	case queue.KindExtract:
		transient = model.StageExtracting
	case queue.KindAnalyse:
		transient = model.StageAnalysing
	case queue.KindOrganise:
		transient = model.StageOrganising
	default:
		p.logger.Error("dropping job", zap.String("job_id", msg.JobID), zap.String("kind", msg.Kind))
		return fmt.Errorf("%w: %s", ErrUnknownKind, msg.Kind)
	}

	log := p.logger.With(
		zap.String("job_id", msg.JobID),
		zap.String("kind", msg.Kind),
		zap.String("sample", msg.SampleHash))
	start := time.Now()

	// 排队期间样本可能已被回滚，此时不能再写入结果
	if hbErr := p.registry.Heartbeat(msg.SampleHash, transient); hbErr != nil {
		if errors.Is(hbErr, repository.ErrStageConflict) {
			log.Warn("sample left the job's stage, dropping job")
			return ErrJobSuperseded
		}
		return hbErr
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	publish := func(status, step string, stage model.Stage, errMsg string) {
		if p.publisher == nil {
			return
		}
		pm := &pubsub.ProgressMessage{
			UserID:     msg.UserID,
			JobID:      msg.JobID,
			Kind:       msg.Kind,
			SampleHash: msg.SampleHash,
			Status:     status,
			Stage:      int(stage),
			StageLabel: stage.String(),
			Step:       step,
			Error:      errMsg,
		}
		pm.Fill()
		// 推送失败不影响任务
		if pErr := p.publisher.PublishProgress(context.WithoutCancel(ctx), pm); pErr != nil {
			log.Warn("failed to publish progress", zap.Error(pErr))
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = apperr.New(apperr.KindInternal, fmt.Sprintf("job panicked: %v", r))
		}

		if err != nil {
			log.Error("job failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
			if rbErr := p.registry.Rollback(msg.SampleHash, transient, err); rbErr != nil {
				log.Error("failed to roll back stage", zap.Error(rbErr))
			}
			publish(pubsub.StatusFailed, "", transient, apperr.Describe(err))
			return
		}

		if cErr := p.registry.Complete(msg.SampleHash, transient); cErr != nil {
			// 超时恢复可能已回滚该样本
			log.Error("failed to complete stage", zap.Error(cErr))
			err = cErr
			publish(pubsub.StatusFailed, "", transient, apperr.Describe(cErr))
			return
		}
		log.Info("job completed", zap.Duration("elapsed", time.Since(start)))
		publish(pubsub.StatusCompleted, pubsub.StepDone, completedStage(transient), "")
	}()

	log.Info("job started", zap.Duration("queued_for", start.Sub(msg.EnqueuedAt)))

	switch msg.Kind {
	case queue.KindExtract:
		publish(pubsub.StatusProcessing, pubsub.StepDecompiling, transient, "")
		result, err := p.extractor.Extract(ctx, msg.SampleHash)
		if err != nil {
			return err
		}
		log.Info("functions extracted", zap.Int64("count", result.FunctionCount))

	case queue.KindAnalyse:
		publish(pubsub.StatusProcessing, pubsub.StepAnalysing, transient, "")
		result, err := p.analyser.Analyse(ctx, msg.SampleHash)
		if err != nil {
			return err
		}
		verdict := ""
		if result.Malicious != nil {
			verdict = *result.Malicious
		}
		log.Info("analysis stored", zap.String("verdict", verdict))

	case queue.KindOrganise:
		return p.organiser.Run(ctx, msg.SampleHash, func(step string, iteration int) {
			// 每轮刷新心跳；样本被回滚后停止本次整理
			if hbErr := p.registry.Heartbeat(msg.SampleHash, transient); hbErr != nil {
				log.Warn("organise heartbeat failed, cancelling", zap.Int("iteration", iteration), zap.Error(hbErr))
				cancel()
				return
			}
			publish(pubsub.StatusProcessing, step, transient, "")
		})
	}
	return nil
}

func completedStage(transient model.Stage) model.Stage {
	switch transient {
	case model.StageExtracting:
		return model.StageExtracted
	case model.StageAnalysing:
		return model.StageAnalysed
	default:
		return model.StageOrganised
	}
}
