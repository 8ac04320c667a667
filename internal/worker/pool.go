package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/statdig_server/internal/pkg/queue"
)

const popTimeout = 5 * time.Second

// JobSource 任务来源
type JobSource interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.JobMessage, error)
}

// JobHandler 任务处理函数
type JobHandler interface {
	Process(ctx context.Context, msg *queue.JobMessage) error
}

// Pool 固定数量的 worker 从队列消费任务
type Pool struct {
	source  JobSource
	handler JobHandler
	workers int
	logger  *zap.Logger
}

func NewPool(source JobSource, handler JobHandler, workers int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{source: source, handler: handler, workers: workers, logger: logger}
}

// Run 阻塞直到 ctx 取消且所有 worker 退出；进行中的任务会被执行完
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.loop(ctx, workerID)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	log := p.logger.With(zap.Int("worker", workerID))
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			return
		default:
		}

		msg, err := p.source.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("failed to pop job", zap.Error(err))
			// 避免 Redis 不可用时空转
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue // 超时，继续等待
		}

		// 已开始的任务不随关闭信号中断
		if err := p.handler.Process(context.WithoutCancel(ctx), msg); err != nil {
			log.Warn("job finished with error", zap.String("job_id", msg.JobID), zap.Error(err))
		}
	}
}

// InlineDispatcher 在当前进程内异步执行任务，用于不部署独立 worker 的场景
type InlineDispatcher struct {
	handler JobHandler
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewInlineDispatcher(handler JobHandler, logger *zap.Logger) *InlineDispatcher {
	return &InlineDispatcher{handler: handler, logger: logger}
}

// Push 立即在后台执行任务，任务不受请求 ctx 取消影响
func (d *InlineDispatcher) Push(ctx context.Context, msg *queue.JobMessage) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}
	jobCtx := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.handler.Process(jobCtx, msg); err != nil {
			d.logger.Warn("inline job finished with error", zap.String("job_id", msg.JobID), zap.Error(err))
		}
	}()
	return nil
}

// Wait 等待所有已提交的任务结束
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
