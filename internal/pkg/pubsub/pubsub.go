package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelSampleProgress = "sample_progress"
)

// 任务状态
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ProgressMessage 样本流水线进度消息
type ProgressMessage struct {
	Type       string `json:"type"`
	UserID     int64  `json:"user_id"`
	JobID      string `json:"job_id"`
	Kind       string `json:"kind"`
	SampleHash string `json:"md5"`
	Status     string `json:"status"`
	Stage      int    `json:"stage"`
	StageLabel string `json:"stage_label,omitempty"`
	Step       string `json:"step"`
	Progress   int    `json:"progress"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// 进度阶段常量
const (
	StepQueued      = "queued"
	StepDecompiling = "decompiling"
	StepAnalysing   = "analysing"
	StepResearching = "researching"
	StepEnriching   = "enriching"
	StepDone        = "done"
)

// 阶段对应的进度百分比
var StepProgress = map[string]int{
	StepQueued:      5,
	StepDecompiling: 30,
	StepAnalysing:   50,
	StepResearching: 70,
	StepEnriching:   90,
	StepDone:        100,
}

// 阶段对应的消息
var StepMessages = map[string]string{
	StepQueued:      "任务已排队",
	StepDecompiling: "正在反编译样本",
	StepAnalysing:   "正在进行 AI 分析",
	StepResearching: "正在检索威胁情报",
	StepEnriching:   "正在整理报告",
	StepDone:        "处理完成",
}

// Fill 根据 Step 补全类型、进度和消息，可重复调用
func (m *ProgressMessage) Fill() {
	m.Type = "sample_progress"
	if m.Progress == 0 && m.Step != "" {
		if progress, ok := StepProgress[m.Step]; ok {
			m.Progress = progress
		}
	}
	if m.Message == "" && m.Step != "" {
		if message, ok := StepMessages[m.Step]; ok {
			m.Message = message
		}
	}
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishProgress 发布进度消息
func (p *Publisher) PublishProgress(ctx context.Context, msg *ProgressMessage) error {
	msg.Fill()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}

	return p.client.Publish(ctx, ChannelSampleProgress, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅进度消息，ctx 取消后返回
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ProgressMessage)) error {
	pubsub := s.client.Subscribe(ctx, ChannelSampleProgress)
	defer pubsub.Close()

	// 等待订阅确认，避免之后的发布丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var progressMsg ProgressMessage
			if err := json.Unmarshal([]byte(msg.Payload), &progressMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&progressMsg)
		}
	}
}
