package llm

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/qs3c/statdig_server/config"
	"github.com/qs3c/statdig_server/internal/pkg/apperr"
)

// ErrMissingAPIKey 未配置模型密钥，不重试
var ErrMissingAPIKey = apperr.New(apperr.KindConfiguration, "LLM API key is not configured")

// ProviderError 模型服务调用失败
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return "llm " + e.Op + " failed: " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Kind() apperr.Kind {
	return apperr.KindProvider
}

var errNoChoices = errors.New("response contained no choices")

// ChatClient OpenAI 兼容的 chat completion 接口
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client 为请求补全模型名并统一错误类型
type Client struct {
	api    ChatClient
	model  string
	logger *zap.Logger
}

// New 根据配置创建客户端；未配置密钥时客户端仍可创建，调用时返回 ErrMissingAPIKey
func New(cfg config.LLMConfig, logger *zap.Logger) *Client {
	if cfg.APIKey == "" {
		return &Client{model: cfg.Model, logger: logger}
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.TimeoutSeconds > 0 {
		oc.HTTPClient = &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	}

	return &Client{
		api:    openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		logger: logger,
	}
}

// NewWithAPI 使用指定的底层接口创建客户端
func NewWithAPI(api ChatClient, model string, logger *zap.Logger) *Client {
	return &Client{api: api, model: model, logger: logger}
}

// Model 当前使用的模型名
func (c *Client) Model() string {
	return c.model
}

// Complete 发起一次 chat completion，返回第一个 choice
func (c *Client) Complete(ctx context.Context, op string, req openai.ChatCompletionRequest) (openai.ChatCompletionChoice, error) {
	if c.api == nil {
		return openai.ChatCompletionChoice{}, ErrMissingAPIKey
	}
	if req.Model == "" {
		req.Model = c.model
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Warn("chat completion failed",
			zap.String("op", op),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return openai.ChatCompletionChoice{}, &ProviderError{Op: op, Err: err}
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionChoice{}, &ProviderError{Op: op, Err: errNoChoices}
	}

	c.logger.Debug("chat completion",
		zap.String("op", op),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return resp.Choices[0], nil
}

// LoadPrompt 读取提示词文件，不可用时使用 fallback
func LoadPrompt(path, fallback string) string {
	if path == "" {
		return fallback
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return fallback
	}
	return prompt
}
