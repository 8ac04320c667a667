package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	openai "github.com/sashabaranov/go-openai"

	"github.com/qs3c/statdig_server/internal/pkg/decompiler"
)

// ErrScriptExhausted FakeChat 的脚本已用完
var ErrScriptExhausted = errors.New("fake chat: no scripted response left")

// ChatStep FakeChat 的一步脚本：返回 Response 或 Err
type ChatStep struct {
	Response openai.ChatCompletionResponse
	Err      error
}

// FakeChat 按顺序返回预设响应，并记录收到的请求
type FakeChat struct {
	mu       sync.Mutex
	steps    []ChatStep
	requests []openai.ChatCompletionRequest
	// Fallback 脚本用完后调用；为 nil 时返回 ErrScriptExhausted
	Fallback func(req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

func NewFakeChat(steps ...ChatStep) *FakeChat {
	return &FakeChat{steps: steps}
}

func (f *FakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.mu.Lock()
	// 记录消息副本，调用方之后追加消息不会影响记录
	recorded := req
	recorded.Messages = append([]openai.ChatCompletionMessage(nil), req.Messages...)
	f.requests = append(f.requests, recorded)

	if len(f.steps) == 0 {
		fallback := f.Fallback
		f.mu.Unlock()
		if fallback != nil {
			return fallback(req)
		}
		return openai.ChatCompletionResponse{}, ErrScriptExhausted
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	return step.Response, step.Err
}

// Requests 已收到的请求
func (f *FakeChat) Requests() []openai.ChatCompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]openai.ChatCompletionRequest(nil), f.requests...)
}

// Calls 已收到的请求数
func (f *FakeChat) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Reply 文本回复
func Reply(content string) ChatStep {
	return ChatStep{Response: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			FinishReason: openai.FinishReasonStop,
		}},
	}}
}

// ToolCallReply 请求调用工具的回复
func ToolCallReply(calls ...openai.ToolCall) ChatStep {
	for i := range calls {
		if calls[i].Type == "" {
			calls[i].Type = openai.ToolTypeFunction
		}
	}
	return ChatStep{Response: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				ToolCalls: calls,
			},
			FinishReason: openai.FinishReasonToolCalls,
		}},
	}}
}

// ToolCall 构造一次工具调用
func ToolCall(id, name, arguments string) openai.ToolCall {
	return openai.ToolCall{
		ID:       id,
		Function: openai.FunctionCall{Name: name, Arguments: arguments},
	}
}

// Fail 返回错误
func Fail(err error) ChatStep {
	return ChatStep{Err: err}
}

// FakeDecompiler 返回预设结果的反编译器
type FakeDecompiler struct {
	mu     sync.Mutex
	Result *decompiler.Result
	Err    error
	Calls  []string
}

func (f *FakeDecompiler) Decompile(ctx context.Context, hash string, binary []byte) (*decompiler.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, hash)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Result, nil
}

// SetupTestRedis 启动 miniredis，测试结束时关闭
func SetupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return client, mr
}
