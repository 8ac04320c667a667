// Package agent 整理代理：带联网搜索的多轮对话，最后以 JSON 输出补充信息并写回样本。
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/statdig_server/internal/model"
	"github.com/qs3c/statdig_server/internal/pkg/apperr"
	"github.com/qs3c/statdig_server/internal/pkg/llm"
	"github.com/qs3c/statdig_server/internal/pkg/report"
	"github.com/qs3c/statdig_server/internal/repository"
)

const (
	DefaultMaxIterations = 5

	defaultSystemPrompt = "You are a malware analysis assistant. Analyze the provided malware report and enrich it with web search information."

	defaultFormatTemplate = `You have collected various data from the web searches. Now, use the information you have gathered to enrich the malware report you were given, in the JSON specified.

{
  "iocs_table": "",
  "enriched_overview": "",
  "tags": ["tag1", "tag2"],
  "contentful_functions": {
    "function_name": "description"
  }
}`

	nudgeMessage = "Thank you. YOU MUST NOW USE THE WEB SEARCH TOOL PROVIDED TO YOU. Execute your previously planned searches which you have yet to execute and summarise your findings."

	tagsPlaceholder = "{TAGS}"

	agentTemperature = 0.6
	finalMaxTokens   = 8192
)

// 进度阶段
const (
	StepResearching = "researching"
	StepEnriching   = "enriching"
)

var ErrNoReport = apperr.New(apperr.KindNotFound, "No analysis report found for this sample")

// ProgressFunc 进度回调，iteration 从 1 开始；最终轮为 0
type ProgressFunc func(step string, iteration int)

// Config 整理代理参数
type Config struct {
	SystemPromptPath   string
	FormatTemplatePath string
	MaxIterations      int
}

type Organiser struct {
	llm          *llm.Client
	sampleRepo   *repository.SampleRepository
	detailRepo   *repository.DetailRepository
	functionRepo *repository.FunctionRepository
	tagRepo      *repository.TagRepository
	cfg          Config
	logger       *zap.Logger
}

func NewOrganiser(
	client *llm.Client,
	sampleRepo *repository.SampleRepository,
	detailRepo *repository.DetailRepository,
	functionRepo *repository.FunctionRepository,
	tagRepo *repository.TagRepository,
	cfg Config,
	logger *zap.Logger,
) *Organiser {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Organiser{
		llm:          client,
		sampleRepo:   sampleRepo,
		detailRepo:   detailRepo,
		functionRepo: functionRepo,
		tagRepo:      tagRepo,
		cfg:          cfg,
		logger:       logger,
	}
}

// Run 执行一次整理。调用方负责阶段切换；失败时整理记录被替换为失败信息。
func (o *Organiser) Run(ctx context.Context, hash string, progress ProgressFunc) (err error) {
	if progress == nil {
		progress = func(string, int) {}
	}

	defer func() {
		if r := recover(); r != nil {
			err = apperr.New(apperr.KindInternal, fmt.Sprintf("organiser panicked: %v", r))
		}
		if err != nil {
			o.logger.Error("organiser failed", zap.String("sample", hash), zap.Error(err))
			if tErr := o.detailRepo.SetTranscript(hash, failureTranscript(err)); tErr != nil {
				o.logger.Error("failed to store failure transcript", zap.String("sample", hash), zap.Error(tErr))
			}
		}
	}()

	return o.run(ctx, hash, progress)
}

func (o *Organiser) run(ctx context.Context, hash string, progress ProgressFunc) error {
	detail, err := o.detailRepo.GetByHash(hash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoReport
		}
		return err
	}
	if detail.FullReport == "" || detail.FullReport == model.UnindexedString {
		return ErrNoReport
	}

	code, err := o.functionCode(hash, report.ParseSignificantFunctions(detail.FullReport))
	if err != nil {
		return err
	}

	conv := &conversation{}
	conv.add(openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: llm.LoadPrompt(o.cfg.SystemPromptPath, defaultSystemPrompt),
	})
	conv.addPrivate(openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: initialPrompt(detail.FullReport, code),
	})
	if err := o.persist(hash, conv); err != nil {
		return err
	}

	for i := 0; i < o.cfg.MaxIterations; i++ {
		progress(StepResearching, i+1)

		// 首轮不提供工具，让模型先规划搜索
		choice, err := o.chat(ctx, conv, i > 0)
		if err != nil {
			return err
		}
		conv.add(choice.Message)

		if choice.FinishReason == openai.FinishReasonToolCalls {
			o.answerToolCalls(hash, conv, choice.Message.ToolCalls)
			if err := o.persist(hash, conv); err != nil {
				return err
			}

			followUp, err := o.chat(ctx, conv, true)
			if err != nil {
				return err
			}
			conv.add(followUp.Message)
			// 续写仍请求工具时补齐结果，保证下一次请求合法
			if followUp.FinishReason == openai.FinishReasonToolCalls {
				o.answerToolCalls(hash, conv, followUp.Message.ToolCalls)
			}
		}

		conv.add(openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: nudgeMessage})
		if err := o.persist(hash, conv); err != nil {
			return err
		}
	}

	progress(StepEnriching, 0)

	template, err := o.formatTemplate()
	if err != nil {
		return err
	}
	conv.add(openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: template})

	final, err := o.llm.Complete(ctx, "organise_final", openai.ChatCompletionRequest{
		Messages:    conv.messages(),
		Temperature: agentTemperature,
		MaxTokens:   finalMaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return err
	}
	conv.add(final.Message)
	if err := o.persist(hash, conv); err != nil {
		return err
	}

	enrichment, errs := ParseEnrichment(final.Message.Content)
	for _, e := range errs {
		o.logger.Warn("malformed enrichment", zap.String("sample", hash), zap.Error(e))
	}
	if enrichment != nil {
		o.apply(hash, enrichment)
	}

	o.logger.Info("organiser finished",
		zap.String("sample", hash),
		zap.Int("iterations", o.cfg.MaxIterations),
		zap.Int("turns", len(conv.turns)))
	return nil
}

func (o *Organiser) chat(ctx context.Context, conv *conversation, withTools bool) (openai.ChatCompletionChoice, error) {
	req := openai.ChatCompletionRequest{
		Messages:    conv.messages(),
		Temperature: agentTemperature,
	}
	if withTools {
		req.Tools = []openai.Tool{webSearchTool()}
	}
	return o.llm.Complete(ctx, "organise", req)
}

func (o *Organiser) answerToolCalls(hash string, conv *conversation, calls []openai.ToolCall) {
	for _, call := range calls {
		if call.Function.Name == WebSearchTool {
			o.logger.Info("web search", zap.String("sample", hash), zap.String("arguments", call.Function.Arguments))
		} else {
			o.logger.Warn("unknown tool requested", zap.String("sample", hash), zap.String("tool", call.Function.Name))
		}
		conv.add(resolveToolCall(call))
	}
}

func (o *Organiser) persist(hash string, conv *conversation) error {
	transcript, err := conv.transcript()
	if err != nil {
		return err
	}
	return o.detailRepo.SetTranscript(hash, transcript)
}

// functionCode 按函数名排序拼接重要函数的源码
func (o *Organiser) functionCode(hash string, names []string) (string, error) {
	if len(names) == 0 {
		return "", nil
	}
	functions, err := o.functionRepo.GetByNames(hash, names)
	if err != nil {
		return "", err
	}

	sections := make([]string, len(functions))
	for i, fn := range functions {
		sections[i] = fmt.Sprintf("// Function: %s\n%s\n", fn.Name, fn.Source)
	}
	return strings.Join(sections, "\n"), nil
}

// formatTemplate 最终轮的输出格式说明，{TAGS} 替换为已有标签
func (o *Organiser) formatTemplate() (string, error) {
	template := llm.LoadPrompt(o.cfg.FormatTemplatePath, defaultFormatTemplate)

	tags, err := o.tagRepo.List()
	if err != nil {
		return "", err
	}

	tagsText := "No existing tags found."
	if len(tags) > 0 {
		lines := make([]string, len(tags))
		for i, tag := range tags {
			lines[i] = fmt.Sprintf("- %s: %s", tag.ID, tag.Content)
		}
		tagsText = "Existing tags:\n" + strings.Join(lines, "\n")
	}

	return strings.ReplaceAll(template, tagsPlaceholder, tagsText), nil
}

func initialPrompt(report, code string) string {
	return fmt.Sprintf(`Here is the malware analysis report:

%s

Here are the significant functions' C code:

%s

Please analyze this malware and conduct web searches to gather more intelligence about any indicators of compromise (IOCs) you find.`, report, code)
}
