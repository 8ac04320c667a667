package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/statdig_server/internal/model"
	"github.com/qs3c/statdig_server/internal/model/dto"
	"github.com/qs3c/statdig_server/internal/pkg/apperr"
	"github.com/qs3c/statdig_server/internal/pkg/decompiler"
	"github.com/qs3c/statdig_server/internal/pkg/filestore"
	"github.com/qs3c/statdig_server/internal/pkg/llm"
	"github.com/qs3c/statdig_server/internal/pkg/report"
	"github.com/qs3c/statdig_server/internal/repository"
)

const (
	defaultIngestPrompt = "Analyze this binary dump for malicious behavior and provide a detailed report."

	analysisTemperature = 0.5
	analysisMaxTokens   = 8192
)

// AnalysisResult 一次分析的结果
type AnalysisResult struct {
	Report    string
	Malicious *string
}

// AnalysisService 单轮模型调用生成样本报告
type AnalysisService struct {
	sampleRepo   *repository.SampleRepository
	detailRepo   *repository.DetailRepository
	store        filestore.Store
	llm          *llm.Client
	systemPrompt string
	logger       *zap.Logger
}

func NewAnalysisService(
	sampleRepo *repository.SampleRepository,
	detailRepo *repository.DetailRepository,
	store filestore.Store,
	client *llm.Client,
	promptPath string,
	logger *zap.Logger,
) *AnalysisService {
	return &AnalysisService{
		sampleRepo:   sampleRepo,
		detailRepo:   detailRepo,
		store:        store,
		llm:          client,
		systemPrompt: llm.LoadPrompt(promptPath, defaultIngestPrompt),
		logger:       logger,
	}
}

// Analyse 将原始函数映射作为唯一的用户消息发给模型，保存报告和判定
func (s *AnalysisService) Analyse(ctx context.Context, hash string) (*AnalysisResult, error) {
	dump, err := s.loadDump(ctx, hash)
	if err != nil {
		return nil, err
	}

	choice, err := s.llm.Complete(ctx, "analyse", openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: s.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: dump},
		},
		Temperature: analysisTemperature,
		MaxTokens:   analysisMaxTokens,
	})
	if err != nil {
		if errors.Is(err, llm.ErrMissingAPIKey) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindProvider, "AI analysis failed", err)
	}

	text := report.StripReasoning(choice.Message.Content)
	if text == "" {
		text = model.UnindexedString
	}
	if err := s.detailRepo.SetReport(hash, text); err != nil {
		return nil, err
	}

	result := &AnalysisResult{Report: text}
	if verdict, ok := report.ParseVerdict(text); ok {
		if err := s.sampleRepo.SetVerdict(hash, verdict); err != nil {
			return nil, err
		}
		result.Malicious = &verdict
	} else {
		s.logger.Info("no verdict block in report", zap.String("sample", hash))
	}

	s.logger.Info("sample analysed",
		zap.String("sample", hash),
		zap.Int("report_len", len(text)),
		zap.Bool("verdict", result.Malicious != nil))

	return result, nil
}

// GetAnalysis 报告、判定与函数调用摘要
func (s *AnalysisService) GetAnalysis(ctx context.Context, hash string) (*dto.AnalysisDetail, error) {
	sample, err := s.sampleRepo.GetByHash(hash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSampleNotFound
		}
		return nil, err
	}

	detail, err := s.detailRepo.GetByHash(hash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}

	resp := &dto.AnalysisDetail{
		MD5:        sample.Hash,
		Stage:      int(sample.Stage),
		StageLabel: sample.Stage.String(),
		Malicious:  sample.Malicious,
		IsPublic:   sample.IsPublic,
		Analysis:   detail.FullReport,
	}

	raw, err := s.store.Get(ctx, filestore.DumpKey(hash))
	switch {
	case err == nil:
		tree, err := decompiler.FormatCallTree(raw)
		if err != nil {
			s.logger.Warn("failed to format call tree", zap.String("sample", hash), zap.Error(err))
		}
		resp.SigfnTree = tree
	case !errors.Is(err, filestore.ErrNotFound):
		return nil, err
	}

	return resp, nil
}

// loadDump 读取原始映射并格式化为缩进 JSON
func (s *AnalysisService) loadDump(ctx context.Context, hash string) (string, error) {
	raw, err := s.store.Get(ctx, filestore.DumpKey(hash))
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			return "", ErrDumpNotFound
		}
		return "", err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "corrupt function dump", err)
	}
	return buf.String(), nil
}
