package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qs3c/statdig_server/internal/model"
	"github.com/qs3c/statdig_server/internal/model/dto"
	"github.com/qs3c/statdig_server/internal/pkg/llm"
	"github.com/qs3c/statdig_server/internal/pkg/summary"
	"github.com/qs3c/statdig_server/internal/repository"
)

const (
	SearchTypeExact    = "exact"
	SearchTypeSemantic = "semantic"

	SummaryStatusProcessing = "processing"
	SummaryStatusCompleted  = "completed"

	classifierSystemPrompt = `You are a malware analysis assistant. Your job is to classify search terms.

If the search term looks like:
- An exact indicator of compromise (IOC) like IP addresses, domain names, file hashes, registry keys, file paths
- A specific string or identifier that should be matched exactly
- A precise technical term or function name
Then respond with: CLASS_EXACT

If the search term looks like:
- A behavior or technique description
- A general concept or capability
- Something that should be matched semantically/conceptually
Then respond with: CLASS_SEMANTIC

Only respond with CLASS_EXACT or CLASS_SEMANTIC.`

	summarySystemPrompt = "You are a malware analysis expert. Based on the search results provided, give a concise 3-5 sentence summary that directly addresses the user's search query. Focus on the most relevant findings and their significance in malware analysis context."

	summaryContextSize  = 5
	summaryTimeout      = 5 * time.Minute
	noResultsSummary    = "No relevant results found for the search term."
	summaryUnavailable  = "AI analysis unavailable: API key not configured"
	defaultSearchLimit  = 10
	classifierMaxTokens = 100
	summaryMaxTokens    = 500
)

// SearchService 混合检索：先分类查询，再分别检索函数与样本，摘要在后台生成
type SearchService struct {
	searchRepo *repository.SearchRepository
	tagRepo    *repository.TagRepository
	summaries  *summary.Store
	llm        *llm.Client
	limit      int
	logger     *zap.Logger

	wg sync.WaitGroup
}

func NewSearchService(
	searchRepo *repository.SearchRepository,
	tagRepo *repository.TagRepository,
	summaries *summary.Store,
	client *llm.Client,
	limit int,
	logger *zap.Logger,
) *SearchService {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return &SearchService{
		searchRepo: searchRepo,
		tagRepo:    tagRepo,
		summaries:  summaries,
		llm:        client,
		limit:      limit,
		logger:     logger,
	}
}

// Classify 判断查询是精确指标还是语义描述，无法判断或出错时按语义处理
func (s *SearchService) Classify(ctx context.Context, query string) string {
	choice, err := s.llm.Complete(ctx, "classify", openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifierSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Classify this search term: " + query},
		},
		Temperature: 0.1,
		MaxTokens:   classifierMaxTokens,
	})
	if err != nil {
		s.logger.Warn("query classification failed, using semantic", zap.Error(err))
		return SearchTypeSemantic
	}

	switch {
	case strings.Contains(choice.Message.Content, "CLASS_EXACT"):
		return SearchTypeExact
	case strings.Contains(choice.Message.Content, "CLASS_SEMANTIC"):
		return SearchTypeSemantic
	default:
		return SearchTypeSemantic
	}
}

// Search 返回按分数降序合并的结果，并启动摘要任务
func (s *SearchService) Search(ctx context.Context, query string) (*dto.SearchResponse, error) {
	searchType := s.Classify(ctx, query)

	var (
		functionHits []*repository.FunctionHit
		sampleHits   []*repository.SampleHit
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if searchType == SearchTypeExact {
			functionHits, err = s.searchRepo.ExactFunctions(gctx, query, s.limit)
		} else {
			functionHits, err = s.searchRepo.SemanticFunctions(gctx, query, s.limit)
		}
		return err
	})
	g.Go(func() error {
		var err error
		if searchType == SearchTypeExact {
			sampleHits, err = s.searchRepo.ExactSamples(gctx, query, s.limit)
		} else {
			sampleHits, err = s.searchRepo.SemanticSamples(gctx, query, s.limit)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results, err := s.merge(functionHits, sampleHits)
	if err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	s.startSummary(jobID, query, results)

	s.logger.Info("search completed",
		zap.String("type", searchType),
		zap.Int("functions", len(functionHits)),
		zap.Int("samples", len(sampleHits)),
		zap.String("summary_job", jobID))

	return &dto.SearchResponse{
		Query:      query,
		SearchType: searchType,
		Results:    results,
		TotalCount: len(results),
		SummaryJob: jobID,
	}, nil
}

// GetSummary 读取摘要，读取后即删除
func (s *SearchService) GetSummary(ctx context.Context, jobID string) (*dto.SummaryResponse, error) {
	text, ok, err := s.summaries.Take(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobNotFound
	}
	return &dto.SummaryResponse{
		JobID:   jobID,
		Status:  SummaryStatusCompleted,
		Summary: text,
	}, nil
}

// Wait 等待所有摘要任务结束
func (s *SearchService) Wait() {
	s.wg.Wait()
}

// merge 遇到第一个占位文本即停止，样本附带标签，最后按分数稳定排序
func (s *SearchService) merge(functionHits []*repository.FunctionHit, sampleHits []*repository.SampleHit) ([]*dto.SearchResult, error) {
	results := make([]*dto.SearchResult, 0, len(functionHits)+len(sampleHits))

	for _, hit := range functionHits {
		if hit.Description == model.UnindexedString {
			break
		}
		results = append(results, &dto.SearchResult{
			Type:        "function",
			MD5:         hit.SampleHash,
			Name:        hit.Name,
			Source:      hit.Source,
			Description: hit.Description,
			Score:       hit.Score,
		})
	}

	samples := make([]*repository.SampleHit, 0, len(sampleHits))
	for _, hit := range sampleHits {
		if hit.Overview == model.UnindexedString {
			break
		}
		samples = append(samples, hit)
	}

	hashes := make([]string, len(samples))
	for i, hit := range samples {
		hashes[i] = hit.Hash
	}
	tags, err := s.tagRepo.ListBySamples(hashes)
	if err != nil {
		return nil, err
	}

	for _, hit := range samples {
		contents := make([]string, len(tags[hit.Hash]))
		for i, tag := range tags[hit.Hash] {
			contents[i] = tag.Content
		}
		results = append(results, &dto.SearchResult{
			Type:            "sample",
			MD5:             hit.Hash,
			Filename:        hit.Filename,
			FileType:        hit.FileType,
			FileDescription: hit.FileDescription,
			Malicious:       hit.Malicious,
			Stage:           int(hit.Stage),
			Description:     hit.Overview,
			Tags:            strings.Join(contents, ", "),
			Score:           hit.Score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// startSummary 后台生成摘要，不受请求上下文取消影响
func (s *SearchService) startSummary(jobID, query string, results []*dto.SearchResult) {
	top := results
	if len(top) > summaryContextSize {
		top = top[:summaryContextSize]
	}
	top = append([]*dto.SearchResult(nil), top...)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
		defer cancel()

		text := s.summarise(ctx, query, top)
		if err := s.summaries.Put(ctx, jobID, text); err != nil {
			s.logger.Error("failed to store search summary", zap.String("job_id", jobID), zap.Error(err))
		}
	}()
}

func (s *SearchService) summarise(ctx context.Context, query string, results []*dto.SearchResult) string {
	if len(results) == 0 {
		return noResultsSummary
	}

	parts := make([]string, len(results))
	for i, r := range results {
		if r.Type == "function" {
			parts[i] = fmt.Sprintf("Function: %s\nDescription: %s", r.Name, r.Description)
		} else {
			parts[i] = fmt.Sprintf("Sample: %s\nOverview: %s", r.Filename, r.Description)
		}
	}

	userPrompt := fmt.Sprintf("Search term: \"%s\"\n\nSearch results:\n%s\n\nProvide a 3-5 sentence summary of what these results tell us about the search term in the context of malware analysis.",
		query, strings.Join(parts, "\n\n"))

	choice, err := s.llm.Complete(ctx, "summarise", openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.5,
		MaxTokens:   summaryMaxTokens,
	})
	if err != nil {
		if errors.Is(err, llm.ErrMissingAPIKey) {
			return summaryUnavailable
		}
		s.logger.Warn("search summary failed", zap.Error(err))
		return "Error generating summary: " + err.Error()
	}
	return choice.Message.Content
}
