package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/statdig_server/internal/model"
	"github.com/qs3c/statdig_server/internal/pkg/decompiler"
	"github.com/qs3c/statdig_server/internal/pkg/filestore"
	"github.com/qs3c/statdig_server/internal/repository"
)

// ExtractionResult 一次提取的结果
type ExtractionResult struct {
	FunctionCount int64
}

// ExtractionService 运行反编译器并保存函数
type ExtractionService struct {
	functionRepo *repository.FunctionRepository
	store        filestore.Store
	runner       decompiler.Runner
	logger       *zap.Logger
}

func NewExtractionService(
	functionRepo *repository.FunctionRepository,
	store filestore.Store,
	runner decompiler.Runner,
	logger *zap.Logger,
) *ExtractionService {
	return &ExtractionService{
		functionRepo: functionRepo,
		store:        store,
		runner:       runner,
		logger:       logger,
	}
}

// Extract 反编译样本，原始映射写入 dumps/，函数在一个事务内写入
func (s *ExtractionService) Extract(ctx context.Context, hash string) (*ExtractionResult, error) {
	binary, err := s.store.Get(ctx, filestore.SampleKey(hash))
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			return nil, ErrBinaryNotFound
		}
		return nil, err
	}

	start := time.Now()
	result, err := s.runner.Decompile(ctx, hash, binary)
	if err != nil {
		var extErr *decompiler.ExtractionError
		if errors.As(err, &extErr) {
			s.logger.Error("decompiler failed",
				zap.String("sample", hash),
				zap.String("reason", extErr.Message),
				zap.NamedError("raw_error", extErr.RawError))
		}
		return nil, err
	}

	if err := s.store.Put(ctx, filestore.DumpKey(hash), result.Raw); err != nil {
		return nil, err
	}

	functions := make([]*model.Function, 0, len(result.Functions))
	for _, name := range result.Names() {
		fn := result.Functions[name]
		description := fn.Desc
		if description == "" {
			description = model.UnindexedString
		}
		functions = append(functions, &model.Function{
			SampleHash:  hash,
			Name:        name,
			Source:      fn.C,
			Signature:   fn.Sig,
			Description: description,
		})
	}

	inserted, err := s.functionRepo.CreateBatch(functions)
	if err != nil {
		return nil, err
	}
	if inserted == 0 {
		return nil, ErrStoreFunctions
	}

	s.logger.Info("functions extracted",
		zap.String("sample", hash),
		zap.Int64("functions", inserted),
		zap.Duration("elapsed", time.Since(start)))

	return &ExtractionResult{FunctionCount: inserted}, nil
}
