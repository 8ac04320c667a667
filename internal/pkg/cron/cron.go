package cron

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/statdig_server/internal/lifecycle"
	"github.com/qs3c/statdig_server/internal/pkg/filestore"
	"github.com/qs3c/statdig_server/internal/repository"
)

const (
	recoverInterval = 5 * time.Minute
	cleanupInterval = time.Hour
)

// 暂存目录中常驻的文件
var keepStaged = map[string]bool{"ext.py": true}

// Summary 一次清理的结果
type Summary struct {
	StagedFiles    int
	OrphanedDumps  int
	OrphanedBinary int
	Recovered      int
}

type Service struct {
	registry   *lifecycle.Registry
	sampleRepo *repository.SampleRepository
	store      filestore.Store
	stagingDir string
	stagingTTL time.Duration
	staleAfter time.Duration
	logger     *zap.Logger
	stopChan   chan struct{}
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

func NewService(
	registry *lifecycle.Registry,
	sampleRepo *repository.SampleRepository,
	store filestore.Store,
	stagingDir string,
	stagingTTL time.Duration,
	staleAfter time.Duration,
	logger *zap.Logger,
) *Service {
	if stagingTTL <= 0 {
		stagingTTL = 6 * time.Hour
	}
	if staleAfter <= 0 {
		staleAfter = 2 * time.Hour
	}
	return &Service{
		registry:   registry,
		sampleRepo: sampleRepo,
		store:      store,
		stagingDir: stagingDir,
		stagingTTL: stagingTTL,
		staleAfter: staleAfter,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	s.wg.Add(2)
	go s.every(recoverInterval, func() { s.recoverStale() })
	go s.every(cleanupInterval, func() { s.RunNow(context.Background(), false) })
	s.logger.Info("cron service started",
		zap.Duration("stale_after", s.staleAfter),
		zap.Duration("staging_ttl", s.stagingTTL))
}

// Stop 停止定时任务并等待正在执行的任务结束
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	s.logger.Info("cron service stopped")
}

func (s *Service) every(interval time.Duration, task func()) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			task()
		}
	}
}

// RunNow 立即执行全部清理；dryRun 时只统计不删除，也不回滚阶段
func (s *Service) RunNow(ctx context.Context, dryRun bool) Summary {
	var sum Summary
	sum.StagedFiles = s.cleanupStaging(dryRun)
	sum.OrphanedDumps = s.cleanupOrphans(ctx, "dumps/", "dump_", dryRun)
	sum.OrphanedBinary = s.cleanupOrphans(ctx, "samples/", "", dryRun)
	if !dryRun {
		sum.Recovered = s.recoverStale()
	}

	if sum != (Summary{}) {
		s.logger.Info("cleanup summary",
			zap.Bool("dry_run", dryRun),
			zap.Int("staged_files", sum.StagedFiles),
			zap.Int("orphaned_dumps", sum.OrphanedDumps),
			zap.Int("orphaned_binaries", sum.OrphanedBinary),
			zap.Int("recovered", sum.Recovered))
	}
	return sum
}

// recoverStale 回滚进程崩溃后遗留在进行中阶段的样本
func (s *Service) recoverStale() int {
	n, err := s.registry.RecoverStale(s.staleAfter)
	if err != nil {
		s.logger.Error("failed to recover stale samples", zap.Error(err))
	}
	if n > 0 {
		s.logger.Warn("recovered stale samples", zap.Int("count", n))
	}
	return n
}

// cleanupStaging 清理反编译暂存目录中过期的样本与输出文件
func (s *Service) cleanupStaging(dryRun bool) int {
	if s.stagingDir == "" {
		return 0
	}

	entries, err := os.ReadDir(s.stagingDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read staging dir", zap.String("dir", s.stagingDir), zap.Error(err))
		}
		return 0
	}

	cleaned := 0
	for _, entry := range entries {
		if entry.IsDir() || keepStaged[entry.Name()] {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) <= s.stagingTTL {
			continue
		}

		path := filepath.Join(s.stagingDir, entry.Name())
		if dryRun {
			cleaned++
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to remove staged file", zap.String("path", path), zap.Error(err))
		} else {
			cleaned++
		}
	}
	return cleaned
}

// cleanupOrphans 删除样本记录已不存在的存储对象
func (s *Service) cleanupOrphans(ctx context.Context, prefix, namePrefix string, dryRun bool) int {
	keys, err := s.store.List(ctx, prefix)
	if err != nil {
		s.logger.Warn("failed to list objects", zap.String("prefix", prefix), zap.Error(err))
		return 0
	}

	cleaned := 0
	for _, key := range keys {
		hash := strings.TrimPrefix(strings.TrimPrefix(key, prefix), namePrefix)
		if hash == "" {
			continue
		}

		exists, err := s.sampleRepo.Exists(hash)
		if err != nil {
			s.logger.Warn("failed to check sample", zap.String("sample", hash), zap.Error(err))
			continue
		}
		if exists {
			continue
		}

		if dryRun {
			cleaned++
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to delete orphaned object", zap.String("key", key), zap.Error(err))
		} else {
			cleaned++
		}
	}
	return cleaned
}
