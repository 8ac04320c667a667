package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/qs3c/statdig_server/config"
	"github.com/qs3c/statdig_server/internal/database"
	"github.com/qs3c/statdig_server/internal/pkg/filestore"
	"github.com/qs3c/statdig_server/internal/pkg/llm"
	"github.com/qs3c/statdig_server/internal/pkg/logger"
	"github.com/qs3c/statdig_server/internal/pkg/pubsub"
	"github.com/qs3c/statdig_server/internal/pkg/queue"
	"github.com/qs3c/statdig_server/internal/worker"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Must(cfg.Log)
	defer log.Sync()

	// 初始化数据库
	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatal("failed to connect database", zap.Error(err))
	}
	log.Info("database connected", zap.String("driver", cfg.Database.Driver))

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	log.Info("redis connected")

	store, err := filestore.New(cfg.Storage)
	if err != nil {
		log.Fatal("failed to init file store", zap.Error(err))
	}

	jobQueue := queue.NewQueue(rdb, cfg.Queue.PipelineQueue)
	processor := worker.NewPipelineProcessor(cfg, db, store, llm.New(cfg.LLM, log), pubsub.NewPublisher(rdb), log)

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("received shutdown signal")
		cancel()
	}()

	log.Info("worker started",
		zap.String("queue", jobQueue.Name()),
		zap.Int("max_workers", cfg.Queue.MaxWorkers))

	// 正在执行的任务会跑完
	worker.NewPool(jobQueue, processor, cfg.Queue.MaxWorkers, log).Run(ctx)

	log.Info("worker shutdown complete")
}
