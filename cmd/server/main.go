package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/statdig_server/config"
	"github.com/qs3c/statdig_server/internal/api"
	"github.com/qs3c/statdig_server/internal/api/handler"
	"github.com/qs3c/statdig_server/internal/database"
	"github.com/qs3c/statdig_server/internal/lifecycle"
	"github.com/qs3c/statdig_server/internal/pkg/cron"
	"github.com/qs3c/statdig_server/internal/pkg/filestore"
	"github.com/qs3c/statdig_server/internal/pkg/llm"
	"github.com/qs3c/statdig_server/internal/pkg/logger"
	"github.com/qs3c/statdig_server/internal/pkg/pubsub"
	"github.com/qs3c/statdig_server/internal/pkg/queue"
	"github.com/qs3c/statdig_server/internal/pkg/summary"
	"github.com/qs3c/statdig_server/internal/pkg/ws"
	"github.com/qs3c/statdig_server/internal/repository"
	"github.com/qs3c/statdig_server/internal/service"
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
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
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

	llmClient := llm.New(cfg.LLM, log)
	publisher := pubsub.NewPublisher(rdb)

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	sampleRepo := repository.NewSampleRepository(db)
	functionRepo := repository.NewFunctionRepository(db)
	detailRepo := repository.NewDetailRepository(db)
	tagRepo := repository.NewTagRepository(db)
	searchRepo := repository.NewSearchRepository(db, cfg.Search.Dialect, cfg.Search.EmbedModel)
	applied, err := searchRepo.EnsureSchema(context.Background(), cfg.Search.EmbedDimensions)
	if err != nil {
		log.Fatal("failed to prepare search schema", zap.Error(err))
	}
	if len(applied) > 0 {
		log.Info("search schema updated", zap.Strings("statements", applied))
	}

	registry := lifecycle.NewRegistry(sampleRepo, functionRepo, detailRepo, log)

	// 任务调度：默认走 Redis 队列由 worker 消费，inline 模式在本进程执行
	var (
		dispatcher service.Dispatcher
		inline     *worker.InlineDispatcher
	)
	if cfg.Queue.Inline {
		processor := worker.NewPipelineProcessor(cfg, db, store, llmClient, publisher, log)
		inline = worker.NewInlineDispatcher(processor, log)
		dispatcher = inline
		log.Info("pipeline jobs run inline")
	} else {
		dispatcher = queue.NewQueue(rdb, cfg.Queue.PipelineQueue)
	}

	// 初始化 Service
	authService := service.NewAuthService(userRepo, cfg, log)
	sampleService := service.NewSampleService(sampleRepo, functionRepo, tagRepo, store, cfg.Upload.MaxSize, log)
	analysisService := service.NewAnalysisService(sampleRepo, detailRepo, store, llmClient, cfg.Prompts.IngestPath, log)
	pipelineService := service.NewPipelineService(registry, sampleRepo, functionRepo, detailRepo, dispatcher, log)
	summaries := summary.NewStore(rdb, time.Duration(cfg.Search.SummaryTTLMinutes)*time.Minute)
	searchService := service.NewSearchService(searchRepo, tagRepo, summaries, llmClient, cfg.Search.Limit, log)

	// WebSocket Hub，转发 worker 发布的进度
	wsHub := ws.NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		err := pubsub.NewSubscriber(rdb).Subscribe(ctx, wsHub.ForwardProgress)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("progress subscription stopped", zap.Error(err))
		}
	}()

	// 定时清理与卡住阶段恢复
	cronService := cron.NewService(registry, sampleRepo, store, cfg.Decompiler.WorkDir,
		time.Duration(cfg.Cleanup.StagingExpireHours)*time.Hour,
		time.Duration(cfg.Cleanup.StaleAfterMinutes)*time.Minute,
		log)
	cronService.Start()

	// 初始化 Handler 与 Router
	router := api.NewRouter(
		handler.NewAuthHandler(authService),
		handler.NewSampleHandler(sampleService, cfg.Upload.MaxSize),
		handler.NewPipelineHandler(pipelineService, analysisService),
		handler.NewSearchHandler(searchService),
		handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins, log),
		cfg,
		log,
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}

	cancel()
	cronService.Stop()
	searchService.Wait()
	if inline != nil {
		// 等待进程内任务结束
		inline.Wait()
	}
	log.Info("server shutdown complete")
}
