package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/statdig_server/config"
	"github.com/qs3c/statdig_server/internal/database"
	"github.com/qs3c/statdig_server/internal/lifecycle"
	"github.com/qs3c/statdig_server/internal/pkg/cron"
	"github.com/qs3c/statdig_server/internal/pkg/filestore"
	"github.com/qs3c/statdig_server/internal/pkg/logger"
	"github.com/qs3c/statdig_server/internal/repository"
)

var (
	dryRun        = flag.Bool("dry-run", true, "Dry run mode, only report what would be removed")
	stagingExpire = flag.Int("staging-expire", 0, "Hours to keep decompiler staging files (0 = config value)")
	staleAfter    = flag.Int("stale-after", 0, "Minutes before an in-progress sample is rolled back (0 = config value)")
)

func main() {
	flag.Parse()

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

	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatal("failed to connect database", zap.Error(err))
	}

	store, err := filestore.New(cfg.Storage)
	if err != nil {
		log.Fatal("failed to init file store", zap.Error(err))
	}

	if *stagingExpire <= 0 {
		*stagingExpire = cfg.Cleanup.StagingExpireHours
	}
	if *staleAfter <= 0 {
		*staleAfter = cfg.Cleanup.StaleAfterMinutes
	}

	sampleRepo := repository.NewSampleRepository(db)
	registry := lifecycle.NewRegistry(sampleRepo,
		repository.NewFunctionRepository(db),
		repository.NewDetailRepository(db),
		log)

	svc := cron.NewService(registry, sampleRepo, store, cfg.Decompiler.WorkDir,
		time.Duration(*stagingExpire)*time.Hour,
		time.Duration(*staleAfter)*time.Minute,
		log)

	log.Info("starting cleanup", zap.Bool("dry_run", *dryRun))
	sum := svc.RunNow(context.Background(), *dryRun)

	fmt.Printf("staging files:     %d\n", sum.StagedFiles)
	fmt.Printf("orphaned dumps:    %d\n", sum.OrphanedDumps)
	fmt.Printf("orphaned binaries: %d\n", sum.OrphanedBinary)
	fmt.Printf("recovered samples: %d\n", sum.Recovered)
	if *dryRun {
		fmt.Println("DRY RUN - nothing was removed; run with -dry-run=false to apply")
	}
}
