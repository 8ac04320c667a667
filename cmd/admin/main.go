package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/statdig_server/config"
	"github.com/qs3c/statdig_server/internal/database"
	"github.com/qs3c/statdig_server/internal/pkg/logger"
)

var configPath string

// rootCmd 管理命令入口
var rootCmd = &cobra.Command{
	Use:           "statdig-admin",
	Short:         "StatDig administration",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig, "path to config.yaml")

	rootCmd.AddCommand(createUserCmd, initAdminCmd, listUsersCmd, resetStageCmd)
}

// env 子命令共用的配置、日志与数据库
type env struct {
	cfg *config.Config
	log *zap.Logger
	db  *gorm.DB
}

func loadEnv() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &env{cfg: cfg, log: log, db: db}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
