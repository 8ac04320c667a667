package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/qs3c/statdig_server/internal/lifecycle"
	"github.com/qs3c/statdig_server/internal/model"
	"github.com/qs3c/statdig_server/internal/repository"
)

// resetStageCmd 强制设置样本阶段，用于修复卡住或损坏的样本
var resetStageCmd = &cobra.Command{
	Use:   "reset-stage <md5> <stage>",
	Short: "Force a sample into a stage (0-6)",
	Long: `Force a sample into the given lifecycle stage and clear its error message.

Stages:
  0 Uploaded  1 Extracting  2 Extracted  3 Analysing
  4 Analysed  5 Organising  6 Organised`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stage, err := parseStage(args[1])
		if err != nil {
			return err
		}

		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.log.Sync()

		registry := lifecycle.NewRegistry(
			repository.NewSampleRepository(e.db),
			repository.NewFunctionRepository(e.db),
			repository.NewDetailRepository(e.db),
			e.log,
		)
		if err := registry.Reset(args[0], stage); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[0], stage)
		return nil
	},
}

func parseStage(s string) (model.Stage, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < int(model.StageUploaded) || n > int(model.StageOrganised) {
		return 0, fmt.Errorf("invalid stage %q: want 0-%d", s, model.StageOrganised)
	}
	return model.Stage(n), nil
}
