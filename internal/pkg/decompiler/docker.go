package decompiler

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/statdig_server/config"
	"github.com/qs3c/statdig_server/internal/pkg/apperr"
)

//go:embed assets/ext.py
var postScript []byte

const postScriptName = "ext.py"

// ExtractionError 反编译失败，Message 面向用户，RawError 写日志
type ExtractionError struct {
	Message  string
	RawError error
}

func (e *ExtractionError) Error() string {
	if e.RawError != nil {
		return e.Message + ": " + e.RawError.Error()
	}
	return e.Message
}

func (e *ExtractionError) Unwrap() error {
	return e.RawError
}

func (e *ExtractionError) Kind() apperr.Kind {
	return apperr.KindExternalTool
}

// Runner 对单个样本执行反编译
type Runner interface {
	Decompile(ctx context.Context, hash string, binary []byte) (*Result, error)
}

// CommandFunc 执行外部命令并返回合并输出
type CommandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// DockerRunner 在一次性容器中运行 Ghidra headless 分析
type DockerRunner struct {
	dockerBin       string
	image           string
	workDir         string
	containerPrefix string
	timeout         time.Duration
	run             CommandFunc
	logger          *zap.Logger
}

// NewDockerRunner 创建 Docker 反编译器
func NewDockerRunner(cfg config.DecompilerConfig, logger *zap.Logger) *DockerRunner {
	r := &DockerRunner{
		dockerBin:       cfg.DockerBin,
		image:           cfg.Image,
		workDir:         cfg.WorkDir,
		containerPrefix: cfg.ContainerPrefix,
		timeout:         time.Duration(cfg.TimeoutMinutes) * time.Minute,
		run:             execCommand,
		logger:          logger,
	}
	if r.dockerBin == "" {
		r.dockerBin = "docker"
	}
	if r.image == "" {
		r.image = "blacktop/ghidra:10"
	}
	if r.workDir == "" {
		r.workDir = "for-docker"
	}
	if r.containerPrefix == "" {
		r.containerPrefix = "ghidra-"
	}
	if r.timeout <= 0 {
		r.timeout = 30 * time.Minute
	}
	return r
}

// WithCommand 替换命令执行函数
func (r *DockerRunner) WithCommand(fn CommandFunc) *DockerRunner {
	r.run = fn
	return r
}

// ContainerName 样本对应的容器名
func (r *DockerRunner) ContainerName(hash string) string {
	return r.containerPrefix + hash
}

// WorkDir 暂存目录
func (r *DockerRunner) WorkDir() string {
	return r.workDir
}

// Decompile 暂存样本、运行容器、解析输出；无论成功与否都会清理容器和暂存文件
func (r *DockerRunner) Decompile(ctx context.Context, hash string, binary []byte) (*Result, error) {
	workDir, err := filepath.Abs(r.workDir)
	if err != nil {
		return nil, &ExtractionError{Message: "invalid decompiler work dir", RawError: err}
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, &ExtractionError{Message: "failed to create decompiler work dir", RawError: err}
	}

	container := r.ContainerName(hash)
	binaryPath := filepath.Join(workDir, hash)
	outputName := fmt.Sprintf("output_%s.txt", hash)
	outputPath := filepath.Join(workDir, outputName)

	defer r.cleanup(container, binaryPath, outputPath)

	if err := os.WriteFile(binaryPath, binary, 0644); err != nil {
		return nil, &ExtractionError{Message: "failed to stage sample", RawError: err}
	}
	if err := os.WriteFile(filepath.Join(workDir, postScriptName), postScript, 0644); err != nil {
		return nil, &ExtractionError{Message: "failed to stage post-script", RawError: err}
	}

	// 同名容器可能是上次崩溃遗留的
	r.removeContainer(container)

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	script := fmt.Sprintf(
		"mkdir -p /proj && support/analyzeHeadless /proj proj -import /samples/%s -postscript /samples/%s > /samples/%s 2>&1",
		hash, postScriptName, outputName,
	)
	args := []string{
		"run", "--init", "--rm",
		"--name", container,
		"--entrypoint", "/bin/bash",
		"-v", workDir + ":/samples",
		r.image,
		"-c", script,
	}

	r.logger.Info("decompiler started",
		zap.String("sample", hash),
		zap.String("container", container),
		zap.String("image", r.image))
	start := time.Now()

	if out, err := r.run(runCtx, r.dockerBin, args...); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, &ExtractionError{
				Message:  fmt.Sprintf("decompiler timed out after %s", r.timeout),
				RawError: err,
			}
		}
		return nil, &ExtractionError{
			Message:  "decompiler execution failed",
			RawError: fmt.Errorf("%w, output: %s", err, strings.TrimSpace(string(out))),
		}
	}

	output, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, &ExtractionError{Message: "decompiler produced no output file", RawError: err}
	}

	result, err := ParseOutput(output)
	if err != nil {
		return nil, err
	}

	r.logger.Info("decompiler finished",
		zap.String("sample", hash),
		zap.Int("functions", len(result.Functions)),
		zap.Duration("elapsed", time.Since(start)))

	return result, nil
}

func (r *DockerRunner) removeContainer(container string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// 容器不存在时 docker 返回非零，忽略
	_, _ = r.run(ctx, r.dockerBin, "rm", "-f", container)
}

func (r *DockerRunner) cleanup(container string, paths ...string) {
	r.removeContainer(container)
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("failed to remove staged file", zap.String("path", p), zap.Error(err))
		}
	}
}
