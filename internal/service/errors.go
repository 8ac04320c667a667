package service

import (
	"errors"

	"github.com/qs3c/statdig_server/internal/lifecycle"
	"github.com/qs3c/statdig_server/internal/pkg/apperr"
)

// 流水线错误
var (
	ErrSampleNotFound    = lifecycle.ErrSampleNotFound
	ErrNoFunctions       = lifecycle.ErrNoFunctions
	ErrNotAnalysed       = lifecycle.ErrNotAnalysed
	ErrAlreadyOrganising = lifecycle.ErrAlreadyOrganising

	ErrBinaryNotFound = apperr.New(apperr.KindNotFound, "样本文件不存在")
	ErrDumpNotFound   = apperr.New(apperr.KindNotFound, "反编译结果不存在，请重新提取")
	ErrReportNotFound = apperr.New(apperr.KindNotFound, "分析报告不存在")
	ErrStoreFunctions = apperr.New(apperr.KindInternal, "函数写入失败")
	ErrJobNotFound    = apperr.New(apperr.KindNotFound, "任务不存在或结果已被读取")
	ErrDispatch       = apperr.New(apperr.KindInternal, "任务调度失败")
	ErrFileTooLarge   = apperr.New(apperr.KindPrecondition, "文件过大")
	ErrEmptyFile      = apperr.New(apperr.KindPrecondition, "文件为空")
)

// 用户错误
var (
	ErrInvalidCredentials = errors.New("用户名或密码错误")
	ErrUsernameExists     = errors.New("用户名已被使用")
	ErrEmailExists        = errors.New("邮箱已被使用")
	ErrUserNotFound       = errors.New("用户不存在")
)
