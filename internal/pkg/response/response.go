package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/statdig_server/internal/pkg/apperr"
)

// 响应码：1xxx 为调用方可修正的错误，5xxx 为服务端或外部依赖错误
const (
	CodeSuccess          = 0
	CodeParamError       = 1000
	CodeAuthFailed       = 1001
	CodePermissionDenied = 1002
	CodeResourceNotFound = 1003
	CodeDuplicateAction  = 1005
	CodePrecondition     = 1006
	CodeStageConflict    = 1007
	CodeServerError      = 5000
	CodeExternalTool     = 5001
	CodeProviderError    = 5002
	CodeConfigError      = 5003
)

var codeMessages = map[int]string{
	CodeSuccess:          "success",
	CodeParamError:       "参数错误",
	CodeAuthFailed:       "认证失败",
	CodePermissionDenied: "权限不足",
	CodeResourceNotFound: "资源不存在",
	CodeDuplicateAction:  "重复操作",
	CodePrecondition:     "前置条件不满足",
	CodeStageConflict:    "样本状态已变化，请刷新后重试",
	CodeServerError:      "服务器内部错误",
	CodeExternalTool:     "反编译工具执行失败",
	CodeProviderError:    "模型服务调用失败",
	CodeConfigError:      "服务配置错误",
}

// kindCodes 错误分类到响应码；模型返回格式错误归入模型服务错误
var kindCodes = map[apperr.Kind]int{
	apperr.KindNotFound:      CodeResourceNotFound,
	apperr.KindPrecondition:  CodePrecondition,
	apperr.KindConflict:      CodeStageConflict,
	apperr.KindExternalTool:  CodeExternalTool,
	apperr.KindProvider:      CodeProviderError,
	apperr.KindConfiguration: CodeConfigError,
	apperr.KindMalformed:     CodeProviderError,
}

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func write(c *gin.Context, status, code int, message string, data interface{}) {
	if message == "" {
		message = codeMessages[code]
	}
	c.JSON(status, Response{Code: code, Message: message, Data: data})
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	write(c, http.StatusOK, CodeSuccess, "", data)
}

// SuccessWithMessage 带自定义消息的成功响应
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	write(c, http.StatusOK, CodeSuccess, message, data)
}

// Accepted 任务尚未完成（如摘要仍在生成），以 202 返回
func Accepted(c *gin.Context, message string, data interface{}) {
	write(c, http.StatusAccepted, CodeSuccess, message, data)
}

// Error 错误响应，message 为空时使用响应码的默认消息
func Error(c *gin.Context, code int, message string) {
	write(c, http.StatusOK, code, message, nil)
}

// CodeFor 返回错误分类对应的响应码，未分类错误为 CodeServerError
func CodeFor(err error) int {
	if code, ok := kindCodes[apperr.KindOf(err)]; ok {
		return code
	}
	return CodeServerError
}

// AppError 按错误分类响应；未分类的错误只返回默认消息，不暴露内部细节
func AppError(c *gin.Context, err error) {
	code := CodeFor(err)
	if code == CodeServerError {
		Error(c, code, "")
		return
	}
	Error(c, code, err.Error())
}

func ParamError(c *gin.Context, message string) { Error(c, CodeParamError, message) }

func AuthError(c *gin.Context, message string) { Error(c, CodeAuthFailed, message) }

func PermissionError(c *gin.Context, message string) { Error(c, CodePermissionDenied, message) }

func DuplicateError(c *gin.Context, message string) { Error(c, CodeDuplicateAction, message) }

func ServerError(c *gin.Context, message string) { Error(c, CodeServerError, message) }
