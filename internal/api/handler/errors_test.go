package handler

import (
	"errors"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/qs3c/statdig_server/internal/pkg/apperr"
	"github.com/qs3c/statdig_server/internal/pkg/response"
)

func TestRespondError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"not found", apperr.New(apperr.KindNotFound, "样本不存在"), response.CodeResourceNotFound, "样本不存在"},
		{"provider", apperr.New(apperr.KindProvider, "upstream 502"), response.CodeProviderError, "upstream 502"},
		{"malformed", apperr.New(apperr.KindMalformed, "bad json"), response.CodeProviderError, "bad json"},
		{"external tool", apperr.New(apperr.KindExternalTool, "docker exited 1"), response.CodeExternalTool, "docker exited 1"},
		{"configuration", apperr.New(apperr.KindConfiguration, "no key"), response.CodeConfigError, "no key"},
		{"plain error hidden", errors.New("dial tcp 10.0.0.1:3306"), response.CodeServerError, "服务器内部错误"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/", func(c *gin.Context) { respondError(c, tt.err) })

			w := performRequest(router, "GET", "/", nil)

			resp := parseResponse(t, w)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.message, resp.Message)
		})
	}
}
