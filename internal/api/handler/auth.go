package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/statdig_server/internal/api/middleware"
	"github.com/qs3c/statdig_server/internal/model/dto"
	"github.com/qs3c/statdig_server/internal/pkg/response"
	"github.com/qs3c/statdig_server/internal/service"
)

type AuthHandler struct {
	authService *service.AuthService
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// Login 用户登录
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.Login(&req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			response.AuthError(c, err.Error())
		default:
			respondError(c, err)
		}
		return
	}

	response.SuccessWithMessage(c, "登录成功", resp)
}

// Me 当前用户
// GET /api/v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	user, err := h.authService.GetUser(userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			response.AuthError(c, err.Error())
			return
		}
		respondError(c, err)
		return
	}

	response.Success(c, user)
}

// CreateUser 管理员创建用户
// POST /api/v1/auth/create-user
func (h *AuthHandler) CreateUser(c *gin.Context) {
	var req dto.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	user, err := h.authService.CreateUser(&req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUsernameExists), errors.Is(err, service.ErrEmailExists):
			response.DuplicateError(c, err.Error())
		default:
			respondError(c, err)
		}
		return
	}

	response.SuccessWithMessage(c, "用户创建成功", user)
}

// ListUsers 管理员查看全部用户
// GET /api/v1/users
func (h *AuthHandler) ListUsers(c *gin.Context) {
	users, err := h.authService.ListUsers()
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{"users": users})
}
