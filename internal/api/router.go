package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/statdig_server/config"
	"github.com/qs3c/statdig_server/internal/api/handler"
	"github.com/qs3c/statdig_server/internal/api/middleware"
)

type Router struct {
	authHandler      *handler.AuthHandler
	sampleHandler    *handler.SampleHandler
	pipelineHandler  *handler.PipelineHandler
	searchHandler    *handler.SearchHandler
	websocketHandler *handler.WebSocketHandler
	cfg              *config.Config
	logger           *zap.Logger
}

func NewRouter(
	authHandler *handler.AuthHandler,
	sampleHandler *handler.SampleHandler,
	pipelineHandler *handler.PipelineHandler,
	searchHandler *handler.SearchHandler,
	websocketHandler *handler.WebSocketHandler,
	cfg *config.Config,
	logger *zap.Logger,
) *Router {
	return &Router{
		authHandler:      authHandler,
		sampleHandler:    sampleHandler,
		pipelineHandler:  pipelineHandler,
		searchHandler:    searchHandler,
		websocketHandler: websocketHandler,
		cfg:              cfg,
		logger:           logger,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.Logger(r.logger))
	engine.Use(middleware.SecurityHeaders())
	engine.Use(middleware.CORS(r.cfg.CORS))

	// multipart 超出部分落盘
	engine.MaxMultipartMemory = 8 << 20

	engine.GET("/", handler.Root)

	api := engine.Group("/api/v1")
	{
		api.GET("/health", handler.Root)

		// WebSocket，token 走查询参数
		api.GET("/ws", r.websocketHandler.Handle)

		api.POST("/auth/login", r.authHandler.Login)

		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			authenticated.GET("/auth/me", r.authHandler.Me)

			// 样本
			authenticated.POST("/upload", r.sampleHandler.Upload)
			authenticated.GET("/samples", r.sampleHandler.List)
			authenticated.GET("/functions/:md5", r.sampleHandler.Functions)

			// 流水线
			authenticated.POST("/extract/:md5", r.pipelineHandler.Extract)
			authenticated.GET("/extract/:md5", r.pipelineHandler.ExtractStatus)
			authenticated.POST("/analyze/:md5", r.pipelineHandler.Analyse)
			authenticated.GET("/analyze/:md5", r.pipelineHandler.GetAnalysis)
			authenticated.GET("/analyze/:md5/status", r.pipelineHandler.AnalyseStatus)
			authenticated.POST("/organise/:md5", r.pipelineHandler.Organise)
			authenticated.GET("/organise/:md5", r.pipelineHandler.GetOrganise)

			// 检索
			authenticated.POST("/supersearch", r.searchHandler.Search)
			authenticated.GET("/supersearch/:job_id", r.searchHandler.Summary)

			// 管理员
			admin := authenticated.Group("")
			admin.Use(middleware.RequireAdmin())
			{
				admin.POST("/auth/create-user", r.authHandler.CreateUser)
				admin.GET("/users", r.authHandler.ListUsers)
			}
		}
	}

	return engine
}
