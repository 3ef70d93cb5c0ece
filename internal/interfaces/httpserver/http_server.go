package httpserver

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ultra-server/services/orchestrator-api/internal/config"
	middleware "ultra-server/services/orchestrator-api/internal/interfaces/httpserver/middlewares"

	"ultra-server/services/orchestrator-api/internal/interfaces/httpserver/handlers/orchestrationhandler"
)

type HTTPServer struct {
	engine  *gin.Engine
	handler *orchestrationhandler.Handler
	config  *config.Config
}

func NewHttpServer(
	handler *orchestrationhandler.Handler,
	cfg *config.Config,
	log zerolog.Logger,
) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)
	server := HTTPServer{
		engine:  gin.New(),
		handler: handler,
		config:  cfg,
	}
	server.engine.Use(gin.Recovery())
	server.engine.Use(middleware.RequestID())
	server.engine.Use(middleware.TracingMiddleware(cfg.ServiceName))
	server.engine.Use(middleware.LoggingMiddleware(log))

	server.engine.GET("/healthz", handler.Healthz)
	server.engine.GET("/readyz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	server.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := server.engine.Group("/v1")
	v1.POST("/orchestrate", handler.Orchestrate)
	v1.POST("/orchestrate/stream", handler.OrchestrateStream)
	v1.GET("/models", handler.ListModels)

	return &server
}

func (s *HTTPServer) Run() error {
	return s.engine.Run(fmt.Sprintf(":%d", s.config.HTTPPort))
}
