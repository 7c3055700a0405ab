package http

import (
	"github.com/EternisAI/radsec-provisioner/internal/api/http/handler"
	"github.com/EternisAI/radsec-provisioner/internal/api/http/middleware"
	"github.com/EternisAI/radsec-provisioner/internal/auth"
	"github.com/EternisAI/radsec-provisioner/internal/ledger"
	"github.com/gin-gonic/gin"
)

type Services struct {
	Runner    handler.RunStarter
	Store     ledger.Store
	JWTSecret string
	Version   string
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler(srvs.Version)
	engine.GET("/health", healthHandler.Check)

	runsHandler := handler.NewRunsHandler(srvs.Runner, srvs.Store)

	api := engine.Group("/api/v1", middleware.JWTAuth(srvs.JWTSecret))
	api.GET("/runs", runsHandler.List)
	api.GET("/runs/:id", runsHandler.Get)
	api.POST("/runs", middleware.RequireRole(auth.RoleAdmin, auth.RoleOperator), runsHandler.Create)
}
