package handlers

import (
	"asistente-coples/config"
	"asistente-coples/internal/api/middleware"
	"asistente-coples/internal/auth"
	"asistente-coples/internal/db/repository"
	"asistente-coples/internal/server/sse"
	"asistente-coples/internal/services/analysis"

	"github.com/gin-gonic/gin"
)

// APIHandler serves all dashboard API requests.
type APIHandler struct {
	repo     *repository.Repository
	cfg      *config.Config
	auth     *auth.Service
	analysis *analysis.Service
	hub      *sse.Hub
}

// NewAPIHandler creates the handler with its dependencies.
func NewAPIHandler(repo *repository.Repository, cfg *config.Config, authService *auth.Service, analysisService *analysis.Service, hub *sse.Hub) *APIHandler {
	return &APIHandler{
		repo:     repo,
		cfg:      cfg,
		auth:     authService,
		analysis: analysisService,
		hub:      hub,
	}
}

// RegisterRoutes registers all API routes on the given group.
func (h *APIHandler) RegisterRoutes(router *gin.RouterGroup) {
	requireAuth := middleware.RequireAuth(h.auth, h.repo)
	requireAdmin := middleware.RequireAdmin(h.cfg.Auth.AdminRole)

	// Token endpoints
	router.POST("/token", h.ObtainToken)
	router.POST("/token/refresh", h.RefreshToken)

	// User endpoints
	users := router.Group("/users")
	{
		users.POST("/register", h.RegisterUser)
		users.GET("/me", requireAuth, h.GetCurrentUser)
		users.GET("", requireAuth, requireAdmin, h.ListUsers)
		users.GET("/:id", requireAuth, requireAdmin, h.GetUser)
		users.PUT("/:id", requireAuth, requireAdmin, h.UpdateUser)
		users.DELETE("/:id", requireAuth, requireAdmin, h.DeleteUser)
	}

	// Role endpoints
	roles := router.Group("/roles", requireAuth, requireAdmin)
	{
		roles.GET("", h.ListRoles)
		roles.POST("", h.CreateRole)
		roles.GET("/:id", h.GetRole)
		roles.PUT("/:id", h.UpdateRole)
		roles.DELETE("/:id", h.DeleteRole)
	}

	// Inspection endpoints
	coples := router.Group("/analisis-coples", requireAuth)
	{
		configs := coples.Group("/configuraciones")
		{
			configs.GET("", h.ListConfigs)
			configs.POST("", h.CreateConfig)
			configs.GET("/activa", h.GetActiveConfig)
			configs.GET("/:id", h.GetConfig)
			configs.PUT("/:id", h.UpdateConfig)
			configs.DELETE("/:id", requireAdmin, h.DeleteConfig)
			configs.POST("/:id/activar", h.ActivateConfig)
		}

		analyses := coples.Group("/analisis")
		{
			analyses.GET("", h.ListAnalyses)
			analyses.POST("/realizar_analisis", h.PerformAnalysis)
			analyses.GET("/estadisticas", h.GetAnalysisStatistics)
			analyses.GET("/recientes", h.ListRecentAnalyses)
			analyses.GET("/:id", h.GetAnalysis)
		}

		coples.GET("/imagen/:id", h.GetAnalysisImage)
		coples.GET("/miniatura/:id", h.GetAnalysisThumbnail)

		stats := coples.Group("/estadisticas")
		{
			stats.GET("", h.ListDailyStatistics)
			stats.GET("/resumen", h.GetStatisticsSummary)
		}

		system := coples.Group("/sistema")
		{
			system.GET("/estado", h.GetSystemStatus)
			system.GET("/preview", h.GetSystemPreview)
			system.POST("/inicializar", requireAdmin, h.InitializeSystem)
			system.POST("/liberar", requireAdmin, h.ReleaseSystem)
		}
	}

	// Live event stream
	router.GET("/events", requireAuth, h.StreamEvents)
}
