package handlers

import (
	"errors"
	"net/http"

	"asistente-coples/internal/api/middleware"
	"asistente-coples/internal/services/analysis"
	"asistente-coples/internal/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// GetSystemStatus reports pipeline state, backend reachability and host stats.
func (h *APIHandler) GetSystemStatus(c *gin.Context) {
	status, err := h.analysis.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"inicializado":         status.Initialized,
		"backend_disponible":   status.BackendAvailable,
		"configuracion_activa": status.ActiveConfig,
		"clientes_preview":     status.PreviewClients,
		"sistema":              utils.CollectSystemStats(),
	})
}

type initializeRequest struct {
	ConfigID *uint `json:"configuracion_id"`
}

// InitializeSystem loads camera and models with the requested configuration,
// falling back to the active one when no configuracion_id is sent.
func (h *APIHandler) InitializeSystem(c *gin.Context) {
	var req initializeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	active, err := h.analysis.InitializeWith(c.Request.Context(), req.ConfigID)
	if err != nil {
		switch {
		case errors.Is(err, analysis.ErrNoActiveConfig):
			c.JSON(http.StatusBadRequest, gin.H{"error": middleware.T(c, "configs.no_active")})
		case errors.Is(err, analysis.ErrConfigNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "configs.not_found")})
		default:
			log.Errorf("System initialization failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       middleware.T(c, "system.initialized"),
		"configuracion": active,
	})
}

// GetSystemPreview captures a single frame from the camera without
// running any analysis.
func (h *APIHandler) GetSystemPreview(c *gin.Context) {
	preview, err := h.analysis.Preview(c.Request.Context())
	if err != nil {
		log.Errorf("Preview capture failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, preview)
}

// ReleaseSystem frees camera and model resources in the backend.
func (h *APIHandler) ReleaseSystem(c *gin.Context) {
	if err := h.analysis.Release(c.Request.Context()); err != nil {
		log.Errorf("System release failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": middleware.T(c, "system.released")})
}
