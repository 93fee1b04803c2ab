package handlers

import (
	"net/http"

	"asistente-coples/internal/api/middleware"
	"asistente-coples/internal/core/models"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type configRequest struct {
	Name                string   `json:"nombre" binding:"required,min=2"`
	CameraIP            string   `json:"ip_camara" binding:"required,ip"`
	ConfidenceThreshold *float64 `json:"umbral_confianza" binding:"required,gte=0,lte=1"`
	IoUThreshold        *float64 `json:"umbral_iou" binding:"required,gte=0,lte=1"`
	Robustness          string   `json:"configuracion_robustez" binding:"required,oneof=original moderada permisiva ultra_permisiva"`
	Active              bool     `json:"activa"`
}

// ListConfigs returns all pipeline configurations, newest first.
func (h *APIHandler) ListConfigs(c *gin.Context) {
	configs, err := h.repo.ListConfigs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, configs)
}

// CreateConfig stores a new pipeline configuration.
func (h *APIHandler) CreateConfig(c *gin.Context) {
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := &models.SystemConfig{
		Name:                req.Name,
		CameraIP:            req.CameraIP,
		ConfidenceThreshold: *req.ConfidenceThreshold,
		IoUThreshold:        *req.IoUThreshold,
		Robustness:          req.Robustness,
		Active:              req.Active,
	}
	if user := middleware.CurrentUser(c); user != nil {
		cfg.CreatedByID = &user.ID
	}

	if err := h.repo.SaveConfig(cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	created, err := h.repo.GetConfigByID(cfg.ID)
	if err != nil || created == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": middleware.T(c, "auth.internal_error")})
		return
	}

	log.Infof("Configuration %q created", created.Name)
	c.JSON(http.StatusCreated, created)
}

// GetConfig returns one configuration by id.
func (h *APIHandler) GetConfig(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	cfg, err := h.repo.GetConfigByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "configs.not_found")})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// GetActiveConfig returns the currently active configuration.
func (h *APIHandler) GetActiveConfig(c *gin.Context) {
	cfg, err := h.repo.GetActiveConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "configs.no_active")})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// UpdateConfig replaces the parameters of a configuration.
func (h *APIHandler) UpdateConfig(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	cfg, err := h.repo.GetConfigByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "configs.not_found")})
		return
	}

	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg.Name = req.Name
	cfg.CameraIP = req.CameraIP
	cfg.ConfidenceThreshold = *req.ConfidenceThreshold
	cfg.IoUThreshold = *req.IoUThreshold
	cfg.Robustness = req.Robustness
	cfg.Active = req.Active
	cfg.CreatedBy = nil

	if err := h.repo.SaveConfig(cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.repo.GetConfigByID(cfg.ID)
	if err != nil || updated == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": middleware.T(c, "auth.internal_error")})
		return
	}
	c.JSON(http.StatusOK, updated)
}

// ActivateConfig marks a configuration active, deactivates all others and
// re-initializes the vision pipeline so the new parameters take effect
// immediately. The activation itself persists even when the backend cannot
// be re-initialized; the response reports the initialization outcome.
func (h *APIHandler) ActivateConfig(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	cfg, err := h.repo.ActivateConfig(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "configs.not_found")})
		return
	}
	log.Infof("Configuration %q activated", cfg.Name)

	response := gin.H{
		"message":              middleware.T(c, "configs.activated"),
		"configuracion":        cfg,
		"sistema_inicializado": true,
	}
	if _, err := h.analysis.InitializeWith(c.Request.Context(), &cfg.ID); err != nil {
		log.Errorf("Failed to re-initialize pipeline with configuration %q: %v", cfg.Name, err)
		response["sistema_inicializado"] = false
		response["error_inicializacion"] = err.Error()
	}

	c.JSON(http.StatusOK, response)
}

// DeleteConfig removes a configuration. Admin only.
func (h *APIHandler) DeleteConfig(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	cfg, err := h.repo.GetConfigByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "configs.not_found")})
		return
	}
	if cfg.Active {
		c.JSON(http.StatusBadRequest, gin.H{"error": middleware.T(c, "configs.cannot_delete_active")})
		return
	}

	if err := h.repo.DeleteConfig(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
