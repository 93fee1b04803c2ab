package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"asistente-coples/internal/api/middleware"
	"asistente-coples/internal/core/models"
	"asistente-coples/internal/db/repository"
	"asistente-coples/internal/services/analysis"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const defaultPageSize = 20

type performAnalysisRequest struct {
	Kind     string `json:"tipo_analisis" binding:"required,oneof=completo clasificacion deteccion_piezas deteccion_defectos segmentacion_defectos segmentacion_piezas"`
	ConfigID *uint  `json:"configuracion_id"`
}

// analysisTimes is the nested timing block of a detail response.
type analysisTimes struct {
	CaptureMS            float64 `json:"captura_ms"`
	ClassificationMS     float64 `json:"clasificacion_ms"`
	PieceDetectionMS     float64 `json:"deteccion_piezas_ms"`
	DefectDetectionMS    float64 `json:"deteccion_defectos_ms"`
	DefectSegmentationMS float64 `json:"segmentacion_defectos_ms"`
	PieceSegmentationMS  float64 `json:"segmentacion_piezas_ms"`
	TotalMS              float64 `json:"total_ms"`
}

// analysisDetail decorates an analysis with the nested timing block and the
// resolved user and configuration names.
type analysisDetail struct {
	*models.Analysis
	Times      analysisTimes `json:"tiempos"`
	Username   string        `json:"usuario_nombre,omitempty"`
	ConfigName string        `json:"configuracion_nombre,omitempty"`
}

func newAnalysisDetail(a *models.Analysis) analysisDetail {
	detail := analysisDetail{
		Analysis: a,
		Times: analysisTimes{
			CaptureMS:            a.CaptureMS,
			ClassificationMS:     a.ClassificationMS,
			PieceDetectionMS:     a.PieceDetectionMS,
			DefectDetectionMS:    a.DefectDetectionMS,
			DefectSegmentationMS: a.DefectSegmentationMS,
			PieceSegmentationMS:  a.PieceSegmentationMS,
			TotalMS:              a.TotalMS,
		},
	}
	if a.User != nil {
		detail.Username = a.User.Username
	}
	if a.Config != nil {
		detail.ConfigName = a.Config.Name
	}
	return detail
}

// filterForUser builds the analysis filter from query parameters. Users
// outside the admin role only ever see their own analyses.
func (h *APIHandler) filterForUser(c *gin.Context) repository.AnalysisFilter {
	filter := repository.AnalysisFilter{
		Kind:     c.Query("tipo_analisis"),
		Status:   c.Query("estado"),
		DateFrom: c.Query("fecha_desde"),
		DateTo:   c.Query("fecha_hasta"),
		Limit:    defaultPageSize,
	}

	if limit, err := strconv.Atoi(c.Query("limite")); err == nil && limit > 0 && limit <= 100 {
		filter.Limit = limit
	}
	if page, err := strconv.Atoi(c.Query("pagina")); err == nil && page > 1 {
		filter.Offset = (page - 1) * filter.Limit
	}

	user := middleware.CurrentUser(c)
	if user != nil && !user.HasRole(h.cfg.Auth.AdminRole) {
		filter.UserID = &user.ID
	}
	return filter
}

// ListAnalyses returns a filtered, paginated listing of analyses.
func (h *APIHandler) ListAnalyses(c *gin.Context) {
	filter := h.filterForUser(c)

	analyses, total, err := h.repo.ListAnalyses(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":      total,
		"resultados": analyses,
	})
}

// ListRecentAnalyses returns the most recent analyses without pagination.
func (h *APIHandler) ListRecentAnalyses(c *gin.Context) {
	filter := h.filterForUser(c)
	filter.Offset = 0
	if filter.Limit <= 0 {
		filter.Limit = 10
	}

	analyses, _, err := h.repo.ListAnalyses(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, analyses)
}

// GetAnalysis returns one analysis with all result rows and nested timings.
func (h *APIHandler) GetAnalysis(c *gin.Context) {
	analysis, ok := h.loadAuthorizedAnalysis(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newAnalysisDetail(analysis))
}

// PerformAnalysis triggers a new analysis run and returns the stored result.
func (h *APIHandler) PerformAnalysis(c *gin.Context) {
	var req performAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := middleware.CurrentUser(c)
	record, err := h.analysis.Perform(c.Request.Context(), req.Kind, req.ConfigID, user)
	if err != nil {
		if errors.Is(err, analysis.ErrConfigNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "configs.not_found")})
			return
		}
		log.Errorf("Analysis request failed: %v", err)
		status := http.StatusBadGateway
		if record == nil {
			status = http.StatusServiceUnavailable
		}
		response := gin.H{"error": err.Error()}
		if record != nil {
			response["analisis"] = newAnalysisDetail(record)
		}
		c.JSON(status, response)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":  middleware.T(c, "analyses.completed"),
		"analisis": newAnalysisDetail(record),
	})
}

// GetAnalysisStatistics returns aggregate outcomes for the dashboard.
func (h *APIHandler) GetAnalysisStatistics(c *gin.Context) {
	var userID *uint
	user := middleware.CurrentUser(c)
	if user != nil && !user.HasRole(h.cfg.Auth.AdminRole) {
		userID = &user.ID
	}

	stats, err := h.analysis.Statistics(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// loadAuthorizedAnalysis fetches the :id analysis and enforces that users
// outside the admin role only access their own rows.
func (h *APIHandler) loadAuthorizedAnalysis(c *gin.Context) (*models.Analysis, bool) {
	id, ok := parseIDParam(c)
	if !ok {
		return nil, false
	}

	analysis, err := h.repo.GetAnalysisByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if analysis == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "analyses.not_found")})
		return nil, false
	}

	user := middleware.CurrentUser(c)
	if user != nil && !user.HasRole(h.cfg.Auth.AdminRole) {
		if analysis.UserID == nil || *analysis.UserID != user.ID {
			c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "analyses.not_found")})
			return nil, false
		}
	}
	return analysis, true
}
