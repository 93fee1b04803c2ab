package handlers

import (
	"encoding/json"
	"net/http"

	"asistente-coples/internal/api/middleware"
	"asistente-coples/internal/core/models"

	"github.com/gin-gonic/gin"
)

// frameFromMetadata extracts the base64 capture frame stored with an analysis.
func frameFromMetadata(analysis *models.Analysis) string {
	if len(analysis.Metadata) == 0 {
		return ""
	}
	var meta struct {
		Frame string `json:"frame"`
	}
	if err := json.Unmarshal(analysis.Metadata, &meta); err != nil {
		return ""
	}
	return meta.Frame
}

// GetAnalysisImage returns the full capture frame of an analysis as base64.
func (h *APIHandler) GetAnalysisImage(c *gin.Context) {
	analysis, ok := h.loadAuthorizedAnalysis(c)
	if !ok {
		return
	}

	frame := frameFromMetadata(analysis)
	if frame == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "analyses.no_image")})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"image_data":  frame,
		"analisis_id": analysis.AnalysisID,
		"timestamp":   analysis.CapturedAt,
	})
}

// GetAnalysisThumbnail returns the capture frame for listing views. The
// backend stores a single frame per analysis, so the thumbnail serves the
// same data under the listing contract.
func (h *APIHandler) GetAnalysisThumbnail(c *gin.Context) {
	analysis, ok := h.loadAuthorizedAnalysis(c)
	if !ok {
		return
	}

	frame := frameFromMetadata(analysis)
	if frame == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "analyses.no_image")})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"thumbnail_data": frame,
		"analisis_id":    analysis.AnalysisID,
	})
}
