package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ListDailyStatistics returns per-day aggregates, optionally date-bounded
// with fecha_desde / fecha_hasta query parameters.
func (h *APIHandler) ListDailyStatistics(c *gin.Context) {
	stats, err := h.repo.ListDailyStatistics(c.Query("fecha_desde"), c.Query("fecha_hasta"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetStatisticsSummary folds the last 30 days into one dashboard summary.
func (h *APIHandler) GetStatisticsSummary(c *gin.Context) {
	now := time.Now()
	from := now.AddDate(0, 0, -30).Format("2006-01-02")

	stats, err := h.repo.ListDailyStatistics(from, now.Format("2006-01-02"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var total, successful, failed, accepted, rejected int
	var totalMSSum float64
	for _, day := range stats {
		total += day.TotalAnalyses
		successful += day.SuccessfulAnalyses
		failed += day.FailedAnalyses
		accepted += day.TotalAccepted
		rejected += day.TotalRejected
		totalMSSum += day.AvgTotalMS * float64(day.TotalAnalyses)
	}

	summary := gin.H{
		"dias":               len(stats),
		"total_analisis":     total,
		"analisis_exitosos":  successful,
		"analisis_con_error": failed,
		"total_aceptados":    accepted,
		"total_rechazados":   rejected,
	}
	if total > 0 {
		summary["tasa_exito"] = float64(successful) / float64(total) * 100
		summary["tiempo_promedio_total_ms"] = totalMSSum / float64(total)
	}
	if classified := accepted + rejected; classified > 0 {
		summary["tasa_aceptacion"] = float64(accepted) / float64(classified) * 100
	}

	c.JSON(http.StatusOK, summary)
}
