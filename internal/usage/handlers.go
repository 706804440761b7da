package usage

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/plan"
	"github.com/meterline/meterline/internal/validation"
)

// Handler provides HTTP endpoints for usage queries.
type Handler struct {
	aggregator *Aggregator
}

// NewHandler creates a new usage handler.
func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{aggregator: aggregator}
}

// RegisterRoutes sets up the usage query routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:id/usage", h.GetUsage)
}

// GetUsage handles GET /v1/tenants/:id/usage?metric=&period=.
func (h *Handler) GetUsage(c *gin.Context) {
	tenantID := c.Param("id")

	metric := c.Query("metric")
	if !validation.IsValidMetricName(metric) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_metric", "message": "valid metric query param required"})
		return
	}

	period := plan.Period(c.DefaultQuery("period", string(plan.PeriodMonth)))
	if !plan.ValidPeriod(period) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_period", "message": "period must be hour, day or month"})
		return
	}

	now := time.Now()
	total, err := h.aggregator.Total(c.Request.Context(), tenantID, metric, period, now)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to compute usage"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenantId":    tenantID,
		"metric":      metric,
		"period":      period,
		"periodStart": PeriodStart(period, now),
		"periodEnd":   PeriodEnd(period, now),
		"total":       total,
	})
}
