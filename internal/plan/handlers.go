package plan

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the plan catalog.
type Handler struct {
	catalog *Catalog
}

// NewHandler creates a new plan handler.
func NewHandler(catalog *Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// RegisterAdminRoutes sets up the admin-only plan routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/plans", h.PublishPlan)
}

// RegisterPublicRoutes sets up read-only plan routes.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/plans", h.ListPlans)
	r.GET("/plans/:id", h.GetPlan)
}

// PublishPlan handles POST /v1/admin/plans.
func (h *Handler) PublishPlan(c *gin.Context) {
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	p, err := h.catalog.Publish(c.Request.Context(), req)
	if err != nil {
		if err == ErrVersionConflict {
			c.JSON(http.StatusConflict, gin.H{"error": "version_conflict", "message": "concurrent publish, retry"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"plan": p})
}

// GetPlan handles GET /v1/plans/:id.
func (h *Handler) GetPlan(c *gin.Context) {
	p, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == ErrPlanNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "plan not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": p})
}

// ListPlans handles GET /v1/plans.
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.catalog.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}
